package chatsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusProgression(t *testing.T) {
	room := Room{
		ID:   "room-1",
		Type: RoomGroup,
		Participants: []Participant{
			{UserID: "me"},
			{UserID: "u2"},
			{UserID: "u3"},
		},
	}
	m := Message{ID: "m10", AuthorID: "me"}

	assert.Equal(t, StatusSent, Status(m, room, "me"), "nobody read yet")

	room.Participants[1].LastReadMessageID = "m10"
	assert.Equal(t, StatusReadSome, Status(m, room, "me"))

	room.Participants[2].LastReadMessageID = "m12"
	assert.Equal(t, StatusReadAll, Status(m, room, "me"))
}

func TestStatusCursorComparison(t *testing.T) {
	room := Room{
		Participants: []Participant{
			{UserID: "me"},
			{UserID: "u2", LastReadMessageID: "m05"},
		},
	}

	// Cursor before the message: unread. At or after: read.
	assert.Equal(t, StatusSent, Status(Message{ID: "m07", AuthorID: "me"}, room, "me"))
	assert.Equal(t, StatusReadAll, Status(Message{ID: "m05", AuthorID: "me"}, room, "me"))
	assert.Equal(t, StatusReadAll, Status(Message{ID: "m03", AuthorID: "me"}, room, "me"))
}

func TestStatusOnlyForOwnMessages(t *testing.T) {
	room := Room{
		Participants: []Participant{
			{UserID: "me", LastReadMessageID: "m99"},
			{UserID: "u2", LastReadMessageID: "m99"},
		},
	}
	m := Message{ID: "m10", AuthorID: "u2"}

	assert.Equal(t, StatusSent, Status(m, room, "me"))
}

func TestStatusNoOtherParticipants(t *testing.T) {
	room := Room{Participants: []Participant{{UserID: "me"}}}
	m := Message{ID: "m10", AuthorID: "me"}

	assert.Equal(t, StatusSent, Status(m, room, "me"))
}

func TestStatusIgnoresEmptyCursors(t *testing.T) {
	room := Room{
		Participants: []Participant{
			{UserID: "me"},
			{UserID: "u2"},
		},
	}
	m := Message{ID: "m10", AuthorID: "me"}

	assert.Equal(t, StatusSent, Status(m, room, "me"))
}
