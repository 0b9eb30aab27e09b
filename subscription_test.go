package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubscriber(t *testing.T) (*Subscriber, *Store, *Presence, *fakeDialer, *Manager) {
	t.Helper()
	d := &fakeDialer{}
	m := testManager(d)
	t.Cleanup(m.Destroy)

	store := NewStore()
	presence := NewPresence(PresenceConfig{
		SelfID: "me",
		Logger: nopLogger{},
		Send:   func(ctx context.Context, p TypingPayload) error { return nil },
	})
	sub := NewSubscriber(m, store, presence, nopLogger{})
	m.Connect(context.Background(), "tok-a")
	return sub, store, presence, d, m
}

// ackJoins answers every join command on the socket until the test ends.
func ackJoins(t *testing.T, sock *fakeSocket, done <-chan struct{}) {
	t.Helper()
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, cmd := range sock.sentCommands() {
				if cmd.Event == CommandJoin && cmd.RequestID != "" {
					sock.push(EventAck, AckPayload{RequestID: cmd.RequestID, OK: true})
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func TestSetActiveRoomJoinsAndLeaves(t *testing.T) {
	sub, _, _, d, _ := testSubscriber(t)
	sock := d.last()

	done := make(chan struct{})
	defer close(done)
	ackJoins(t, sock, done)

	require.NoError(t, sub.SetActiveRoom(context.Background(), "room-1"))
	assert.Equal(t, "room-1", sub.ActiveRoom())

	cmds := sock.sentCommands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, CommandJoin, cmds[0].Event)
}

func TestSetActiveRoomLeavesPrevious(t *testing.T) {
	sub, _, _, d, _ := testSubscriber(t)
	sock := d.last()

	done := make(chan struct{})
	defer close(done)
	ackJoins(t, sock, done)
	require.NoError(t, sub.SetActiveRoom(context.Background(), "room-1"))

	done2 := make(chan struct{})
	defer close(done2)
	go func() {
		for {
			select {
			case <-done2:
				return
			default:
			}
			cmds := sock.sentCommands()
			if len(cmds) >= 3 && cmds[2].Event == CommandJoin {
				sock.push(EventAck, AckPayload{RequestID: cmds[2].RequestID, OK: true})
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	require.NoError(t, sub.SetActiveRoom(context.Background(), "room-2"))

	cmds := sock.sentCommands()
	require.Len(t, cmds, 3)
	assert.Equal(t, CommandLeave, cmds[1].Event)
	assert.Equal(t, "room-2", sub.ActiveRoom())
}

func TestJoinRefusedIsNonFatal(t *testing.T) {
	sub, _, _, d, _ := testSubscriber(t)
	sock := d.last()

	go func() {
		for {
			for _, cmd := range sock.sentCommands() {
				if cmd.Event == CommandJoin {
					sock.push(EventAck, AckPayload{RequestID: cmd.RequestID, OK: false, Error: "forbidden"})
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	assert.NoError(t, sub.SetActiveRoom(context.Background(), "room-1"))
}

func TestMessageNewUpdatesPreviewAlways(t *testing.T) {
	_, store, _, d, _ := testSubscriber(t)
	sock := d.last()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// No room is active, so only the preview should move.
	sock.push(EventMessageNew, MessageNewPayload{
		RoomID:  "room-9",
		Message: Message{ID: "m1", RoomID: "room-9", Text: "hi there", CreatedAt: at},
	})

	waitUntil(t, time.Second, func() bool {
		r, ok := store.Room("room-9")
		return ok && r.LastMessagePreview == "hi there"
	})
	assert.Empty(t, store.Messages("room-9"), "inactive room must not accumulate bodies")
}

func TestMessageNewAppendsForActiveRoom(t *testing.T) {
	sub, store, _, d, _ := testSubscriber(t)
	sock := d.last()

	done := make(chan struct{})
	defer close(done)
	ackJoins(t, sock, done)
	require.NoError(t, sub.SetActiveRoom(context.Background(), "room-1"))

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sock.push(EventMessageNew, MessageNewPayload{
		RoomID:  "room-1",
		Message: Message{ID: "m1", RoomID: "room-1", Text: "hello", CreatedAt: at},
	})
	// Duplicate delivery after a reconnect replay.
	sock.push(EventMessageNew, MessageNewPayload{
		RoomID:  "room-1",
		Message: Message{ID: "m1", RoomID: "room-1", Text: "hello", CreatedAt: at},
	})

	waitUntil(t, time.Second, func() bool { return len(store.Messages("room-1")) == 1 })
	time.Sleep(5 * time.Millisecond)
	assert.Len(t, store.Messages("room-1"), 1)
}

func TestMalformedEventsDropped(t *testing.T) {
	_, store, _, d, _ := testSubscriber(t)
	sock := d.last()

	sock.push(EventMessageNew, map[string]any{"roomId": ""})
	sock.push(EventMessageRead, map[string]any{"roomId": "room-1"})
	sock.push(EventSystemDeleted, map[string]any{"roomId": "room-1", "messageIds": []string{}})

	// A well-formed event afterwards proves the loop survived.
	sock.push(EventMessageNew, MessageNewPayload{
		RoomID:  "room-1",
		Message: Message{ID: "m1", RoomID: "room-1", Text: "ok", CreatedAt: time.Now()},
	})

	waitUntil(t, time.Second, func() bool {
		r, ok := store.Room("room-1")
		return ok && r.LastMessagePreview == "ok"
	})
}

func TestReadReceiptRouted(t *testing.T) {
	_, store, _, d, _ := testSubscriber(t)
	sock := d.last()
	store.SeedRooms([]Room{{ID: "room-1", Participants: []Participant{{UserID: "me"}, {UserID: "u2"}}}})

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sock.push(EventMessageRead, ReadReceiptPayload{
		RoomID: "room-1", UserID: "u2", MessageID: "m07", LastReadAt: at,
	})

	waitUntil(t, time.Second, func() bool {
		r, _ := store.Room("room-1")
		return r.Participants[1].LastReadMessageID == "m07"
	})
}

func TestPinUnpinRouted(t *testing.T) {
	_, store, _, d, _ := testSubscriber(t)
	sock := d.last()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	sock.push(EventPinned, PinnedPayload{
		RoomID:  "room-1",
		Message: Message{ID: "m1", RoomID: "room-1", Text: "pin me", CreatedAt: at},
	})
	waitUntil(t, time.Second, func() bool {
		_, ok := store.Pinned("room-1")
		return ok
	})

	sock.push(EventUnpinned, UnpinnedPayload{RoomID: "room-1"})
	waitUntil(t, time.Second, func() bool {
		_, ok := store.Pinned("room-1")
		return !ok
	})
}

func TestTypingRouted(t *testing.T) {
	_, _, presence, d, _ := testSubscriber(t)
	sock := d.last()

	sock.push(EventTyping, TypingPayload{RoomID: "room-1", UserID: "u2", UserName: "Ann", IsTyping: true})

	waitUntil(t, time.Second, func() bool { return len(presence.Typers("room-1")) == 1 })
}

func TestPreviewText(t *testing.T) {
	cases := []struct {
		name string
		m    Message
		want string
	}{
		{"plain text", Message{Text: "hello"}, "hello"},
		{"attachment only", Message{Attachments: []Attachment{{FileName: "report.pdf"}}}, "report.pdf"},
		{"empty", Message{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, previewText(tc.m))
		})
	}
}
