package chatsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededSearch(t *testing.T) (*Search, *Store) {
	t.Helper()
	store := NewStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.PrependHistory("room-1", []Message{
		{ID: "m1", RoomID: "room-1", Text: "Quarterly invoice attached", CreatedAt: base},
		{ID: "m2", RoomID: "room-1", Text: "thanks!", CreatedAt: base.Add(time.Minute)},
		{ID: "m3", RoomID: "room-1", Text: "Resending the invoice", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "m4", RoomID: "room-1", Attachments: []Attachment{{ID: "a1", FileName: "invoice-final.pdf"}}, CreatedAt: base.Add(3 * time.Minute)},
	})
	s := NewSearch(store)
	t.Cleanup(s.Close)
	return s, store
}

func TestSearchMatchesInDisplayOrder(t *testing.T) {
	s, _ := seededSearch(t)

	s.SetQuery("room-1", "Invoice")

	assert.Equal(t, []string{"m1", "m3", "m4"}, s.Matches(), "case-insensitive, filenames included")
	assert.Equal(t, "m1", s.ActiveMatch())
}

func TestSearchNavigationWraps(t *testing.T) {
	s, _ := seededSearch(t)
	s.SetQuery("room-1", "invoice")

	assert.Equal(t, "m3", s.Next())
	assert.Equal(t, "m4", s.Next())
	assert.Equal(t, "m1", s.Next(), "Next wraps past the last match")
	assert.Equal(t, "m4", s.Prev(), "Prev wraps before the first match")
}

func TestSearchEmptyQueryClears(t *testing.T) {
	s, _ := seededSearch(t)
	s.SetQuery("room-1", "invoice")
	require.NotEmpty(t, s.Matches())

	s.SetQuery("room-1", "")

	assert.Empty(t, s.Matches())
	assert.Equal(t, "", s.ActiveMatch())
	assert.Equal(t, "", s.Next(), "navigation is a no-op without matches")
	assert.Equal(t, "", s.Prev())
}

func TestSearchNoMatches(t *testing.T) {
	s, _ := seededSearch(t)
	s.SetQuery("room-1", "zebra")

	assert.Empty(t, s.Matches())
	assert.Equal(t, "", s.Next())
}

func TestSearchSkipsDeletedMessages(t *testing.T) {
	s, store := seededSearch(t)
	store.Tombstone("room-1", "m3", time.Now())

	s.SetQuery("room-1", "invoice")

	assert.Equal(t, []string{"m1", "m4"}, s.Matches())
}

func TestSearchFreshQueryStartsAtFirstMatch(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.PrependHistory("room-1", []Message{
		{ID: "m0", RoomID: "room-1", Text: "beta", CreatedAt: base},
		{ID: "m1", RoomID: "room-1", Text: "alpha beta", CreatedAt: base.Add(time.Minute)},
	})
	s := NewSearch(store)
	t.Cleanup(s.Close)

	s.SetQuery("room-1", "alpha")
	require.Equal(t, []string{"m1"}, s.Matches())

	// The new result set contains the old query's only match at index 1;
	// navigation must still restart at the first hit.
	s.SetQuery("room-1", "beta")

	assert.Equal(t, []string{"m0", "m1"}, s.Matches())
	assert.Equal(t, 0, s.ActiveIndex())
	assert.Equal(t, "m0", s.ActiveMatch())
}

func TestSearchRecomputesOnNewMessage(t *testing.T) {
	s, store := seededSearch(t)
	s.SetQuery("room-1", "invoice")
	require.Len(t, s.Matches(), 3)

	store.Append("room-1", Message{
		ID: "m5", RoomID: "room-1", Text: "invoice paid",
		CreatedAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, []string{"m1", "m3", "m4", "m5"}, s.Matches())
}

func TestSearchPreservesActiveMatchAcrossRecompute(t *testing.T) {
	s, store := seededSearch(t)
	s.SetQuery("room-1", "invoice")
	s.Next() // active: m3

	store.Append("room-1", Message{
		ID: "m0", RoomID: "room-1", Text: "old invoice found",
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, "m3", s.ActiveMatch(), "active match survives by id")
	assert.Equal(t, []string{"m0", "m1", "m3", "m4"}, s.Matches())
}

func TestSearchIgnoresOtherRooms(t *testing.T) {
	s, store := seededSearch(t)
	s.SetQuery("room-1", "invoice")
	require.Len(t, s.Matches(), 3)

	store.Append("room-2", Message{
		ID: "x1", RoomID: "room-2", Text: "invoice elsewhere", CreatedAt: time.Now(),
	})

	assert.Len(t, s.Matches(), 3)
}

func TestSearchRoomChangeResets(t *testing.T) {
	s, store := seededSearch(t)
	store.Append("room-2", Message{ID: "x1", RoomID: "room-2", Text: "invoice here too", CreatedAt: time.Now()})

	s.SetQuery("room-1", "invoice")
	s.Next()
	s.SetQuery("room-2", "invoice")

	assert.Equal(t, []string{"x1"}, s.Matches())
	assert.Equal(t, 0, s.ActiveIndex())
}
