package chatsync

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Change Notifications
// ============================================================================

// ChangeKind classifies what part of the store a Change touched.
type ChangeKind string

const (
	ChangeRooms    ChangeKind = "rooms"
	ChangeMessages ChangeKind = "messages"
	ChangeReceipts ChangeKind = "receipts"
)

// Change describes a store mutation delivered to subscribers.
type Change struct {
	Kind   ChangeKind
	RoomID string
}

// ============================================================================
// Store
// ============================================================================

// Store holds rooms and per-room message lists. All reads return copies;
// all mutations go through methods that keep message lists dedup'd and
// sorted by (CreatedAt, ID) and notify subscribers after the lock drops.
type Store struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	messages map[string][]Message
	subs     map[int]func(Change)
	nextSub  int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		rooms:    make(map[string]*Room),
		messages: make(map[string][]Message),
		subs:     make(map[int]func(Change)),
	}
}

// Subscribe registers a change listener and returns its cancel func.
// Listeners run synchronously after each mutation, outside the store lock.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(ch Change) {
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

// ============================================================================
// Reducers
// ============================================================================

// insertMessage adds m to a sorted list, keeping order and rejecting
// duplicate ids. Reports whether the list changed.
func insertMessage(list []Message, m Message) ([]Message, bool) {
	for _, existing := range list {
		if existing.ID == m.ID {
			return list, false
		}
	}
	i := sort.Search(len(list), func(i int) bool {
		return messageLess(m, list[i])
	})
	list = append(list, Message{})
	copy(list[i+1:], list[i:])
	list[i] = m
	return list, true
}

// mergeMessages folds a batch into a sorted list, deduplicating by id.
// Reports how many messages were actually added.
func mergeMessages(list []Message, batch []Message) ([]Message, int) {
	seen := make(map[string]struct{}, len(list))
	for _, m := range list {
		seen[m.ID] = struct{}{}
	}
	added := 0
	for _, m := range batch {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		list = append(list, m)
		added++
	}
	if added > 0 {
		sort.Slice(list, func(i, j int) bool { return messageLess(list[i], list[j]) })
	}
	return list, added
}

func removeByID(list []Message, id string) ([]Message, bool) {
	for i, m := range list {
		if m.ID == id {
			return append(list[:i], list[i+1:]...), true
		}
	}
	return list, false
}

// ============================================================================
// Rooms
// ============================================================================

// SeedRooms replaces the room set, typically from the initial REST fetch.
func (s *Store) SeedRooms(rooms []Room) {
	s.mu.Lock()
	s.rooms = make(map[string]*Room, len(rooms))
	for i := range rooms {
		r := rooms[i]
		s.rooms[r.ID] = &r
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeRooms})
}

// Rooms returns all rooms ordered by most recent activity.
func (s *Store) Rooms() []Room {
	s.mu.Lock()
	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, *r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Room returns a copy of one room.
func (s *Store) Room(id string) (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, false
	}
	return *r, true
}

// UpsertPreview updates a room's last-message preview, creating a
// placeholder room when the id is unknown.
func (s *Store) UpsertPreview(roomID, preview string, at time.Time) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		r = &Room{ID: roomID, Type: RoomGroup}
		s.rooms[roomID] = r
	}
	r.LastMessagePreview = preview
	r.LastMessageAt = at
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeRooms, RoomID: roomID})
}

// ============================================================================
// Messages
// ============================================================================

// Messages returns a copy of a room's message list in display order.
func (s *Store) Messages(roomID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message{}, s.messages[roomID]...)
}

// Append inserts one message in sorted position. Duplicate ids are dropped
// and reported as false.
func (s *Store) Append(roomID string, m Message) bool {
	s.mu.Lock()
	list, changed := insertMessage(s.messages[roomID], m)
	if changed {
		s.messages[roomID] = list
	}
	s.mu.Unlock()
	if changed {
		s.notify(Change{Kind: ChangeMessages, RoomID: roomID})
	}
	return changed
}

// PrependHistory merges an older history page into the room. Returns the
// number of messages actually added after dedup.
func (s *Store) PrependHistory(roomID string, msgs []Message) int {
	s.mu.Lock()
	list, added := mergeMessages(s.messages[roomID], msgs)
	if added > 0 {
		s.messages[roomID] = list
	}
	s.mu.Unlock()
	if added > 0 {
		s.notify(Change{Kind: ChangeMessages, RoomID: roomID})
	}
	return added
}

// InsertLocal adds an optimistic local message and returns its temporary id.
func (s *Store) InsertLocal(m Message) string {
	localID := "local-" + uuid.NewString()
	m.ID = localID
	s.mu.Lock()
	s.messages[m.RoomID] = append(s.messages[m.RoomID], m)
	sort.Slice(s.messages[m.RoomID], func(i, j int) bool {
		return messageLess(s.messages[m.RoomID][i], s.messages[m.RoomID][j])
	})
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, RoomID: m.RoomID})
	return localID
}

// Reconcile replaces an optimistic local message with its persisted copy.
// If the socket echo already delivered the server message, the local copy is
// simply dropped.
func (s *Store) Reconcile(roomID, localID string, server Message) {
	s.mu.Lock()
	list, _ := removeByID(s.messages[roomID], localID)
	list, _ = insertMessage(list, server)
	s.messages[roomID] = list
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, RoomID: roomID})
}

// DropLocal removes an optimistic message that failed to persist.
func (s *Store) DropLocal(roomID, localID string) {
	s.mu.Lock()
	list, removed := removeByID(s.messages[roomID], localID)
	if removed {
		s.messages[roomID] = list
	}
	s.mu.Unlock()
	if removed {
		s.notify(Change{Kind: ChangeMessages, RoomID: roomID})
	}
}

// ApplyEdit replaces a message in place, matched by id.
func (s *Store) ApplyEdit(roomID string, m Message) bool {
	s.mu.Lock()
	applied := false
	list := s.messages[roomID]
	for i := range list {
		if list[i].ID == m.ID {
			list[i] = m
			applied = true
			break
		}
	}
	s.mu.Unlock()
	if applied {
		s.notify(Change{Kind: ChangeMessages, RoomID: roomID})
	}
	return applied
}

// SetPinned marks m as the room's single pinned message, clearing any
// previous pin, and upserts m into the list.
func (s *Store) SetPinned(roomID string, m Message) {
	m.IsPinned = true
	s.mu.Lock()
	list := s.messages[roomID]
	for i := range list {
		if list[i].ID == m.ID {
			list[i] = m
		} else if list[i].IsPinned {
			list[i].IsPinned = false
		}
	}
	list, _ = insertMessage(list, m)
	s.messages[roomID] = list
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, RoomID: roomID})
}

// ClearPinned unpins whatever message is pinned in the room.
func (s *Store) ClearPinned(roomID string) {
	s.mu.Lock()
	changed := false
	list := s.messages[roomID]
	for i := range list {
		if list[i].IsPinned {
			list[i].IsPinned = false
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify(Change{Kind: ChangeMessages, RoomID: roomID})
	}
}

// Pinned returns the room's pinned message, if any.
func (s *Store) Pinned(roomID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[roomID] {
		if m.IsPinned {
			return m, true
		}
	}
	return Message{}, false
}

// Tombstone marks a message as deleted, keeping it in place so replies and
// scroll positions stay stable.
func (s *Store) Tombstone(roomID, messageID string, at time.Time) bool {
	s.mu.Lock()
	applied := false
	list := s.messages[roomID]
	for i := range list {
		if list[i].ID == messageID {
			t := at
			list[i].DeletedAt = &t
			list[i].Text = ""
			list[i].Attachments = nil
			applied = true
			break
		}
	}
	s.mu.Unlock()
	if applied {
		s.notify(Change{Kind: ChangeMessages, RoomID: roomID})
	}
	return applied
}

// RemoveMessages hard-removes a batch of messages, used for system purges.
// Unknown ids are ignored. Returns the number removed.
func (s *Store) RemoveMessages(roomID string, ids []string) int {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	list := s.messages[roomID]
	kept := list[:0]
	removed := 0
	for _, m := range list {
		if _, gone := drop[m.ID]; gone {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.messages[roomID] = kept
	s.mu.Unlock()
	if removed > 0 {
		s.notify(Change{Kind: ChangeMessages, RoomID: roomID})
	}
	return removed
}

// ============================================================================
// Read Cursors
// ============================================================================

// ApplyRead advances a participant's read cursor. Receipts for unknown rooms
// or participants are ignored, as are cursor regressions: a receipt older
// than the stored cursor never moves it backwards.
func (s *Store) ApplyRead(roomID, userID, messageID string, at time.Time) bool {
	s.mu.Lock()
	applied := false
	r, ok := s.rooms[roomID]
	if ok {
		for i := range r.Participants {
			p := &r.Participants[i]
			if p.UserID != userID {
				continue
			}
			if p.LastReadMessageID == "" || idAtOrAfter(messageID, p.LastReadMessageID) {
				p.LastReadMessageID = messageID
				p.LastReadAt = at
				applied = true
			}
			break
		}
	}
	s.mu.Unlock()
	if applied {
		s.notify(Change{Kind: ChangeReceipts, RoomID: roomID})
	}
	return applied
}
