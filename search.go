package chatsync

import (
	"strings"
	"sync"
)

// ============================================================================
// In-Room Search
// ============================================================================

// Search matches messages in one room against a text query and keeps the
// match list current as the store changes. Matches are message ids in
// display order; one of them is the active match for navigation.
type Search struct {
	store *Store

	mu      sync.Mutex
	roomID  string
	query   string
	matches []string
	active  int

	unsub func()
}

// NewSearch creates a search bound to the store. Close releases its store
// subscription.
func NewSearch(store *Store) *Search {
	s := &Search{store: store}
	s.unsub = store.Subscribe(func(ch Change) {
		if ch.Kind != ChangeMessages {
			return
		}
		s.mu.Lock()
		relevant := s.roomID != "" && s.roomID == ch.RoomID && s.query != ""
		s.mu.Unlock()
		if relevant {
			s.recompute()
		}
	})
	return s
}

// Close releases the store subscription.
func (s *Search) Close() {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
}

// SetQuery switches the searched room and query. An empty query clears the
// match state. A fresh query always starts navigation at the first hit;
// only store-change recomputes preserve the active match by id.
func (s *Search) SetQuery(roomID, query string) {
	s.mu.Lock()
	s.roomID = roomID
	s.query = query
	s.matches = nil
	s.active = 0
	s.mu.Unlock()
	if query == "" {
		return
	}
	s.recompute()
}

// matchesQuery reports whether a message matches a lowercased query, by
// text or by attachment filename. Deleted messages never match.
func matchesQuery(m Message, query string) bool {
	if m.Deleted() {
		return false
	}
	if m.Text != "" {
		return strings.Contains(strings.ToLower(m.Text), query)
	}
	for _, a := range m.Attachments {
		if strings.Contains(strings.ToLower(a.FileName), query) {
			return true
		}
	}
	return false
}

// recompute rebuilds the match list from the store. The active match is
// preserved by id when it survives the rebuild, otherwise reset to the
// first hit.
func (s *Search) recompute() {
	s.mu.Lock()
	roomID := s.roomID
	query := strings.ToLower(s.query)
	prevActive := ""
	if s.active < len(s.matches) {
		prevActive = s.matches[s.active]
	}
	s.mu.Unlock()

	if roomID == "" || query == "" {
		return
	}
	msgs := s.store.Messages(roomID)
	matches := make([]string, 0, 8)
	for _, m := range msgs {
		if matchesQuery(m, query) {
			matches = append(matches, m.ID)
		}
	}

	s.mu.Lock()
	if s.roomID == roomID && strings.ToLower(s.query) == query {
		s.matches = matches
		s.active = 0
		for i, id := range matches {
			if id == prevActive {
				s.active = i
				break
			}
		}
	}
	s.mu.Unlock()
}

// Matches returns the matching message ids in display order.
func (s *Search) Matches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.matches...)
}

// ActiveIndex returns the zero-based index of the active match.
func (s *Search) ActiveIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ActiveMatch returns the active match's message id, or "" when there are
// no matches.
func (s *Search) ActiveMatch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.matches) == 0 {
		return ""
	}
	return s.matches[s.active]
}

// Next advances the active match, wrapping past the last hit. Returns the
// new active id, or "" when there are no matches.
func (s *Search) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.matches) == 0 {
		return ""
	}
	s.active = (s.active + 1) % len(s.matches)
	return s.matches[s.active]
}

// Prev steps back through the matches, wrapping before the first hit.
func (s *Search) Prev() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.matches) == 0 {
		return ""
	}
	s.active = (s.active - 1 + len(s.matches)) % len(s.matches)
	return s.matches[s.active]
}
