package chatsync

import (
	"context"
	"encoding/json"
	"sync"
)

// ============================================================================
// Room Subscription
// ============================================================================

// Subscriber routes inbound socket events into the store and tracks which
// room the user is actively viewing. Events for other rooms still update
// previews; full message bodies are only appended for the active room.
type Subscriber struct {
	mgr      *Manager
	store    *Store
	presence *Presence
	logger   Logger

	mu     sync.Mutex
	active string
}

// NewSubscriber wires the socket event handlers. Register it once, before
// Connect, so no events race past it.
func NewSubscriber(mgr *Manager, store *Store, presence *Presence, logger Logger) *Subscriber {
	if logger == nil {
		logger = stdLogger{}
	}
	s := &Subscriber{mgr: mgr, store: store, presence: presence, logger: logger}
	mgr.On(EventMessageNew, s.onMessageNew)
	mgr.On(EventMessageRead, s.onMessageRead)
	mgr.On(EventPinned, s.onPinned)
	mgr.On(EventUnpinned, s.onUnpinned)
	mgr.On(EventSystemDeleted, s.onSystemDeleted)
	mgr.On(EventTyping, s.onTyping)
	return s
}

// ActiveRoom returns the room currently joined, or "".
func (s *Subscriber) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActiveRoom leaves the previous room and joins roomID, waiting for the
// server's join acknowledgement. Leaving is best-effort. A failed or refused
// join is logged but not fatal: previews keep flowing either way.
func (s *Subscriber) SetActiveRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	prev := s.active
	if prev == roomID {
		s.mu.Unlock()
		return nil
	}
	s.active = roomID
	s.mu.Unlock()

	if prev != "" {
		if s.presence != nil {
			// Clear our typing indicator for remote peers before leaving.
			if err := s.presence.StopTyping(ctx, prev); err != nil {
				s.logger.Printf("chatsync: stop typing %s: %v", prev, err)
			}
			s.presence.LeaveRoom(prev)
		}
		if err := s.mgr.Send(ctx, &Command{Event: CommandLeave, Payload: RoomRef{RoomID: prev}}); err != nil {
			s.logger.Printf("chatsync: leave %s: %v", prev, err)
		}
	}
	if roomID == "" {
		return nil
	}

	ack, err := s.mgr.Request(ctx, CommandJoin, RoomRef{RoomID: roomID})
	if err != nil {
		s.logger.Printf("chatsync: join %s: %v", roomID, err)
		return nil
	}
	if !ack.OK {
		s.logger.Printf("chatsync: join %s refused: %s", roomID, ack.Error)
	}
	return nil
}

// Close leaves the active room.
func (s *Subscriber) Close(ctx context.Context) {
	s.SetActiveRoom(ctx, "")
}

// ============================================================================
// Event Handlers
// ============================================================================

// previewText derives a room list preview from a message: its text, or the
// first attachment's filename.
func previewText(m Message) string {
	if m.Text != "" {
		text := []rune(m.Text)
		if len(text) > 80 {
			return string(text[:80]) + "…"
		}
		return m.Text
	}
	if len(m.Attachments) > 0 {
		return m.Attachments[0].FileName
	}
	return ""
}

func (s *Subscriber) onMessageNew(env Envelope) {
	p, err := decodeJSON[MessageNewPayload](env.Payload)
	if err != nil || p.RoomID == "" || p.Message.ID == "" {
		s.logger.Printf("chatsync: dropping malformed %s event", env.Event)
		return
	}
	s.store.UpsertPreview(p.RoomID, previewText(p.Message), p.Message.CreatedAt)
	if s.ActiveRoom() == p.RoomID {
		s.store.Append(p.RoomID, p.Message)
	}
}

func (s *Subscriber) onMessageRead(env Envelope) {
	p, err := decodeJSON[ReadReceiptPayload](env.Payload)
	if err != nil || p.RoomID == "" || p.UserID == "" || p.MessageID == "" {
		s.logger.Printf("chatsync: dropping malformed %s event", env.Event)
		return
	}
	s.store.ApplyRead(p.RoomID, p.UserID, p.MessageID, p.LastReadAt)
}

func (s *Subscriber) onPinned(env Envelope) {
	p, err := decodeJSON[PinnedPayload](env.Payload)
	if err != nil || p.RoomID == "" || p.Message.ID == "" {
		s.logger.Printf("chatsync: dropping malformed %s event", env.Event)
		return
	}
	s.store.SetPinned(p.RoomID, p.Message)
}

func (s *Subscriber) onUnpinned(env Envelope) {
	p, err := decodeJSON[UnpinnedPayload](env.Payload)
	if err != nil || p.RoomID == "" {
		s.logger.Printf("chatsync: dropping malformed %s event", env.Event)
		return
	}
	s.store.ClearPinned(p.RoomID)
}

func (s *Subscriber) onSystemDeleted(env Envelope) {
	p, err := decodeJSON[SystemDeletedPayload](env.Payload)
	if err != nil || p.RoomID == "" || len(p.MessageIDs) == 0 {
		s.logger.Printf("chatsync: dropping malformed %s event", env.Event)
		return
	}
	s.store.RemoveMessages(p.RoomID, p.MessageIDs)
}

func (s *Subscriber) onTyping(env Envelope) {
	if s.presence == nil {
		return
	}
	var p TypingPayload
	if json.Unmarshal(env.Payload, &p) != nil {
		return
	}
	s.presence.HandleEvent(p)
}
