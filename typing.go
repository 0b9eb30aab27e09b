package chatsync

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// Typing Presence
// ============================================================================

// TypingEntry is one remote user currently typing in a room.
type TypingEntry struct {
	UserID     string
	UserName   string
	LastSeenAt time.Time
}

// PresenceConfig configures the typing presence tracker.
type PresenceConfig struct {
	// SelfID and SelfName identify the current user. Inbound typing events
	// from SelfID are ignored.
	SelfID   string
	SelfName string

	// Throttle is the minimum gap between outbound typing signals per room.
	Throttle time.Duration
	// Stale is how long a remote typer stays visible without a refresh.
	Stale time.Duration
	// SweepEvery is the eviction check interval.
	SweepEvery time.Duration

	// Send delivers an outbound typing payload, normally over the socket.
	Send func(ctx context.Context, p TypingPayload) error

	Logger Logger
}

func (c *PresenceConfig) defaults() {
	if c.Throttle == 0 {
		c.Throttle = 2 * time.Second
	}
	if c.Stale == 0 {
		c.Stale = 8 * time.Second
	}
	if c.SweepEvery == 0 {
		c.SweepEvery = 3 * time.Second
	}
	if c.Logger == nil {
		c.Logger = stdLogger{}
	}
}

// Presence tracks who is typing in each room and throttles the current
// user's outbound typing signals.
type Presence struct {
	cfg PresenceConfig
	now func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
	typers   map[string]map[string]TypingEntry
	stop     chan struct{}
}

// NewPresence creates a presence tracker. Call Start to run stale-typer
// eviction in the background.
func NewPresence(cfg PresenceConfig) *Presence {
	cfg.defaults()
	return &Presence{
		cfg:      cfg,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
		typers:   make(map[string]map[string]TypingEntry),
	}
}

// Start launches the background eviction sweep.
func (p *Presence) Start() {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(p.cfg.SweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.evictStale(p.now())
			}
		}
	}()
}

// Stop halts the eviction sweep.
func (p *Presence) Stop() {
	p.mu.Lock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.mu.Unlock()
}

// NotifyTyping signals that the current user is typing in roomID. Repeated
// calls within the throttle window are dropped; the return value reports
// whether a signal actually went out.
func (p *Presence) NotifyTyping(ctx context.Context, roomID string) (bool, error) {
	now := p.now()
	p.mu.Lock()
	last, seen := p.lastSent[roomID]
	if seen && now.Sub(last) < p.cfg.Throttle {
		p.mu.Unlock()
		return false, nil
	}
	p.lastSent[roomID] = now
	p.mu.Unlock()

	err := p.cfg.Send(ctx, TypingPayload{
		RoomID:   roomID,
		UserID:   p.cfg.SelfID,
		UserName: p.cfg.SelfName,
		IsTyping: true,
	})
	if err != nil {
		// A failed signal must not consume the throttle window.
		p.mu.Lock()
		if t, ok := p.lastSent[roomID]; ok && t.Equal(now) {
			delete(p.lastSent, roomID)
		}
		p.mu.Unlock()
		return false, err
	}
	return true, nil
}

// StopTyping signals that the current user stopped typing. It is never
// throttled and resets the throttle window so the next keystroke signals
// immediately.
func (p *Presence) StopTyping(ctx context.Context, roomID string) error {
	p.mu.Lock()
	delete(p.lastSent, roomID)
	p.mu.Unlock()
	return p.cfg.Send(ctx, TypingPayload{
		RoomID:   roomID,
		UserID:   p.cfg.SelfID,
		UserName: p.cfg.SelfName,
		IsTyping: false,
	})
}

// HandleEvent applies an inbound typing payload. Events from the current
// user are ignored.
func (p *Presence) HandleEvent(ev TypingPayload) {
	if ev.UserID == "" || ev.RoomID == "" || ev.UserID == p.cfg.SelfID {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	room := p.typers[ev.RoomID]
	if ev.IsTyping {
		if room == nil {
			room = make(map[string]TypingEntry)
			p.typers[ev.RoomID] = room
		}
		room[ev.UserID] = TypingEntry{
			UserID:     ev.UserID,
			UserName:   ev.UserName,
			LastSeenAt: p.now(),
		}
		return
	}
	if room != nil {
		delete(room, ev.UserID)
		if len(room) == 0 {
			delete(p.typers, ev.RoomID)
		}
	}
}

// LeaveRoom forgets typers and the throttle window for a room, used when
// the active room changes.
func (p *Presence) LeaveRoom(roomID string) {
	p.mu.Lock()
	delete(p.typers, roomID)
	delete(p.lastSent, roomID)
	p.mu.Unlock()
}

// Typers returns who is currently typing in a room.
func (p *Presence) Typers(roomID string) []TypingEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	room := p.typers[roomID]
	out := make([]TypingEntry, 0, len(room))
	for _, e := range room {
		out = append(out, e)
	}
	return out
}

// Label renders the typing indicator for a room: empty when nobody types,
// the user's name for one typer, a generic line for several.
func (p *Presence) Label(roomID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	room := p.typers[roomID]
	switch len(room) {
	case 0:
		return ""
	case 1:
		for _, e := range room {
			name := e.UserName
			if name == "" {
				name = e.UserID
			}
			return name + " is typing…"
		}
	}
	return "Several people are typing…"
}

func (p *Presence) evictStale(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for roomID, room := range p.typers {
		for userID, e := range room {
			if now.Sub(e.LastSeenAt) >= p.cfg.Stale {
				delete(room, userID)
			}
		}
		if len(room) == 0 {
			delete(p.typers, roomID)
		}
	}
}
