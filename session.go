package chatsync

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ============================================================================
// Session
// ============================================================================

// SessionConfig wires a full chat session.
type SessionConfig struct {
	// BaseURL is the HTTP API root. SocketURL is derived from it when empty.
	BaseURL   string
	SocketURL string

	// UserID and UserName identify the current user for receipts and typing.
	UserID   string
	UserName string

	Logger     Logger
	HTTPClient *http.Client
	Dialer     Dialer

	TypingThrottle    time.Duration
	HeartbeatInterval time.Duration
	AckTimeout        time.Duration
}

// Session is the top-level façade: one REST client, one socket connection,
// one store, typing presence, active-room subscription, and search, wired
// together for a single authenticated user.
type Session struct {
	cfg      SessionConfig
	rest     *Client
	mgr      *Manager
	store    *Store
	presence *Presence
	sub      *Subscriber
	search   *Search
}

// NewSession builds a session. Nothing connects until Start.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if cfg.SocketURL == "" {
		cfg.SocketURL = SocketURL(cfg.BaseURL)
	}
	if cfg.Logger == nil {
		cfg.Logger = stdLogger{}
	}

	var clientOpts []ClientOption
	if cfg.HTTPClient != nil {
		clientOpts = append(clientOpts, WithHTTPClient(cfg.HTTPClient))
	}
	rest := NewClient(cfg.BaseURL, "", clientOpts...)

	mgr := NewManager(ManagerConfig{
		URL:               cfg.SocketURL,
		Dialer:            cfg.Dialer,
		Logger:            cfg.Logger,
		HeartbeatInterval: cfg.HeartbeatInterval,
		AckTimeout:        cfg.AckTimeout,
	})

	store := NewStore()
	presence := NewPresence(PresenceConfig{
		SelfID:   cfg.UserID,
		SelfName: cfg.UserName,
		Throttle: cfg.TypingThrottle,
		Logger:   cfg.Logger,
		Send: func(ctx context.Context, p TypingPayload) error {
			return mgr.Send(ctx, &Command{Event: CommandTyping, Payload: p})
		},
	})
	sub := NewSubscriber(mgr, store, presence, cfg.Logger)

	return &Session{
		cfg:      cfg,
		rest:     rest,
		mgr:      mgr,
		store:    store,
		presence: presence,
		sub:      sub,
		search:   NewSearch(store),
	}, nil
}

// Store returns the session's message store.
func (s *Session) Store() *Store { return s.store }

// Search returns the session's in-room search.
func (s *Session) Search() *Search { return s.search }

// Presence returns the session's typing presence tracker.
func (s *Session) Presence() *Presence { return s.presence }

// Manager returns the underlying connection manager.
func (s *Session) Manager() *Manager { return s.mgr }

// Client returns the underlying REST client.
func (s *Session) Client() *Client { return s.rest }

// Start seeds the room list over REST and opens the socket for token.
// A socket dial failure is non-fatal; a failed room fetch is returned.
func (s *Session) Start(ctx context.Context, token string) error {
	s.rest.SetToken(token)
	rooms, err := s.rest.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("seed rooms: %w", err)
	}
	s.store.SeedRooms(rooms)
	s.mgr.Connect(ctx, token)
	s.presence.Start()
	return nil
}

// SetToken rebinds the session to a new auth token. The socket reconnects
// when the token actually changed.
func (s *Session) SetToken(ctx context.Context, token string) {
	s.rest.SetToken(token)
	s.mgr.Connect(ctx, token)
}

// OpenRoom makes roomID the active room: joins it on the socket and loads
// its most recent history page.
func (s *Session) OpenRoom(ctx context.Context, roomID string, pageSize int) error {
	if err := s.sub.SetActiveRoom(ctx, roomID); err != nil {
		return err
	}
	msgs, err := s.rest.RoomMessages(ctx, roomID, &HistoryOptions{Limit: pageSize})
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	s.store.PrependHistory(roomID, msgs)
	s.search.SetQuery(roomID, "")
	return nil
}

// ActiveRoom returns the currently open room, or "".
func (s *Session) ActiveRoom() string {
	return s.sub.ActiveRoom()
}

// LoadOlder fetches the history page before the oldest known message of
// roomID. Returns how many messages were added.
func (s *Session) LoadOlder(ctx context.Context, roomID string, limit int) (int, error) {
	opts := &HistoryOptions{Limit: limit}
	if msgs := s.store.Messages(roomID); len(msgs) > 0 {
		opts.Before = msgs[0].ID
	}
	page, err := s.rest.RoomMessages(ctx, roomID, opts)
	if err != nil {
		return 0, err
	}
	return s.store.PrependHistory(roomID, page), nil
}

// SendText sends a message with an optimistic local insert. On success the
// local copy is reconciled with the persisted message; on failure it is
// removed and the error returned so the caller can surface a retry.
func (s *Session) SendText(ctx context.Context, roomID, text string, opts *SendOptions) (Message, error) {
	local := Message{
		RoomID:    roomID,
		AuthorID:  s.cfg.UserID,
		Text:      text,
		CreatedAt: time.Now(),
	}
	if opts != nil {
		local.ReplyToMessageID = opts.ReplyToMessageID
		local.Attachments = opts.Attachments
		local.ForwardFrom = opts.ForwardFrom
	}
	localID := s.store.InsertLocal(local)

	sent, err := s.rest.SendMessage(ctx, roomID, text, opts)
	if err != nil {
		s.store.DropLocal(roomID, localID)
		return Message{}, fmt.Errorf("send message: %w", err)
	}
	s.store.Reconcile(roomID, localID, *sent)
	s.store.UpsertPreview(roomID, previewText(*sent), sent.CreatedAt)
	return *sent, nil
}

// MarkRead advances the current user's read cursor and mirrors it locally
// so the UI does not wait for the receipt echo.
func (s *Session) MarkRead(ctx context.Context, roomID, messageID string) error {
	if err := s.rest.MarkRead(ctx, roomID, messageID); err != nil {
		return err
	}
	s.store.ApplyRead(roomID, s.cfg.UserID, messageID, time.Now())
	return nil
}

// NotifyTyping signals typing in a room, throttled.
func (s *Session) NotifyTyping(ctx context.Context, roomID string) {
	if _, err := s.presence.NotifyTyping(ctx, roomID); err != nil {
		s.cfg.Logger.Printf("chatsync: typing signal: %v", err)
	}
}

// Close tears the session down: leaves the active room, stops presence,
// and disconnects the socket.
func (s *Session) Close(ctx context.Context) {
	s.sub.Close(ctx)
	s.search.Close()
	s.presence.Stop()
	s.mgr.Destroy()
}
