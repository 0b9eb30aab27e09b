package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Event Payload Types
// ============================================================================

// Events consumed from the socket.
const (
	EventMessageNew    = "message:new"
	EventMessageRead   = "message:read"
	EventPinned        = "message:pinned"
	EventUnpinned      = "message:unpinned"
	EventSystemDeleted = "system:deleted"
	EventTyping        = "typing"
	EventAck           = "ack"
)

// Commands emitted on the socket.
const (
	CommandJoin   = "join"
	CommandLeave  = "leave"
	CommandTyping = "typing"
)

// MessageNewPayload is delivered when a new message arrives in a room.
type MessageNewPayload struct {
	RoomID  string  `json:"roomId"`
	Message Message `json:"message"`
}

// ReadReceiptPayload is delivered when a participant advances their read cursor.
type ReadReceiptPayload struct {
	RoomID     string    `json:"roomId"`
	UserID     string    `json:"userId"`
	MessageID  string    `json:"messageId"`
	LastReadAt time.Time `json:"lastReadAt"`
}

// PinnedPayload is delivered when a message is pinned in a room.
type PinnedPayload struct {
	RoomID  string  `json:"roomId"`
	Message Message `json:"message"`
}

// UnpinnedPayload is delivered when a room's pinned message is cleared.
type UnpinnedPayload struct {
	RoomID string `json:"roomId"`
}

// SystemDeletedPayload is delivered when the backend bulk-removes messages.
type SystemDeletedPayload struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}

// TypingPayload is both the inbound and outbound typing indicator shape.
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// RoomRef addresses a room in join/leave commands.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// AckPayload is the server's reply to an acknowledged command.
type AckPayload struct {
	RequestID string `json:"requestId"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// Envelope is the wire format for all inbound socket events.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server frame.
type Command struct {
	Event     string `json:"event"`
	Payload   any    `json:"payload,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ============================================================================
// Logger
// ============================================================================

// Logger receives connection and protocol diagnostics. The default writes to
// the standard library logger.
type Logger interface {
	Printf(format string, args ...any)
}

type stdLogger struct{}

func (stdLogger) Printf(format string, args ...any) { log.Printf(format, args...) }

// ============================================================================
// Socket transport
// ============================================================================

// Socket is the minimal connection surface the manager drives. The default
// implementation wraps a nhooyr.io websocket connection; tests substitute
// their own via ManagerConfig.Dialer.
type Socket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// Dialer opens a Socket to the given URL.
type Dialer func(ctx context.Context, url string) (Socket, error)

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

func (s *wsSocket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSocket) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *wsSocket) Close(reason string) error {
	return s.conn.Close(websocket.StatusNormalClosure, reason)
}

func dialWebsocket(ctx context.Context, url string) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsSocket{conn: conn}, nil
}

// SocketURL converts an HTTP base URL into the socket endpoint.
func SocketURL(baseURL string) string {
	u := strings.Replace(baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimRight(u, "/") + "/ws"
}

// ============================================================================
// Event Dispatcher
// ============================================================================

// EventHandler is the generic inbound event callback type. Handlers run
// synchronously on the read loop so store mutations keep arrival order.
type EventHandler func(Envelope)

type dispatcher struct {
	mu             sync.RWMutex
	handlers       map[string][]EventHandler
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[string][]EventHandler)}
}

func (d *dispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	handlers := append([]EventHandler{}, d.handlers[env.Event]...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(env)
	}
}

func (d *dispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *dispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (d *dispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Manager
// ============================================================================

// ConnState is the lifecycle state of a connection.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateReconnecting ConnState = "reconnecting"
	StateClosed       ConnState = "closed"
)

// ConnectionState is an observable snapshot of a connection.
type ConnectionState struct {
	SocketID         string
	BoundToken       string
	Status           ConnState
	ManualDisconnect bool
}

// ManagerConfig configures the connection manager. URL is the socket
// endpoint; everything else has working defaults.
type ManagerConfig struct {
	URL    string
	Dialer Dialer
	Logger Logger

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	HeartbeatInterval  time.Duration
	AckTimeout         time.Duration
}

func (c *ManagerConfig) defaults() {
	if c.Dialer == nil {
		c.Dialer = dialWebsocket
	}
	if c.Logger == nil {
		c.Logger = stdLogger{}
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 5 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 5 * time.Second
	}
}

// Manager owns at most one socket connection, bound to the current auth
// token. Event handlers are registered on the manager and survive both
// automatic reconnects and token rebinds.
type Manager struct {
	cfg  ManagerConfig
	disp *dispatcher

	mu   sync.Mutex
	conn *Connection
}

// NewManager creates a connection manager. No connection is opened until
// Connect is called.
func NewManager(cfg ManagerConfig) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, disp: newDispatcher()}
}

// Connect binds a connection to token. If the active connection is already
// bound to the same token it is returned unchanged and no new socket is
// opened. A different token tears down the old connection (marked as a manual
// disconnect so it will not retry) and dials a new one.
//
// Dial failures are not returned: transport errors are non-fatal and feed the
// retry policy, surfacing only through diagnostics.
func (m *Manager) Connect(ctx context.Context, token string) *Connection {
	m.mu.Lock()
	if m.conn != nil && !m.conn.destroyed() {
		if m.conn.Token() == token {
			c := m.conn
			m.mu.Unlock()
			return c
		}
	}
	old := m.conn
	c := newConnection(m, token)
	m.conn = c
	m.mu.Unlock()

	if old != nil {
		old.destroy("token changed")
	}
	c.dial(ctx)
	return c
}

// Current returns the active connection without side effects, or nil when no
// connection exists. It never opens one.
func (m *Manager) Current() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Destroy marks the active connection as manually disconnected and closes
// it. The retry policy observes the flag and does not redial.
func (m *Manager) Destroy() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		conn.destroy("client disconnect")
	}
}

// On registers a handler for an inbound event kind.
func (m *Manager) On(event string, h EventHandler) {
	m.disp.mu.Lock()
	m.disp.handlers[event] = append(m.disp.handlers[event], h)
	m.disp.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (m *Manager) OnConnected(h func()) {
	m.disp.mu.Lock()
	m.disp.onConnected = append(m.disp.onConnected, h)
	m.disp.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (m *Manager) OnDisconnected(h func(reason string)) {
	m.disp.mu.Lock()
	m.disp.onDisconnected = append(m.disp.onDisconnected, h)
	m.disp.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (m *Manager) OnReconnecting(h func(attempt int, delay time.Duration)) {
	m.disp.mu.Lock()
	m.disp.onReconnecting = append(m.disp.onReconnecting, h)
	m.disp.mu.Unlock()
}

// Send emits a fire-and-forget command on the active connection.
func (m *Manager) Send(ctx context.Context, cmd *Command) error {
	conn := m.Current()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.send(ctx, cmd)
}

// Request emits a command and waits for its acknowledgement.
func (m *Manager) Request(ctx context.Context, event string, payload any) (*AckPayload, error) {
	conn := m.Current()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	return conn.request(ctx, event, payload)
}

// ============================================================================
// Connection
// ============================================================================

// Connection is one socket bound to one token. It redials on transport
// errors with capped backoff until destroyed.
type Connection struct {
	mgr      *Manager
	token    string
	socketID string

	lifeCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	sock   Socket
	state  ConnState
	manual bool

	reqCounter int
	pendingMu  sync.Mutex
	pending    map[string]chan AckPayload

	recon *reconnector
}

func newConnection(m *Manager, token string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		mgr:      m,
		token:    token,
		socketID: uuid.NewString(),
		lifeCtx:  ctx,
		cancel:   cancel,
		state:    StateConnecting,
		pending:  make(map[string]chan AckPayload),
		recon: &reconnector{
			baseDelay: m.cfg.ReconnectBaseDelay,
			maxDelay:  m.cfg.ReconnectMaxDelay,
		},
	}
}

// Token returns the auth token this connection is bound to.
func (c *Connection) Token() string { return c.token }

// SocketID returns the connection's id, stable across redials of the same
// bound token.
func (c *Connection) SocketID() string { return c.socketID }

// State returns the lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns an observable copy of the connection state.
func (c *Connection) Snapshot() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionState{
		SocketID:         c.socketID,
		BoundToken:       c.token,
		Status:           c.state,
		ManualDisconnect: c.manual,
	}
}

func (c *Connection) destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manual
}

func (c *Connection) url() string {
	return c.mgr.cfg.URL + "?token=" + c.token
}

// dial attempts the first connect synchronously; failures hand over to the
// background retry loop.
func (c *Connection) dial(ctx context.Context) {
	sock, err := c.mgr.cfg.Dialer(ctx, c.url())
	if err != nil {
		c.mgr.cfg.Logger.Printf("chatsync: connect failed: %v", err)
		go c.retryLoop()
		return
	}
	c.attach(sock)
}

func (c *Connection) attach(sock Socket) {
	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		sock.Close("connection destroyed")
		return
	}
	c.sock = sock
	c.state = StateOpen
	c.mu.Unlock()

	c.recon.markConnected()
	c.mgr.disp.emitConnected()

	go c.readLoop(sock)
	go c.heartbeatLoop(sock)
}

func (c *Connection) retryLoop() {
	for {
		if c.destroyed() || c.lifeCtx.Err() != nil {
			return
		}
		delay := c.recon.nextDelay()
		c.mu.Lock()
		c.state = StateReconnecting
		c.mu.Unlock()
		c.mgr.disp.emitReconnecting(c.recon.attempt, delay)

		select {
		case <-time.After(delay):
		case <-c.lifeCtx.Done():
			return
		}
		if c.destroyed() {
			return
		}

		sock, err := c.mgr.cfg.Dialer(c.lifeCtx, c.url())
		if err != nil {
			c.mgr.cfg.Logger.Printf("chatsync: reconnect failed: %v", err)
			continue
		}
		c.attach(sock)
		return
	}
}

func (c *Connection) readLoop(sock Socket) {
	for {
		data, err := sock.Read(c.lifeCtx)
		if err != nil {
			c.mu.Lock()
			manual := c.manual
			if c.sock == sock {
				c.sock = nil
			}
			c.mu.Unlock()

			if manual || c.lifeCtx.Err() != nil {
				return
			}
			c.mgr.disp.emitDisconnected(err.Error())
			go c.retryLoop()
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil || env.Event == "" {
			continue
		}
		if env.Event == EventAck {
			c.resolveAck(env.Payload)
			continue
		}
		c.mgr.disp.dispatch(env)
	}
}

func (c *Connection) heartbeatLoop(sock Socket) {
	ticker := time.NewTicker(c.mgr.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.lifeCtx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.sock == sock
			c.mu.Unlock()
			if !current {
				return
			}
			ctx, cancel := context.WithTimeout(c.lifeCtx, c.mgr.cfg.AckTimeout)
			err := sock.Ping(ctx)
			cancel()
			if err != nil {
				// Force close; readLoop picks up the error and redials.
				sock.Close("heartbeat timeout")
				return
			}
		}
	}
}

func (c *Connection) send(ctx context.Context, cmd *Command) error {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return sock.Write(ctx, data)
}

func (c *Connection) request(ctx context.Context, event string, payload any) (*AckPayload, error) {
	c.pendingMu.Lock()
	c.reqCounter++
	requestID := fmt.Sprintf("req-%d", c.reqCounter)
	ch := make(chan AckPayload, 1)
	c.pending[requestID] = ch
	c.pendingMu.Unlock()

	forget := func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}

	if err := c.send(ctx, &Command{Event: event, Payload: payload, RequestID: requestID}); err != nil {
		forget()
		return nil, err
	}

	select {
	case ack, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		return &ack, nil
	case <-time.After(c.mgr.cfg.AckTimeout):
		forget()
		return nil, fmt.Errorf("%s: ack timeout", event)
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func (c *Connection) resolveAck(raw json.RawMessage) {
	var ack AckPayload
	if json.Unmarshal(raw, &ack) != nil || ack.RequestID == "" {
		return
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[ack.RequestID]
	if ok {
		delete(c.pending, ack.RequestID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- ack
	}
}

func (c *Connection) destroy(reason string) {
	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		return
	}
	c.manual = true
	sock := c.sock
	c.sock = nil
	c.state = StateClosed
	c.mu.Unlock()

	c.cancel()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if sock != nil {
		sock.Close(reason)
	}
	c.mgr.disp.emitDisconnected(reason)
}
