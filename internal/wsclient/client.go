// Package wsclient keeps an authenticated message socket open against the
// forum backend and dispatches its frames to observers and the event bus.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/config"
	"github.com/matheus3301/inbox/internal/status"
	"github.com/matheus3301/inbox/internal/wire"
	"go.uber.org/zap"
)

var (
	// ErrNoIdentity is returned by Connect when no user is signed in.
	ErrNoIdentity = errors.New("no user identity; log in first")
	// ErrNotConnected is returned by Send outside the CONNECTED state.
	ErrNotConnected = errors.New("socket not connected")
)

// Identity supplies the user id sent in the auth frame.
type Identity interface {
	UserID() string
}

// Config holds the socket settings.
type Config struct {
	URL                  string
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	WriteTimeout         time.Duration
	PreAuthBuffer        int
}

// NewConfig builds the socket settings from the session configuration.
func NewConfig(srv config.ServerConfig, sock config.SocketConfig) Config {
	return Config{
		URL:                  EndpointURL(srv.Host, srv.Secure),
		HeartbeatInterval:    sock.HeartbeatInterval(),
		ReconnectDelay:       sock.ReconnectDelay(),
		MaxReconnectAttempts: sock.MaxReconnectAttempts,
		WriteTimeout:         sock.WriteTimeout(),
		PreAuthBuffer:        sock.PreAuthBuffer,
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithClock replaces the wall clock used for heartbeat and retry timers.
func WithClock(clk Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithMachine shares an existing state machine instead of creating one.
func WithMachine(m *status.Machine) Option {
	return func(c *Client) { c.machine = m }
}

// Client is the message socket client.
type Client struct {
	cfg      Config
	identity Identity
	dialer   Dialer
	clock    Clock
	bus      *bus.Bus
	machine  *status.Machine
	logger   *zap.Logger

	// writeMu serializes writes on the transport.
	writeMu sync.Mutex

	mu            sync.Mutex
	gen           uint64 // bumped whenever the current transport is dropped
	dialing       bool
	conn          Conn
	authenticated bool
	pending       []Inbound // frames received before authenticated
	policy        *ReconnectPolicy
	hb            heartbeat
	retrySeq      uint64
	retryTimer    Timer

	onMessage     observerList[func(wire.Message, bool)]
	onReadReceipt observerList[func(conversationID, readBy wire.ID)]
	onConnect     observerList[func()]
	onDisconnect  observerList[func(error)]
	onServerError observerList[func(string)]
}

// New creates a disconnected client.
func New(cfg Config, identity Identity, b *bus.Bus, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:      cfg,
		identity: identity,
		bus:      b,
		logger:   logger,
		policy:   NewReconnectPolicy(cfg.ReconnectDelay, cfg.MaxReconnectAttempts),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewGorillaDialer(cfg.WriteTimeout)
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	if c.machine == nil {
		c.machine = status.NewMachine(b)
	}
	c.hb = heartbeat{clock: c.clock, interval: cfg.HeartbeatInterval}
	return c
}

// State returns the current connection state.
func (c *Client) State() status.State {
	return c.machine.Current()
}

// Connected reports whether the socket is authenticated and usable.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.authenticated
}

// ReconnectAttempts returns the retries consumed since the last successful
// authentication or explicit Connect.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.Attempts()
}

// OnMessage registers fn for new_message (echo false) and message_sent
// (echo true) frames.
func (c *Client) OnMessage(fn func(msg wire.Message, echo bool)) (unsubscribe func()) {
	return c.onMessage.add(fn)
}

// OnReadReceipt registers fn for read_receipt frames.
func (c *Client) OnReadReceipt(fn func(conversationID, readBy wire.ID)) (unsubscribe func()) {
	return c.onReadReceipt.add(fn)
}

// OnConnect registers fn to run after each successful authentication.
func (c *Client) OnConnect(fn func()) (unsubscribe func()) {
	return c.onConnect.add(fn)
}

// OnDisconnect registers fn to run when an open transport closes. err is
// nil for an explicit Disconnect.
func (c *Client) OnDisconnect(fn func(err error)) (unsubscribe func()) {
	return c.onDisconnect.add(fn)
}

// OnServerError registers fn for error frames.
func (c *Client) OnServerError(fn func(message string)) (unsubscribe func()) {
	return c.onServerError.add(fn)
}

// Connect opens the socket and sends the auth frame. It is a no-op while a
// transport is open or being dialed. An explicit Connect restores the full
// reconnect budget.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, 0)
}

// connect dials a new transport. retrySeq is zero for an explicit Connect
// and the retry timer's sequence number otherwise; a retry whose timer was
// cancelled does nothing.
func (c *Client) connect(ctx context.Context, retrySeq uint64) error {
	explicit := retrySeq == 0
	c.mu.Lock()
	if !explicit {
		if retrySeq != c.retrySeq {
			c.mu.Unlock()
			return nil
		}
		c.retryTimer = nil
	}
	if c.conn != nil || c.dialing {
		c.mu.Unlock()
		return nil
	}
	userID := c.identity.UserID()
	if userID == "" {
		if !explicit {
			c.transitionLocked(status.Disconnected)
		}
		c.mu.Unlock()
		c.logger.Warn("socket connect skipped: no user identity")
		return ErrNoIdentity
	}
	if explicit {
		c.policy.Reset()
		c.cancelRetryLocked()
	}
	c.dialing = true
	c.gen++
	gen := c.gen
	c.transitionLocked(status.Connecting)
	c.mu.Unlock()

	c.logger.Info("socket dialing", zap.String("url", c.cfg.URL), zap.String("user_id", userID))
	conn, err := c.dialer.Dial(ctx, c.cfg.URL)

	c.mu.Lock()
	if gen != c.gen {
		// Disconnect ran while dialing.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	c.dialing = false
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("socket dial failed", zap.Error(err))
		c.handleClose(gen, err)
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	c.conn = conn
	c.transitionLocked(status.Authenticating)
	c.mu.Unlock()

	go c.readLoop(gen, conn)

	if err := c.write(gen, AuthFrame{UserID: wire.ID(userID)}); err != nil {
		c.logger.Warn("socket auth send failed", zap.Error(err))
		// The read loop observes the close and applies the retry policy.
		_ = conn.Close()
	}
	return nil
}

// Disconnect closes the socket and cancels the heartbeat and any pending
// retry. No automatic reconnect happens until the next Connect. Calling it
// again is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.hb.stop()
	c.cancelRetryLocked()
	c.policy.Exhaust()
	conn := c.conn
	c.gen++
	c.conn = nil
	c.dialing = false
	c.authenticated = false
	c.pending = nil
	c.transitionLocked(status.Disconnected)
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		c.logger.Debug("socket close", zap.Error(err))
	}
	c.logger.Info("socket disconnected")
	c.bus.Emit(bus.KindDisconnected, DisconnectedEvent{})
	for _, fn := range c.onDisconnect.snapshot() {
		c.safely("OnDisconnect", func() { fn(nil) })
	}
}

// Send writes f on the socket. It fails with ErrNotConnected unless the
// socket is authenticated.
func (c *Client) Send(f Frame) error {
	c.mu.Lock()
	gen := c.gen
	ok := c.conn != nil && c.authenticated
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return c.write(gen, f)
}

// write sends f on the transport of generation gen.
func (c *Client) write(gen uint64, f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	current := gen == c.gen && conn != nil
	c.mu.Unlock()
	if !current {
		return ErrNotConnected
	}

	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", f.action(), err)
	}
	return nil
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.handleFrame(gen, data)
	}
}

func (c *Client) handleFrame(gen uint64, data []byte) {
	// Frames still read by a replaced transport are not counted.
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}

	frame, err := DecodeFrame(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err), zap.ByteString("frame", truncate(data, 256)))
		c.bus.Emit(bus.KindFrameDropped, FrameEvent{Reason: DropMalformed})
		return
	}
	c.bus.Emit(bus.KindFrameReceived, FrameEvent{Type: KnownType(frame.Type())})

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	switch f := frame.(type) {
	case Authenticated:
		if c.authenticated {
			c.mu.Unlock()
			c.logger.Debug("duplicate authenticated frame")
			return
		}
		c.authenticated = true
		c.policy.Reset()
		c.hb.start(c.heartbeatTick)
		c.transitionLocked(status.Connected)
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()

		userID := c.identity.UserID()
		c.logger.Info("socket authenticated", zap.String("user_id", userID), zap.Int("buffered", len(pending)))
		c.bus.Emit(bus.KindConnected, ConnectedEvent{UserID: userID})
		for _, fn := range c.onConnect.snapshot() {
			c.safely("OnConnect", fn)
		}
		for _, p := range pending {
			c.dispatch(p)
		}

	case NewMessage, MessageSent, ReadReceipt:
		if c.authenticated {
			c.mu.Unlock()
			c.dispatch(f)
			return
		}
		if len(c.pending) >= c.cfg.PreAuthBuffer {
			c.mu.Unlock()
			c.logger.Warn("pre-auth buffer full, dropping frame", zap.String("type", f.Type()))
			c.bus.Emit(bus.KindFrameDropped, FrameEvent{Type: f.Type(), Reason: DropPreAuthFull})
			return
		}
		c.pending = append(c.pending, f)
		c.mu.Unlock()

	default:
		c.mu.Unlock()
		c.dispatch(f)
	}
}

// dispatch delivers an authenticated-channel frame to observers.
func (c *Client) dispatch(frame Inbound) {
	switch f := frame.(type) {
	case NewMessage:
		c.deliverMessage(f.Message, false)
	case MessageSent:
		c.deliverMessage(f.Message, true)
	case ReadReceipt:
		c.bus.Emit(bus.KindReadReceipt, ReadReceiptEvent{ConversationID: f.ConversationID, ReadBy: f.ReadBy})
		for _, fn := range c.onReadReceipt.snapshot() {
			c.safely("OnReadReceipt", func() { fn(f.ConversationID, f.ReadBy) })
		}
	case Pong:
	case ServerError:
		c.logger.Warn("server reported error", zap.String("message", f.Message))
		c.bus.Emit(bus.KindServerError, f.Message)
		for _, fn := range c.onServerError.snapshot() {
			c.safely("OnServerError", func() { fn(f.Message) })
		}
	case Unknown:
		c.logger.Info("ignoring unknown frame type", zap.String("type", f.RawType))
		c.bus.Emit(bus.KindFrameDropped, FrameEvent{Type: f.RawType, Reason: DropUnknownType})
	}
}

func (c *Client) deliverMessage(msg wire.Message, echo bool) {
	c.bus.Emit(bus.KindMessage, MessageEvent{Message: msg, Echo: echo})
	for _, fn := range c.onMessage.snapshot() {
		c.safely("OnMessage", func() { fn(msg, echo) })
	}
}

// handleClose applies the retry policy after the transport of generation
// gen failed. Closes of replaced transports are ignored.
func (c *Client) handleClose(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.gen++
	c.conn = nil
	c.dialing = false
	c.authenticated = false
	c.pending = nil
	c.hb.stop()

	delay, retry := c.policy.Next()
	attempt := c.policy.Attempts()
	if retry {
		c.transitionLocked(status.Retrying)
		c.scheduleRetryLocked(delay)
	} else {
		c.transitionLocked(status.GaveUp)
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		c.logger.Warn("socket closed unexpectedly", zap.Error(cause))
		c.bus.Emit(bus.KindDisconnected, DisconnectedEvent{Err: errString(cause)})
		for _, fn := range c.onDisconnect.snapshot() {
			c.safely("OnDisconnect", func() { fn(cause) })
		}
	}

	evt := RetryEvent{Attempt: attempt, Max: c.policy.Max(), Delay: delay}
	if retry {
		c.logger.Info("socket reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		c.bus.Emit(bus.KindReconnectScheduled, evt)
		return
	}
	c.logger.Warn("socket reconnect budget exhausted", zap.Int("attempts", attempt))
	c.bus.Emit(bus.KindGaveUp, evt)
}

func (c *Client) scheduleRetryLocked(delay time.Duration) {
	c.cancelRetryLocked()
	seq := c.retrySeq
	c.retryTimer = c.clock.AfterFunc(delay, func() {
		_ = c.connect(context.Background(), seq)
	})
}

func (c *Client) cancelRetryLocked() {
	c.retrySeq++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) heartbeatTick(seq uint64) {
	c.mu.Lock()
	if !c.hb.active(seq) || c.conn == nil || !c.authenticated {
		c.mu.Unlock()
		return
	}
	gen := c.gen
	c.hb.arm(seq, c.heartbeatTick)
	c.mu.Unlock()

	if err := c.write(gen, PingFrame{}); err != nil {
		c.logger.Warn("heartbeat ping failed", zap.Error(err))
	}
}

// transitionLocked moves the state machine, logging rejected transitions.
func (c *Client) transitionLocked(to status.State) {
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("state transition rejected", zap.Error(err))
	}
}

// safely runs an observer, containing any panic to the observer itself.
func (c *Client) safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("observer panicked", zap.String("observer", name), zap.Any("panic", r))
		}
	}()
	fn()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
