package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/weather-client/internal/apperrors"
	"github.com/smukkama/weather-client/internal/protocol"
)

// Default timing for the summary channel
const (
	DefaultReconnectWait    = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	closeWriteTimeout = time.Second
)

var (
	// ErrChannelClosed is returned when an operation is attempted after Close
	ErrChannelClosed = errors.New("summary channel is closed")

	// ErrRequestPending is returned when a summary request is issued while a
	// previous one has not yet resolved
	ErrRequestPending = errors.New("a summary request is already pending")
)

// Options configures a summary channel
type Options struct {
	// URL is the websocket endpoint of the summary service
	URL string

	// ReconnectWait is the delay before reconnecting after an abnormal
	// closure. Defaults to DefaultReconnectWait.
	ReconnectWait time.Duration

	// HandshakeTimeout bounds the websocket handshake. Defaults to
	// DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Dialer overrides the websocket dialer (used in tests)
	Dialer *websocket.Dialer

	// Logger is the structured logger to use. Defaults to a new logrus logger.
	Logger *logrus.Logger
}

// Channel owns a single long-lived connection to the backend summary service.
// It keeps the connection alive across transient failures and provides a
// narrow surface to request an AI summary for a stored weather record.
type Channel struct {
	url           string
	reconnectWait time.Duration
	dialer        *websocket.Dialer
	log           *logrus.Entry

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	reconnectTimer *time.Timer
	pending        *pendingRequest
	lastErr        error
	closed         bool

	onResult func(summary string)
	onError  func(err error)
	onState  func(old, new State)
}

// pendingRequest tracks the single in-flight summary request
type pendingRequest struct {
	weatherID string
}

// New creates a summary channel for the given endpoint. The channel starts
// out Disconnected; call Connect to open it.
func New(opts Options) *Channel {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	wait := opts.ReconnectWait
	if wait <= 0 {
		wait = DefaultReconnectWait
	}

	dialer := opts.Dialer
	if dialer == nil {
		handshake := opts.HandshakeTimeout
		if handshake <= 0 {
			handshake = DefaultHandshakeTimeout
		}
		dialer = &websocket.Dialer{HandshakeTimeout: handshake}
	}

	return &Channel{
		url:           opts.URL,
		reconnectWait: wait,
		dialer:        dialer,
		log:           logger.WithField("component", "summary_channel"),
		state:         StateDisconnected,
	}
}

// OnSummaryResult registers the handler invoked when the backend delivers a
// generated summary
func (c *Channel) OnSummaryResult(handler func(summary string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResult = handler
}

// OnSummaryError registers the handler invoked when an outstanding summary
// request fails, either with a summary_error envelope from the backend or
// because the connection dropped
func (c *Channel) OnSummaryError(handler func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// OnStateChange registers the handler invoked on every state transition
func (c *Channel) OnStateChange(handler func(old, new State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// State returns the current lifecycle state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the last channel-level error, cleared by a successful Connect
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect opens the connection to the summary service. It is a no-op when
// the channel is already Open or Connecting. On failure the channel schedules
// a reconnect attempt and returns the dial error.
func (c *Channel) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.cancelReconnectLocked()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(c.url, nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		// Close raced with the dial; tear down whatever we got
		if conn != nil {
			conn.Close()
		}
		c.setStateLocked(StateDisconnected)
		return ErrChannelClosed
	}

	if err != nil {
		c.log.WithError(err).Warn("Failed to connect to summary service")
		c.lastErr = err
		c.setStateLocked(StateDisconnected)
		c.scheduleReconnectLocked()
		return apperrors.ConnectionLost("connect to summary service", err)
	}

	c.conn = conn
	c.lastErr = nil
	c.setStateLocked(StateOpen)
	c.log.Info("Connected to summary service")

	go c.readLoop(conn)
	return nil
}

// RequestSummary sends a generate_summary request for the given weather
// record. The channel must be Open, both arguments must be non-empty, and at
// most one request may be outstanding at a time.
func (c *Channel) RequestSummary(weatherID, apiKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return apperrors.NotConnected("summary channel is not open")
	}
	if weatherID == "" {
		return apperrors.InvalidInput("weather record id is required")
	}
	if apiKey == "" {
		return apperrors.InvalidInput("api key is required")
	}
	if c.pending != nil {
		return ErrRequestPending
	}

	data, err := protocol.EncodeMessage(protocol.NewGenerateSummaryMessage(weatherID, apiKey))
	if err != nil {
		return err
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apperrors.ConnectionLost("send summary request", err)
	}

	c.pending = &pendingRequest{weatherID: weatherID}
	c.log.WithField("weather_id", weatherID).Debug("Summary request sent")
	return nil
}

// Close tears the channel down for good: it cancels any scheduled reconnect,
// sends a normal-closure frame so the peer knows the shutdown is intentional,
// and never reconnects afterwards.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelReconnectLocked()

	conn := c.conn
	if conn != nil {
		c.setStateLocked(StateClosing)
	} else {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(closeWriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			c.log.WithError(err).Debug("Failed to write close frame")
		}
		conn.Close()
	}
}

// readLoop consumes messages from one connection until it fails or closes
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage decodes and dispatches one inbound payload. Malformed
// payloads and unknown message types are logged and dropped; they never
// affect the connection state or a pending request.
func (c *Channel) handleMessage(data []byte) {
	msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		var unknown *protocol.UnknownTypeError
		if errors.As(err, &unknown) {
			c.log.WithField("type", string(unknown.Type)).Debug("Ignoring unknown message type")
		} else {
			c.log.WithError(err).Warn("Dropping malformed message")
		}
		return
	}

	switch m := msg.(type) {
	case *protocol.SummaryResultMessage:
		c.mu.Lock()
		if c.pending == nil {
			c.mu.Unlock()
			c.log.Debug("Ignoring summary_result with no request outstanding")
			return
		}
		c.pending = nil
		handler := c.onResult
		c.mu.Unlock()

		if handler != nil {
			handler(m.Summary)
		}

	case *protocol.SummaryErrorMessage:
		c.mu.Lock()
		if c.pending == nil {
			c.mu.Unlock()
			c.log.Debug("Ignoring summary_error with no request outstanding")
			return
		}
		c.pending = nil
		handler := c.onError
		c.mu.Unlock()

		if handler != nil {
			handler(apperrors.RemoteRejected(m.Error))
		}
	}
}

// handleDisconnect runs exactly once per connection, when its read loop ends
func (c *Channel) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// a newer connection already replaced this one
		c.mu.Unlock()
		return
	}
	c.conn = nil

	closedByUs := c.closed
	normal := websocket.IsCloseError(err, websocket.CloseNormalClosure)

	pending := c.pending
	c.pending = nil
	handler := c.onError

	c.setStateLocked(StateDisconnected)

	if !closedByUs && !normal {
		c.lastErr = err
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	if closedByUs {
		c.log.Info("Summary channel closed")
		return
	}

	if normal {
		c.log.Info("Summary service closed the connection")
	} else {
		c.log.WithError(err).Warn("Lost connection to summary service")
	}

	if pending != nil && handler != nil {
		handler(apperrors.ConnectionLost("summary service connection lost", err))
	}
}

// scheduleReconnectLocked arms the reconnect timer. An already pending timer
// is replaced, so at most one is ever outstanding. Callers must hold c.mu.
func (c *Channel) scheduleReconnectLocked() {
	if c.closed {
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(c.reconnectWait, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()

		// Connect logs failures and re-arms the timer itself
		_ = c.Connect()
	})
}

// cancelReconnectLocked stops any pending reconnect timer. Callers must hold c.mu.
func (c *Channel) cancelReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// setStateLocked transitions the state and notifies the state handler.
// Callers must hold c.mu.
func (c *Channel) setStateLocked(state State) {
	if c.state == state {
		return
	}
	old := c.state
	c.state = state
	if c.onState != nil {
		handler := c.onState
		go handler(old, state)
	}
}
