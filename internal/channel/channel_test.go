package channel

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/weather-client/internal/apperrors"
)

const testReconnectWait = 50 * time.Millisecond

// summaryServer is a fake summary service peer
type summaryServer struct {
	*httptest.Server
	conns    chan *websocket.Conn
	msgs     chan []byte
	readErrs chan error
	dials    int64
}

func newSummaryServer(t *testing.T) *summaryServer {
	s := &summaryServer{
		conns:    make(chan *websocket.Conn, 4),
		msgs:     make(chan []byte, 16),
		readErrs: make(chan error, 4),
	}

	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.dials, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					s.readErrs <- err
					return
				}
				s.msgs <- data
			}
		}()
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *summaryServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *summaryServer) dialCount() int64 {
	return atomic.LoadInt64(&s.dials)
}

func (s *summaryServer) acceptConn(t *testing.T) *websocket.Conn {
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(time.Second):
		t.Fatal("server did not receive a connection")
		return nil
	}
}

func (s *summaryServer) recvMsg(t *testing.T) []byte {
	select {
	case data := <-s.msgs:
		return data
	case <-time.After(time.Second):
		t.Fatal("server did not receive a message")
		return nil
	}
}

func newTestChannel(t *testing.T, url string) *Channel {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := New(Options{
		URL:           url,
		ReconnectWait: testReconnectWait,
		Logger:        logger,
	})
	t.Cleanup(c.Close)
	return c
}

// openChannel connects a channel and returns the server side of the socket
func openChannel(t *testing.T, s *summaryServer) (*Channel, *websocket.Conn) {
	c := newTestChannel(t, s.wsURL())
	require.NoError(t, c.Connect())
	require.Equal(t, StateOpen, c.State())
	return c, s.acceptConn(t)
}

func TestConnectOpensChannel(t *testing.T) {
	s := newSummaryServer(t)
	c, _ := openChannel(t, s)

	// a second Connect while open is a no-op
	require.NoError(t, c.Connect())
	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, int64(1), s.dialCount())
}

func TestRequestSummaryTransmitsEnvelope(t *testing.T) {
	s := newSummaryServer(t)
	c, _ := openChannel(t, s)

	require.NoError(t, c.RequestSummary("abc123", "AIza..."))

	assert.JSONEq(t,
		`{"type":"generate_summary","weather_id":"abc123","api_key":"AIza..."}`,
		string(s.recvMsg(t)))
}

func TestSummaryResultResolvesPendingOnce(t *testing.T) {
	s := newSummaryServer(t)
	c, serverConn := openChannel(t, s)

	results := make(chan string, 4)
	c.OnSummaryResult(func(summary string) { results <- summary })

	require.NoError(t, c.RequestSummary("abc123", "AIza..."))
	s.recvMsg(t)

	payload := []byte(`{"type":"summary_result","summary":"Sunny, 72°F"}`)
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, payload))

	select {
	case summary := <-results:
		assert.Equal(t, "Sunny, 72°F", summary)
	case <-time.After(time.Second):
		t.Fatal("summary result was not delivered")
	}
	assert.Equal(t, StateOpen, c.State())

	// an unrelated result with nothing pending must not re-invoke the handler
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, payload))
	select {
	case <-results:
		t.Fatal("result handler invoked with no request outstanding")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, StateOpen, c.State())
}

func TestSummaryErrorRejectsPending(t *testing.T) {
	s := newSummaryServer(t)
	c, serverConn := openChannel(t, s)

	errs := make(chan error, 4)
	c.OnSummaryError(func(err error) { errs <- err })

	require.NoError(t, c.RequestSummary("abc123", "AIza..."))
	s.recvMsg(t)

	payload := []byte(`{"type":"summary_error","error":"Weather data not found"}`)
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, payload))

	select {
	case err := <-errs:
		assert.True(t, apperrors.IsKind(err, apperrors.KindRemoteRejected))
		assert.Contains(t, err.Error(), "Weather data not found")
	case <-time.After(time.Second):
		t.Fatal("summary error was not delivered")
	}
	assert.Equal(t, StateOpen, c.State())

	// the pending slot is free again
	require.NoError(t, c.RequestSummary("abc123", "AIza..."))
}

func TestRequestSummaryNotConnected(t *testing.T) {
	c := newTestChannel(t, "ws://127.0.0.1:0")

	err := c.RequestSummary("abc123", "AIza...")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotConnected))
}

func TestRequestSummaryInvalidInput(t *testing.T) {
	s := newSummaryServer(t)
	c, _ := openChannel(t, s)

	err := c.RequestSummary("", "AIza...")
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))

	err = c.RequestSummary("abc123", "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))

	// nothing may have been transmitted
	select {
	case data := <-s.msgs:
		t.Fatalf("unexpected message transmitted: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRequestSummaryRejectsConcurrentRequests(t *testing.T) {
	s := newSummaryServer(t)
	c, _ := openChannel(t, s)

	require.NoError(t, c.RequestSummary("abc123", "AIza..."))

	err := c.RequestSummary("def456", "AIza...")
	assert.ErrorIs(t, err, ErrRequestPending)
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	s := newSummaryServer(t)
	c, serverConn := openChannel(t, s)

	results := make(chan string, 4)
	c.OnSummaryResult(func(summary string) { results <- summary })

	require.NoError(t, c.RequestSummary("abc123", "AIza..."))
	s.recvMsg(t)

	unknown := []byte(`{"type":"forecast_update","payload":42}`)
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, unknown))

	select {
	case <-results:
		t.Fatal("unknown message type invoked the result handler")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, StateOpen, c.State())

	// the pending request is still resolvable
	payload := []byte(`{"type":"summary_result","summary":"Cloudy"}`)
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, payload))
	select {
	case summary := <-results:
		assert.Equal(t, "Cloudy", summary)
	case <-time.After(time.Second):
		t.Fatal("summary result was not delivered after unknown message")
	}
}

func TestMalformedMessageIgnored(t *testing.T) {
	s := newSummaryServer(t)
	c, serverConn := openChannel(t, s)

	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte("not json")))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateOpen, c.State())
}

func TestAbnormalCloseReconnects(t *testing.T) {
	s := newSummaryServer(t)
	c, serverConn := openChannel(t, s)

	// drop the connection without a close handshake
	serverConn.Close()

	require.Eventually(t, func() bool {
		return s.dialCount() == 2 && c.State() == StateOpen
	}, time.Second, 10*time.Millisecond, "channel did not reconnect after abnormal closure")
}

func TestAbnormalCloseFailsPendingRequest(t *testing.T) {
	s := newSummaryServer(t)
	c, serverConn := openChannel(t, s)

	errs := make(chan error, 4)
	c.OnSummaryError(func(err error) { errs <- err })

	require.NoError(t, c.RequestSummary("abc123", "AIza..."))
	s.recvMsg(t)

	serverConn.Close()

	select {
	case err := <-errs:
		assert.True(t, apperrors.IsKind(err, apperrors.KindConnectionLost))
	case <-time.After(time.Second):
		t.Fatal("pending request was not failed after connection loss")
	}
}

func TestCloseSendsNormalClosureAndSuppressesReconnect(t *testing.T) {
	s := newSummaryServer(t)
	c, _ := openChannel(t, s)

	c.Close()

	select {
	case err := <-s.readErrs:
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "server did not receive a close frame: %v", err)
		assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	case <-time.After(time.Second):
		t.Fatal("server never observed the closure")
	}

	time.Sleep(3 * testReconnectWait)
	assert.Equal(t, int64(1), s.dialCount(), "close must not schedule a reconnect")
	assert.Equal(t, StateDisconnected, c.State())

	// the teardown is terminal
	assert.ErrorIs(t, c.Connect(), ErrChannelClosed)
}

func TestPeerNormalCloseSuppressesReconnect(t *testing.T) {
	s := newSummaryServer(t)
	c, serverConn := openChannel(t, s)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, serverConn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, time.Second, 10*time.Millisecond)

	time.Sleep(3 * testReconnectWait)
	assert.Equal(t, int64(1), s.dialCount(), "normal closure must not schedule a reconnect")
}

func TestSingleOutstandingReconnectTimer(t *testing.T) {
	var attempts int64
	dialer := &websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			atomic.AddInt64(&attempts, 1)
			return nil, errors.New("connection refused")
		},
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := New(Options{
		URL:           "ws://summary.invalid/ws",
		ReconnectWait: 100 * time.Millisecond,
		Dialer:        dialer,
		Logger:        logger,
	})
	t.Cleanup(c.Close)

	require.Error(t, c.Connect())
	require.Equal(t, int64(1), atomic.LoadInt64(&attempts))

	// a second abnormal failure while a timer is pending replaces it
	c.mu.Lock()
	require.NotNil(t, c.reconnectTimer)
	first := c.reconnectTimer
	c.scheduleReconnectLocked()
	require.NotNil(t, c.reconnectTimer)
	assert.NotSame(t, first, c.reconnectTimer)
	c.mu.Unlock()

	// exactly one timer fires: one retry attempt in the window, not two
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(2), atomic.LoadInt64(&attempts))
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	var attempts int64
	dialer := &websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			atomic.AddInt64(&attempts, 1)
			return nil, errors.New("connection refused")
		},
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := New(Options{
		URL:           "ws://summary.invalid/ws",
		ReconnectWait: 50 * time.Millisecond,
		Dialer:        dialer,
		Logger:        logger,
	})

	require.Error(t, c.Connect())
	c.Close()

	c.mu.Lock()
	assert.Nil(t, c.reconnectTimer)
	c.mu.Unlock()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts), "reconnect fired after teardown")
}
