package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/internal/tlsutil"
)

// WSState represents the connection state of a WebSocket transport.
type WSState string

const (
	WSStateDisconnected WSState = "disconnected"
	WSStateConnecting   WSState = "connecting"
	WSStateConnected    WSState = "connected"
	WSStateClosed       WSState = "closed"
)

// WSTransportConfig configures the WebSocket transport behavior.
type WSTransportConfig struct {
	HeartbeatInterval time.Duration     // Interval between websocket pings (default 30s)
	HeartbeatTimeout  time.Duration     // Max time to wait for a pong (default 10s)
	EnableHeartbeat   bool              // Whether to enable heartbeat (default true)
	Subprotocols      []string          // WebSocket subprotocols (default ["mcp"])
	Headers           map[string]string // Extra handshake headers
	ReadLimit         int64             // Max message size in bytes (default 8MiB)
}

// DefaultWSTransportConfig returns a WSTransportConfig with sensible defaults.
func DefaultWSTransportConfig() WSTransportConfig {
	return WSTransportConfig{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		EnableHeartbeat:   true,
		Subprotocols:      []string{"mcp"},
		ReadLimit:         maxLineSize,
	}
}

// WebSocketTransport implements Transport over WebSocket with a ping heartbeat.
// A dropped connection is not re-established: the MCP session it carried is
// gone, so the client surfaces the error and the caller re-dials.
type WebSocketTransport struct {
	url    string
	config WSTransportConfig
	logger *zap.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	state         WSState
	onStateChange func(state WSState)
	done          chan struct{}
	closed        bool
}

// NewWebSocketTransport creates a WebSocket transport with default configuration.
func NewWebSocketTransport(url string, logger *zap.Logger) *WebSocketTransport {
	return NewWebSocketTransportWithConfig(url, DefaultWSTransportConfig(), logger)
}

// NewWebSocketTransportWithConfig creates a WebSocket transport with custom configuration.
func NewWebSocketTransportWithConfig(url string, config WSTransportConfig, logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 10 * time.Second
	}
	if config.ReadLimit == 0 {
		config.ReadLimit = maxLineSize
	}
	return &WebSocketTransport{
		url:    url,
		config: config,
		logger: logger.With(zap.String("component", "mcp_ws_transport")),
		state:  WSStateDisconnected,
		done:   make(chan struct{}),
	}
}

// OnStateChange registers a callback invoked whenever the connection state changes.
func (t *WebSocketTransport) OnStateChange(fn func(WSState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChange = fn
}

// setState updates the state and fires the callback. Caller must NOT hold t.mu.
func (t *WebSocketTransport) setState(s WSState) {
	t.mu.Lock()
	t.state = s
	fn := t.onStateChange
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// State returns the current connection state.
func (t *WebSocketTransport) State() WSState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect dials the server and starts the heartbeat goroutine.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.setState(WSStateConnecting)

	header := http.Header{}
	for k, v := range t.config.Headers {
		header.Set(k, v)
	}
	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		HTTPClient:   tlsutil.SecureHTTPClient(0),
		HTTPHeader:   header,
		Subprotocols: t.config.Subprotocols,
	})
	if err != nil {
		t.setState(WSStateDisconnected)
		return fmt.Errorf("websocket connect: %w", err)
	}
	conn.SetReadLimit(t.config.ReadLimit)

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.setState(WSStateConnected)

	if t.config.EnableHeartbeat {
		go t.heartbeat(conn)
	}
	return nil
}

func (t *WebSocketTransport) current() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.conn == nil {
		return nil, fmt.Errorf("websocket: not connected")
	}
	return t.conn, nil
}

// Send writes a JSON-RPC message as one text frame.
func (t *WebSocketTransport) Send(ctx context.Context, msg *Message) error {
	conn, err := t.current()
	if err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, body)
}

// Receive reads the next JSON-RPC message.
func (t *WebSocketTransport) Receive(ctx context.Context) (*Message, error) {
	conn, err := t.current()
	if err != nil {
		return nil, err
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		select {
		case <-t.done:
			return nil, ErrTransportClosed
		default:
		}
		t.setState(WSStateDisconnected)
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

// Close stops the heartbeat and closes the connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conn := t.conn
	t.mu.Unlock()

	t.setState(WSStateClosed)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

// heartbeat pings the peer. Ping needs a concurrent reader, which the
// client read loop provides.
func (t *WebSocketTransport) heartbeat(conn *websocket.Conn) {
	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.config.HeartbeatTimeout)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				t.logger.Warn("heartbeat ping failed", zap.Error(err))
				t.setState(WSStateDisconnected)
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}
