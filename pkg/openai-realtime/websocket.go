package openairealtime

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketConn is a Conn over a WebSocket. Audio is sent with
// input_audio_buffer.append events.
type WebSocketConn struct {
	conn   *websocket.Conn
	events *eventQueue

	writeMu   sync.Mutex
	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// DialWebSocket connects to the WebSocket endpoint. token is the API key or
// an ephemeral secret; when empty the client's API key is used.
func (c *Client) DialWebSocket(ctx context.Context, token string, cfg *DialConfig) (*WebSocketConn, error) {
	if token == "" {
		token = c.apiKey
	}
	if token == "" {
		return nil, &Error{Code: "missing_api_key", Message: "a token is required to dial the websocket endpoint"}
	}

	headers := http.Header{}
	c.setAuth(headers, token)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: c.httpClient.Timeout}
	u := c.wsURL + "?model=" + url.QueryEscape(cfg.model())
	ws, resp, err := dialer.DialContext(ctx, u, headers)
	if err != nil {
		if resp != nil {
			return nil, &Error{
				Code:       "connection_failed",
				Message:    err.Error(),
				HTTPStatus: resp.StatusCode,
			}
		}
		return nil, fmt.Errorf("openai-realtime: dial: %w", err)
	}

	conn := &WebSocketConn{
		conn:   ws,
		events: newEventQueue(c.logger),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	// The event channel is the socket itself.
	close(conn.ready)
	go conn.readLoop()
	return conn, nil
}

func (conn *WebSocketConn) readLoop() {
	defer conn.events.close()
	for {
		_, message, err := conn.conn.ReadMessage()
		if err != nil {
			select {
			case <-conn.closed:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return
			}
			conn.events.push(eventOrError{err: fmt.Errorf("openai-realtime: read: %w", err)})
			return
		}
		conn.events.pushMessage(message)
	}
}

// Send writes ev to the socket.
func (conn *WebSocketConn) Send(ev *ClientEvent) error {
	select {
	case <-conn.closed:
		return ErrNotOpen
	default:
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return fmt.Errorf("openai-realtime: encode %s: %w", ev.Type, err)
	}
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	if err := conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ErrNotOpen
		}
		return fmt.Errorf("openai-realtime: write: %w", err)
	}
	return nil
}

// Events yields server events in arrival order.
func (conn *WebSocketConn) Events() iter.Seq2[*ServerEvent, error] {
	return conn.events.seq()
}

// Ready is closed as soon as the socket is connected.
func (conn *WebSocketConn) Ready() <-chan struct{} {
	return conn.ready
}

// Close sends a close frame and closes the socket.
func (conn *WebSocketConn) Close() error {
	var err error
	conn.closeOnce.Do(func() {
		close(conn.closed)
		conn.writeMu.Lock()
		_ = conn.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.writeMu.Unlock()
		err = conn.conn.Close()
		conn.events.close()
	})
	return err
}

var _ Conn = (*WebSocketConn)(nil)
