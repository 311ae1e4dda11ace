// Package stream implements the duplex channel to the detection service.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/verte-zerg/proctor/internal/model"
)

// ErrChannelClosed reports a send on a closed channel. The session treats
// it as loss of the detection pipeline for the rest of the session.
var ErrChannelClosed = errors.New("channel closed")

// OutboundFrame is the wire format for one captured frame.
type OutboundFrame struct {
	Frame     string `json:"frame"`     // base64 JPEG payload
	Timestamp int64  `json:"timestamp"` // capture time, unix milliseconds
}

// Result is one inbound message from the detection service, delivered in
// arrival order.
type Result struct {
	Alerts []model.Alert
	Stats  *model.Counters // nil when the message carried no stats
	Err    error           // set for error messages; the channel stays open
}

// inboundMessage covers both inbound shapes: {"error": ...} and
// {"alerts": [...], "stats": {...}}.
type inboundMessage struct {
	Error  string          `json:"error"`
	Alerts []model.Alert   `json:"alerts"`
	Stats  *model.Counters `json:"stats"`
}

// Channel is a message-oriented connection addressed by session id.
type Channel interface {
	// Send transmits one encoded frame.
	Send(OutboundFrame) error

	// Results delivers inbound messages in arrival order. The channel is
	// closed when the connection is lost or Close is called; no
	// reconnection is attempted.
	Results() <-chan Result

	// Close tears down the connection. Idempotent.
	Close() error
}

// Dialer opens a Channel for a session.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Channel, error)
}

// WSDialer dials the detection service websocket endpoint. The session id
// becomes the final path segment, e.g. ws://host:8000/ws/<session_id>.
type WSDialer struct {
	BaseURL string
}

// Dial opens the websocket connection and starts the reader.
func (d WSDialer) Dial(ctx context.Context, sessionID string) (Channel, error) {
	url := strings.TrimRight(d.BaseURL, "/") + "/ws/" + sessionID
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial detection service: %w", err)
	}
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			// Best-effort close of the handshake response.
			_ = cerr
		}
	}
	ch := &wsChannel{
		conn:    conn,
		results: make(chan Result, 1),
		quit:    make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

type wsChannel struct {
	conn    *websocket.Conn
	results chan Result
	quit    chan struct{} // closed by Close; unblocks a reader stuck delivering

	mu     sync.Mutex // guards writes and the closed flag
	closed bool
}

// Send implements Channel.
func (c *wsChannel) Send(f OutboundFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// Results implements Channel.
func (c *wsChannel) Results() <-chan Result {
	return c.results
}

// Close implements Channel.
func (c *wsChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.quit)
	return c.conn.Close()
}

// readLoop delivers inbound messages until the connection drops or Close
// is called. A single malformed message is surfaced as a Result with Err
// set; it never tears the channel down.
func (c *wsChannel) readLoop() {
	defer close(c.results)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if !c.deliver(Result{Err: fmt.Errorf("malformed message: %w", err)}) {
				return
			}
			continue
		}
		if msg.Error != "" {
			if !c.deliver(Result{Err: fmt.Errorf("detection service: %s", msg.Error)}) {
				return
			}
			continue
		}
		if !c.deliver(Result{Alerts: msg.Alerts, Stats: msg.Stats}) {
			return
		}
	}
}

// deliver hands one result to the consumer. It reports false once Close
// has been called, so a reader blocked on a full buffer with no consumer
// left still shuts down and the results channel still gets closed.
func (c *wsChannel) deliver(res Result) bool {
	select {
	case c.results <- res:
		return true
	case <-c.quit:
		return false
	}
}
