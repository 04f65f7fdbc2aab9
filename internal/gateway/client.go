// Package gateway implements the websocket client edge of the agent-execution
// service: it decodes wire frames into stream events and hands them to the
// engine in arrival order. The service itself is an external collaborator;
// only its interface lives here.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"codeloom/internal/logging"
	"codeloom/internal/stream"
)

// ConnectionState tracks the connection lifecycle.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosed
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Client manages one websocket connection to the agent-execution service.
// Events are delivered to OnEvent from a single background read loop, so the
// engine sees one serialized stream.
type Client struct {
	mu         sync.RWMutex
	conn       *websocket.Conn
	state      ConnectionState
	url        string
	reqCounter atomic.Int64

	onEvent       func(stream.Event)
	onStateChange func(ConnectionState)
	// onStreamError reports a read-loop failure as data; the caller turns it
	// into a terminal error marker plus a cancellation sweep.
	onStreamError func(err error)

	done chan struct{}
	log  *logging.Logger
}

// NewClient creates a disconnected client.
func NewClient(url string) *Client {
	return &Client{
		state: StateDisconnected,
		url:   url,
		done:  make(chan struct{}),
		log:   logging.Get(logging.CategoryGateway),
	}
}

// OnEvent sets the handler for decoded stream events.
func (c *Client) OnEvent(fn func(stream.Event)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

// OnStateChange sets the handler for connection state changes.
func (c *Client) OnStateChange(fn func(ConnectionState)) {
	c.mu.Lock()
	c.onStateChange = fn
	c.mu.Unlock()
}

// OnStreamError sets the handler for read-loop failures.
func (c *Client) OnStreamError(fn func(error)) {
	c.mu.Lock()
	c.onStreamError = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connect dials the service and starts the background read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.setState(StateError)
		return fmt.Errorf("dial gateway %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)
	c.log.Info("connected to %s", c.url)

	go c.readLoop()
	return nil
}

// SendChat submits a user message over the connection.
func (c *Client) SendChat(content, sessionID string) error {
	return c.sendRequest("chat.send", ChatSendParams{Content: content, SessionID: sessionID})
}

// CancelTurn asks the service to stop the in-flight turn.
func (c *Client) CancelTurn(sessionID string) error {
	return c.sendRequest("chat.cancel", ChatSendParams{SessionID: sessionID})
}

func (c *Client) sendRequest(method string, params any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	msg := Message{
		Type:   "req",
		ID:     fmt.Sprintf("req-%d", c.reqCounter.Add(1)),
		Method: method,
		Params: params,
	}
	return conn.WriteJSON(msg)
}

// Close tears down the connection. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.setState(StateClosed)
}

func (c *Client) readLoop() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return // deliberate close
			default:
			}
			c.log.Error("read loop ended: %v", err)
			c.setState(StateError)
			c.mu.RLock()
			cb := c.onStreamError
			c.mu.RUnlock()
			if cb != nil {
				cb(err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("malformed frame skipped: %v", err)
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *Message) {
	switch msg.Type {
	case "event":
		ev, err := DecodeEvent(msg)
		if err != nil {
			c.log.Warn("event frame skipped: %v", err)
			return
		}
		c.mu.RLock()
		cb := c.onEvent
		c.mu.RUnlock()
		if cb != nil {
			cb(ev)
		}
	case "res":
		if msg.Error != "" {
			c.log.Warn("request %s failed: %s", msg.ID, msg.Error)
		}
	default:
		c.log.Debug("frame type %q ignored", msg.Type)
	}
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	cb := c.onStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}
