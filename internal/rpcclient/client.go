// Package rpcclient provides a JSON-RPC 2.0 client for quantus nodes,
// speaking the node's WebSocket endpoint with call/response correlation
// and long-lived subscriptions.
package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultCallTimeout = 10 * time.Second
	writeTimeout       = 5 * time.Second

	// pongWait bounds transport liveness, not data liveness: a silent but
	// healthy peer keeps answering pings, so minutes without a head never
	// count as failure.
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

// ErrClosed is returned for operations on a closed client.
var ErrClosed = errors.New("rpcclient: connection closed")

// Client is a JSON-RPC 2.0 WebSocket client.
type Client struct {
	url     string
	conn    *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex // serializes frame writes

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan *response
	subs    map[string]chan json.RawMessage
	err     error
	closed  bool

	done     chan struct{}
	teardown sync.Once
}

// Dial connects to the given ws:// or wss:// endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	return DialTimeout(ctx, url, defaultCallTimeout)
}

// DialTimeout connects with a custom per-call timeout.
func DialTimeout(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		url:     url,
		conn:    conn,
		timeout: timeout,
		pending: make(map[uint64]chan *response),
		subs:    make(map[string]chan json.RawMessage),
		done:    make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      uint64      `json:"id"`
}

// response is a JSON-RPC 2.0 response or subscription notification.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  *notification   `json:"params,omitempty"`
}

// notification carries a subscription push.
type notification struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided
// pointer. If result is nil, the response result is discarded.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", method, errOrClosed(err))
	}
	c.seq++
	id := c.seq
	ch := make(chan *response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(request{JSONRPC: "2.0", Method: method, Params: params, ID: id}); err != nil {
		c.dropPending(id)
		return fmt.Errorf("%s: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if result != nil && resp.Result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	case <-timer.C:
		c.dropPending(id)
		return fmt.Errorf("%s: timed out after %s", method, c.timeout)
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("%s: %w", method, errOrClosed(c.Err()))
	}
}

// Subscription is a live server-push subscription.
type Subscription struct {
	// C delivers raw notification payloads. Closed when the subscription
	// ends, including on transport failure.
	C <-chan json.RawMessage

	id     string
	unsub  string
	client *Client
	once   sync.Once
}

// ID returns the server-assigned subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Unsubscribe tells the server to stop the stream and releases the
// subscription. Safe to call after the connection failed.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_ = s.client.Call(ctx, s.unsub, []interface{}{s.id}, nil)
		s.client.removeSub(s.id)
	})
}

// Subscribe starts a server-push subscription. The unsubMethod is invoked
// by Subscription.Unsubscribe.
func (c *Client) Subscribe(ctx context.Context, method, unsubMethod string, params interface{}) (*Subscription, error) {
	var rawID json.RawMessage
	if err := c.Call(ctx, method, params, &rawID); err != nil {
		return nil, err
	}
	id := trimQuotes(rawID)
	if id == "" {
		return nil, fmt.Errorf("%s: empty subscription id", method)
	}

	ch := make(chan json.RawMessage, 16)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return nil, errOrClosed(c.Err())
	}
	c.subs[id] = ch
	c.mu.Unlock()

	return &Subscription{C: ch, id: id, unsub: unsubMethod, client: c}, nil
}

// Done is closed when the connection has failed or been closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the connection down. Pending calls fail and subscription
// channels are closed.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	return nil
}

// ── Internals ────────────────────────────────────────────────────────

func (c *Client) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// readLoop blocks on the socket and dispatches frames. Any read error is
// permanent for a websocket connection, so the loop exits and fails the
// client; callers reconnect by dialing a fresh one.
func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("read: %w", err))
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.fail(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return
	}

	// Subscription push.
	if resp.Params != nil && len(resp.Params.Subscription) > 0 {
		id := trimQuotes(resp.Params.Subscription)
		c.mu.Lock()
		ch, ok := c.subs[id]
		c.mu.Unlock()
		if !ok {
			return
		}
		select {
		case ch <- resp.Params.Result:
		default:
			// Slow consumer: drop rather than stall the read loop.
		}
		return
	}

	// Call response.
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- &resp
	}
}

func (c *Client) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) removeSub(id string) {
	c.mu.Lock()
	if ch, ok := c.subs[id]; ok {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()
}

// fail records the terminal error once and releases everything.
func (c *Client) fail(err error) {
	c.teardown.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.err == nil {
			c.err = err
		}
		subs := c.subs
		c.subs = make(map[string]chan json.RawMessage)
		c.pending = make(map[uint64]chan *response)
		c.mu.Unlock()

		for _, ch := range subs {
			close(ch)
		}
		close(c.done)
		c.conn.Close()
	})
}

func errOrClosed(err error) error {
	if err != nil {
		return err
	}
	return ErrClosed
}

func trimQuotes(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}
