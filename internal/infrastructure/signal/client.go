package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"camlink/internal/core/domain"
	"camlink/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is the endpoint side of the relay connection. The broadcaster and
// viewer processes both talk to the relay through it.
type Client struct {
	url        string
	endpointID domain.EndpointID
	logger     *zap.SugaredLogger

	writeTimeout time.Duration
	dialRetry    retry.Config

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	onMessage    func(Message)
	onDisconnect func(error)
}

type ClientOption func(*Client)

func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.writeTimeout = d }
}

// WithDialRetry overrides the retry policy applied when dialing the relay.
func WithDialRetry(cfg retry.Config) ClientOption {
	return func(c *Client) { c.dialRetry = cfg }
}

func NewClient(url string, endpointID domain.EndpointID, logger *zap.SugaredLogger, opts ...ClientOption) *Client {
	c := &Client{
		url:          url,
		endpointID:   endpointID,
		logger:       logger,
		writeTimeout: 10 * time.Second,
		dialRetry:    retry.FixedConfig(2, time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessage registers the inbound message handler. Must be called before
// Connect; the handler runs on the read loop goroutine.
func (c *Client) OnMessage(fn func(Message)) {
	c.onMessage = fn
}

// OnDisconnect registers a handler invoked once when the connection drops
// for any reason other than Close.
func (c *Client) OnDisconnect(fn func(error)) {
	c.onDisconnect = fn
}

func (c *Client) EndpointID() domain.EndpointID {
	return c.endpointID
}

// Connect dials the relay and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	dialURL := fmt.Sprintf("%s?endpoint_id=%s", c.url, c.endpointID)

	conn, err := retry.RetryWithResult(ctx, c.dialRetry, func() (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
		return conn, err
	})
	if err != nil {
		return fmt.Errorf("failed to dial signaling relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	c.logger.Infow("connected to signaling relay", "url", c.url, "endpoint_id", c.endpointID)

	go c.readLoop(conn)
	return nil
}

// Reconnect drops the current connection, if any, and dials the relay again.
// The old read loop exits without firing OnDisconnect, so the caller decides
// when a reconnect happens instead of the supervisor chasing its own tail.
func (c *Client) Reconnect(ctx context.Context) error {
	c.Close()
	return c.Connect(ctx)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()

			if !closed {
				c.logger.Warnw("signaling connection lost", "endpoint_id", c.endpointID, "error", err)
				if c.onDisconnect != nil {
					c.onDisconnect(err)
				}
			}
			return
		}

		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

// Send writes a message to the relay.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.closed {
		return domain.ErrEndpointNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(msg)
}

// SendPayload marshals the payload and sends it in one step.
func (c *Client) SendPayload(msgType MessageType, to domain.EndpointID, payload interface{}) error {
	msg, err := NewMessage(msgType, to, payload)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// Close shuts the connection down without firing OnDisconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.closed {
		return nil
	}
	c.closed = true

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
