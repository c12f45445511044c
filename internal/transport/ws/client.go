// Package ws is the live-update feed client: it keeps a WebSocket open to
// an upstream source and forwards every text frame as one ingest payload.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"wastewatch/internal/ingest"
	"wastewatch/internal/log"
)

const DefaultReconnectDelay = time.Second

type Options struct {
	URL            string
	ReconnectDelay time.Duration
	// HandshakeTimeout of zero means no timeout.
	HandshakeTimeout time.Duration
	Header           http.Header
	Logger           *log.Logger
}

// Client reconnects after a fixed delay, forever, until Close is called or
// the Run context ends.
type Client struct {
	opts     Options
	receiver ingest.Receiver
	dialer   *websocket.Dialer
	logger   *log.Logger

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	attempts  atomic.Int64

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(opts Options, r ingest.Receiver) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		opts:     opts,
		receiver: r,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger.WithComponent(log.ComponentFeed),
		done:   make(chan struct{}),
	}
}

// Run blocks until Close or ctx cancellation. It returns nil after Close.
func (c *Client) Run(ctx context.Context) error {
	for {
		if c.closed.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		n := c.attempts.Add(1)
		conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if err != nil {
			c.logger.WarnContext(ctx, "Feed connection failed",
				"url", c.opts.URL,
				"attempt", n,
				log.FieldError, err)
		} else {
			c.logger.InfoContext(ctx, "Feed connected", "url", c.opts.URL, "attempt", n)
			c.serve(ctx, conn)
		}

		if c.closed.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && ctx.Err() == nil {
				c.logger.WarnContext(ctx, "Feed connection lost", log.FieldError, err)
			}
			return
		}
		// Errors are logged by the receiver; the connection stays up.
		_, err = c.receiver.Receive(ctx, log.TransportFeed, msg)
		if err != nil && !errors.Is(err, ingest.ErrMalformed) {
			c.logger.DebugContext(ctx, "Feed payload not applied", log.FieldError, err)
		}
	}
}

// Attempts returns how many connections were tried so far.
func (c *Client) Attempts() int64 {
	return c.attempts.Load()
}

// Close stops the client. No reconnect is attempted afterwards.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
