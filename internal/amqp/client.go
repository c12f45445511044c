package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishRetries = 3
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type Client struct {
	url          string
	exchangeName string
	queueName    string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

func setup(ch *amqp091.Channel, exchange, queue string) error {
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	// Direct exchange: the queue name doubles as routing key.
	if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil || c.channel.IsClosed() {
		return nil
	}
	return c.channel
}

func (c *Client) reconnect(ctx context.Context, attempt int) error {
	delay := exponentialBackoff(attempt)
	slog.WarnContext(ctx, "Reconnecting to AMQP broker", "attempt", attempt+1, "delay", delay)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}

	c.closeConn()
	return c.connect()
}

// PublishPayload sends one ingest payload wrapped in a Message envelope.
func (c *Client) PublishPayload(ctx context.Context, source string, payload []byte) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish payload: %w", ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := NewMessage(source, payload).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < publishRetries; attempt++ {
		ch := c.currentChannel()
		if ch == nil {
			if err := c.reconnect(ctx, attempt); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.recordFailure()
				lastErr = err
				continue
			}
			ch = c.currentChannel()
		}

		lastErr = c.publish(ctx, ch, body)
		if lastErr == nil {
			c.recordSuccess()
			slog.InfoContext(ctx, "Published ingest payload",
				"source", source,
				"bytes", len(payload),
				"exchange", c.exchangeName,
				"queue", c.queueName)
			return nil
		}

		c.recordFailure()
		if !isConnectionError(lastErr) {
			break
		}
		c.closeConn()
	}
	return fmt.Errorf("publish message: %w", lastErr)
}

func (c *Client) publish(ctx context.Context, ch *amqp091.Channel, body []byte) error {
	if ch == nil {
		return errors.New("channel not open")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(
		ctx,
		c.exchangeName,
		c.queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// Discard marks a handler error as final: the delivery is rejected without requeue.
type Discard struct{ Err error }

func (d Discard) Error() string { return d.Err.Error() }
func (d Discard) Unwrap() error { return d.Err }

// ConsumePayloads delivers each message's payload to handler until ctx is
// done. Undecodable envelopes and Discard errors are dropped; any other
// handler error requeues the delivery. A lost broker connection is
// re-established with exponential backoff; only ctx ends the loop.
func (c *Client) ConsumePayloads(ctx context.Context, handler func(ctx context.Context, payload []byte) error) error {
	err := consumeLoop(ctx, c.consume, c.reconnect, handler)
	slog.InfoContext(ctx, "Stopping message consumption", "reason", err)
	return err
}

func (c *Client) consume() (<-chan amqp091.Delivery, error) {
	ch := c.currentChannel()
	if ch == nil {
		return nil, errors.New("channel not open")
	}
	return ch.Consume(c.queueName, "", false, false, false, false, nil)
}

// consumeLoop opens a delivery stream, drains it, and reconnects when it
// closes. The backoff attempt resets once a stream delivers a message.
func consumeLoop(
	ctx context.Context,
	open func() (<-chan amqp091.Delivery, error),
	reconnect func(ctx context.Context, attempt int) error,
	handler func(context.Context, []byte) error,
) error {
	attempt := 0
	for {
		msgs, err := open()
		if err == nil {
			slog.InfoContext(ctx, "Started consuming ingest payloads")
			delivered, err := drain(ctx, msgs, handler)
			if err != nil {
				return err
			}
			if delivered {
				attempt = 0
			}
			slog.WarnContext(ctx, "AMQP delivery channel closed")
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.WarnContext(ctx, "Failed to start consuming", "error", err)
		}

		if err := reconnect(ctx, attempt); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.WarnContext(ctx, "AMQP reconnect failed", "attempt", attempt+1, "error", err)
		}
		attempt++
	}
}

// drain dispatches deliveries until msgs closes (nil error) or ctx ends.
func drain(ctx context.Context, msgs <-chan amqp091.Delivery, handler func(context.Context, []byte) error) (bool, error) {
	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return delivered, nil
			}
			delivered = true
			dispatch(ctx, d.Body, &d, handler)
		}
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func dispatch(ctx context.Context, body []byte, ack acknowledger, handler func(context.Context, []byte) error) {
	msg, err := MessageFromJSON(body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err)
		ack.Nack(false, false)
		return
	}

	if err := handler(ctx, msg.Payload); err != nil {
		var discard Discard
		if errors.As(err, &discard) {
			slog.WarnContext(ctx, "Discarding ingest payload", "error", err, "source", msg.Source)
			ack.Nack(false, false)
			return
		}
		slog.ErrorContext(ctx, "Failed to handle message", "error", err, "source", msg.Source)
		ack.Nack(false, true)
		return
	}

	ack.Ack(false)
	slog.DebugContext(ctx, "Processed ingest payload", "source", msg.Source, "bytes", len(msg.Payload))
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			slog.Warn("AMQP circuit breaker opened", "failures", atomic.LoadInt64(&c.failureCount))
		}
	}
}

// isCircuitOpen reports whether publishing is blocked. An open breaker
// moves to half-open once openTimeout has passed since the last failure.
func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
