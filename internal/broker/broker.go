// Package broker owns the connection and channel to the message broker,
// hiding reconnection from the producer and consumer sides. The queue is
// declared durable with quorum replication; deliveries are bounded by a
// per-channel prefetch so one worker instance is never overwhelmed.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// maxRetries bounds reconnection attempts. A worker that cannot reach
// the broker after this many tries provides zero value; it must exit and
// be restarted by its supervisor rather than idle in a degraded mode.
const maxRetries = 10

// ErrRetriesExhausted is returned once reconnection gives up. Callers
// treat it as fatal.
var ErrRetriesExhausted = errors.New("broker reconnect retries exhausted")

// Config locates the broker and the queue.
type Config struct {
	URL      string
	Queue    string
	Prefetch int
}

// Handler processes one delivery body. A nil return acknowledges the
// message; any error rejects it without requeue.
type Handler func(ctx context.Context, body []byte) error

// channelAPI is the slice of the AMQP channel the connection manager
// uses. Tests substitute an in-memory implementation.
type channelAPI interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	IsClosed() bool
	Close() error
}

// connectionAPI is the slice of the AMQP connection the manager uses.
type connectionAPI interface {
	Channel() (channelAPI, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// amqpConnection adapts *amqp.Connection to connectionAPI.
type amqpConnection struct{ *amqp.Connection }

func (c amqpConnection) Channel() (channelAPI, error) { return c.Connection.Channel() }

func amqpDial(url string) (connectionAPI, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// Connection is a single logical connection plus channel. Publish and
// Consume are the only operations the rest of the system sees.
type Connection struct {
	cfg     Config
	dial    func(url string) (connectionAPI, error)
	backoff func(attempt int) time.Duration

	mu   sync.Mutex
	conn connectionAPI
	ch   channelAPI
}

// Dial connects, retrying with exponential backoff up to maxRetries.
func Dial(cfg Config) (*Connection, error) {
	c := &Connection{cfg: cfg, dial: amqpDial, backoff: Backoff}
	for attempt := 0; ; attempt++ {
		err := c.connect()
		if err == nil {
			return c, nil
		}
		if attempt >= maxRetries {
			return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
		}
		wait := c.backoff(attempt)
		log.Warn().Err(err).Dur("wait", wait).Int("attempt", attempt+1).Msg("broker connect failed, retrying")
		time.Sleep(wait)
	}
}

// Backoff is the reconnect wait for the given attempt:
// min(2^attempt * 1s, 30s).
func Backoff(attempt int) time.Duration {
	if attempt > 5 {
		return 30 * time.Second
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (c *Connection) connect() error {
	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, amqp.Table{
		"x-queue-type": "quorum",
	}); err != nil {
		conn.Close()
		return fmt.Errorf("declare queue %q: %w", c.cfg.Queue, err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}

	c.mu.Lock()
	// A channel-level failure can leave the TCP connection alive; close
	// it before overwriting so reconnects never leak connections.
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}
	c.conn, c.ch = conn, ch
	c.mu.Unlock()
	log.Info().Str("queue", c.cfg.Queue).Int("prefetch", c.cfg.Prefetch).Msg("broker connected")
	return nil
}

// Publish sends one persistent message to the queue. A closed channel
// triggers a single reconnect; past that the error surfaces to the
// caller so the producing request fails loudly.
func (c *Connection) Publish(ctx context.Context, body []byte) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil || ch.IsClosed() {
		if err := c.connect(); err != nil {
			return err
		}
		c.mu.Lock()
		ch = c.ch
		c.mu.Unlock()
	}
	err := ch.PublishWithContext(ctx, "", c.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %q: %w", c.cfg.Queue, err)
	}
	return nil
}

// Consume pulls deliveries and feeds them to the handler until ctx is
// canceled. On connection loss it reconnects with exponential backoff;
// after maxRetries failures it returns ErrRetriesExhausted and the
// process must terminate. The attempt counter resets to zero after every
// successful reconnect.
func (c *Connection) Consume(ctx context.Context, handler Handler) error {
	for {
		if err := c.consumeOnce(ctx, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
}

// consumeOnce drains deliveries over the current channel until it dies.
// A nil return means the connection was lost and the caller should
// reconnect.
func (c *Connection) consumeOnce(ctx context.Context, handler Handler) error {
	c.mu.Lock()
	conn, ch := c.conn, c.ch
	c.mu.Unlock()

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		log.Error().Err(err).Msg("consume registration failed")
		return nil
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	log.Info().Str("queue", c.cfg.Queue).Msg("waiting for deliveries")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			log.Error().Err(amqpErr).Msg("broker connection closed")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if herr := handler(ctx, d.Body); herr != nil {
				log.Error().Err(herr).Msg("delivery rejected")
				if nerr := d.Nack(false, false); nerr != nil {
					log.Error().Err(nerr).Msg("nack failed")
				}
				continue
			}
			if aerr := d.Ack(false); aerr != nil {
				log.Error().Err(aerr).Msg("ack failed")
			}
		}
	}
}

func (c *Connection) reconnect(ctx context.Context) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		wait := c.backoff(attempt)
		log.Warn().Dur("wait", wait).Int("attempt", attempt+1).Msg("reconnecting to broker")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if err := c.connect(); err != nil {
			log.Error().Err(err).Msg("reconnect attempt failed")
			continue
		}
		return nil
	}
	return ErrRetriesExhausted
}

// Close shuts the channel and connection down.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil && !c.ch.IsClosed() {
		_ = c.ch.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
