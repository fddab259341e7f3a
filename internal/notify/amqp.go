// Package notify publishes kitchen board events to RabbitMQ so other
// services (POS front, pickup screens) can follow order progress.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Errors returned by Client.
var (
	ErrNack   = errors.New("publish NACK from broker")
	ErrClosed = errors.New("rabbitmq connection is closed")
)

// confirmChannel is the channel surface Client needs.
// Satisfied by *amqp.Channel; narrow interface for testability.
type confirmChannel interface {
	GetNextPublishSeqNo() uint64
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	IsClosed() bool
	Close() error
}

// Client is an AMQP channel in publisher confirm mode.
type Client struct {
	conn *amqp.Connection
	ch   confirmChannel

	acks <-chan amqp.Confirmation
	mu   sync.Mutex // serialises Publish so confirms are read in delivery-tag order
}

// Dial connects to url, opens a channel and enables publisher confirms.
func Dial(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 16))

	c := newClient(ch, acks)
	c.conn = conn
	return c, nil
}

func newClient(ch confirmChannel, acks <-chan amqp.Confirmation) *Client {
	return &Client{ch: ch, acks: acks}
}

// DeclareFanout declares a durable fanout exchange.
func (c *Client) DeclareFanout(name string) error {
	if err := c.ch.ExchangeDeclare(name, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

// Publish sends msg and waits for the broker's confirm of that message or
// ctx. Confirms left over from earlier publishes that gave up waiting are
// discarded by delivery tag.
func (c *Client) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tag := c.ch.GetNextPublishSeqNo()
	if err := c.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return err
	}

	for {
		select {
		case conf, ok := <-c.acks:
			if !ok {
				return amqp.ErrClosed
			}
			if conf.DeliveryTag < tag {
				continue
			}
			if conf.Ack {
				return nil
			}
			return ErrNack
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Ping reports whether the connection and channel are still open.
func (c *Client) Ping(ctx context.Context) error {
	if (c.conn != nil && c.conn.IsClosed()) || c.ch.IsClosed() {
		return ErrClosed
	}
	return nil
}

func (c *Client) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
