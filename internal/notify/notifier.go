package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kiwari-pos/kds/internal/kitchen"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	queueSize      = 128
	publishTimeout = 5 * time.Second
)

// Publisher is the broker surface the notifier needs. Satisfied by *Client.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error
}

// Notifier forwards status changes to an exchange. Notify only queues the
// event; Run publishes them one at a time. Publishing is best effort.
type Notifier struct {
	pub      Publisher
	exchange string
	queue    chan kitchen.Event
	logger   *zap.Logger
}

// NewNotifier creates a Notifier publishing to exchange.
func NewNotifier(pub Publisher, exchange string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		pub:      pub,
		exchange: exchange,
		queue:    make(chan kitchen.Event, queueSize),
		logger:   logger,
	}
}

// Notify queues status change events and ignores the rest.
func (n *Notifier) Notify(ctx context.Context, ev kitchen.Event) {
	if ev.Type != kitchen.EventStatusChanged {
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.logger.Warn("publish queue full, dropping event",
			zap.String("event_id", ev.ID.String()),
			zap.Int64("order_id", ev.OrderID),
		)
	}
}

// Run publishes queued events until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.queue:
			if err := n.publish(ctx, ev); err != nil {
				n.logger.Error("publish status change",
					zap.String("event_id", ev.ID.String()),
					zap.Int64("order_id", ev.OrderID),
					zap.Error(err),
				)
			}
		}
	}
}

func (n *Notifier) publish(ctx context.Context, ev kitchen.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return n.pub.Publish(ctx, n.exchange, string(ev.Type), amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    ev.ID.String(),
		Type:         string(ev.Type),
		Timestamp:    ev.At,
		Body:         body,
	})
}
