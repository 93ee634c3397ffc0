package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/courtflow/syncbridge/internal/models"
	"github.com/courtflow/syncbridge/pkg/metrics"
)

const Exchange = "courtflow.sync"

// Publisher emits sync lifecycle events to a RabbitMQ topic exchange so the
// notification service can react to imports, pushes and conflicts.
type Publisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	logger     *slog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewPublisher initializes a connection and a channel with Publisher
// Confirms enabled, and declares the sync topic exchange
func NewPublisher(url string, l *slog.Logger) (*Publisher, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %v", err)
	}

	if err := ch.ExchangeDeclare(
		Exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to declare topic exchange: %v", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		conn:       c,
		channel:    ch,
		logger:     l,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	p.healthy.Store(true)

	p.conn.NotifyClose(p.connClosed)
	p.channel.NotifyClose(p.chanClosed)

	go func() {
		select {
		case err := <-p.connClosed:
			p.healthy.Store(false)
			l.Warn("RabbitMQ connection closed", "error", err)
		case err := <-p.chanClosed:
			p.healthy.Store(false)
			l.Warn("RabbitMQ channel closed", "error", err)
		case <-p.ctx.Done():
			return
		}
	}()

	l.Info("Outcome publisher connected to RabbitMQ", "exchange", Exchange)
	return p, nil
}

// PublishOutcome sends one sync outcome event and blocks until the broker
// confirms (ACK/NACK) or the context expires
func (p *Publisher) PublishOutcome(ctx context.Context, outcome models.SyncOutcome) error {
	if !p.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}

	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to serialize outcome: %v", err)
	}

	routingKey := fmt.Sprintf("sync.%s.%s.%s", outcome.System, outcome.EntityType, outcome.Outcome)

	deferred, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			Headers: amqp.Table{
				"event_id": outcome.EventID,
			},
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("failed to publish outcome to exchange", "event_id", outcome.EventID, "routing_key", routingKey, "error", err)
		return fmt.Errorf("publish call failed: %v", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received: event not persisted")
		}
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("publisher confirm timeout")
	}
}

// Close gracefully shuts down the RabbitMQ resources
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.logger.Info("Terminating outcome publisher")
		p.cancel()
		if p.channel != nil {
			p.channel.Close()
		}
		if p.conn != nil {
			p.conn.Close()
		}
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (p *Publisher) IsHealthy() bool {
	return p.healthy.Load()
}

// Reconnect replaces a dead connection; callers drive this from their own
// backoff loop
func Reconnect(url string, l *slog.Logger) (*Publisher, error) {
	metrics.BrokerReconnections.Inc()
	return NewPublisher(url, l)
}
