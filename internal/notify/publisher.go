package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/josh-kwaku/simsync/internal/logging"
)

type Publisher interface {
	Publish(ctx context.Context, event BatchCompleted) error
	Close() error
}

type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	// A path names the vhost and is kept as given.
	if u.Path == "" && u.RawQuery == "" {
		clean += "/"
	}
	return clean, nil
}

// NewAMQPPublisher connects and declares the durable topic exchange that
// batch events go to.
func NewAMQPPublisher(amqpURL, exchange string) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("NewAMQPPublisher: %w", err)
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("NewAMQPPublisher: dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("NewAMQPPublisher: channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("NewAMQPPublisher: declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event BatchCompleted) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("Publish: marshal: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, RoutingKeyBatchCompleted, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.EventID.String(),
			Timestamp:    event.CompletedAt,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("Publish: %w", err)
	}

	logging.FromContext(ctx).Debug("event published",
		"exchange", p.exchange,
		"routing_key", RoutingKeyBatchCompleted,
		"event_id", event.EventID,
	)
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to the log. It stands in when no broker is
// configured or the broker is unreachable at startup.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event BatchCompleted) error {
	logging.FromContext(ctx).Info("batch completed",
		"batch_id", event.BatchID,
		"operation", event.Operation,
		"status", event.Status,
		"total", event.Total,
		"succeeded", event.Succeeded,
		"failed", event.Failed,
		"cancelled", event.Cancelled,
		"message", event.Message,
	)
	return nil
}

func (LogPublisher) Close() error { return nil }

// NewPublisher returns an AMQP publisher when amqpURL is set and reachable,
// otherwise a LogPublisher.
func NewPublisher(ctx context.Context, amqpURL, exchange string) Publisher {
	log := logging.FromContext(ctx)
	if strings.TrimSpace(amqpURL) == "" {
		log.Info("amqp url not set, batch events go to the log")
		return LogPublisher{}
	}
	p, err := NewAMQPPublisher(amqpURL, exchange)
	if err != nil {
		log.Warn("amqp unavailable, batch events go to the log", "error", err)
		return LogPublisher{}
	}
	log.Info("amqp publisher connected", "exchange", exchange)
	return p
}
