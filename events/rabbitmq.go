/*
Package events delivers domain events to RabbitMQ.

Events are published after the store transaction commits, to a durable
topic exchange with the event type as routing key:

	payment.recorded, subscription.state_changed,
	balance.consumed, balance.credited, balance.package_opened,
	balance.package_expired, cashflow.recorded

When the broker is unreachable at startup the server runs with a
LogPublisher instead; domain operations never depend on delivery.
*/
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/volan/membership-engine/core"
)

const dialTimeout = 10 * time.Second

// Producer publishes core.Events to a topic exchange.
type Producer struct {
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NewProducer dials amqpURL and declares the exchange.
func NewProducer(amqpURL, exchange string, logger *slog.Logger) (*Producer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clean, err := SanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if exchange == "" {
		return nil, errors.New("events: exchange is required")
	}

	conn, err := amqp091.DialConfig(clean, amqp091.Config{Dial: amqp091.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	p := &Producer{exchange: exchange, logger: logger, conn: conn}
	if err := p.reopen(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// reopen replaces the channel and re-declares the exchange. Caller holds mu
// or has exclusive access.
func (p *Producer) reopen() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		ch.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.channel = ch
	return nil
}

// Publish sends e with its type as routing key. A failed publish reopens the
// channel and retries once.
func (p *Producer) Publish(ctx context.Context, e core.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Type, err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Type:         string(e.Type),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, string(e.Type), false, false, msg)
	if err == nil {
		return nil
	}
	p.logger.Warn("publish failed, reopening channel",
		"exchange", p.exchange, "routing_key", e.Type, "error", err)
	if rerr := p.reopen(); rerr != nil {
		return errors.Join(err, rerr)
	}
	return p.channel.PublishWithContext(ctx, p.exchange, string(e.Type), false, false, msg)
}

func (p *Producer) Close() error {
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

// SanitizeURL trims quotes and stray prefixes from an env-provided AMQP URL
// and checks its scheme.
func SanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse amqp url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("amqp url scheme must be amqp:// or amqps://")
	}
	return clean, nil
}

// LogPublisher records events in the log instead of a broker.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, e core.Event) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("event not delivered, no broker", "type", e.Type, "key", e.Key, "at", e.At)
	return nil
}

// Connect returns a Producer for amqpURL, or a LogPublisher when amqpURL is
// empty or the broker cannot be reached. The returned close func is never nil.
func Connect(amqpURL, exchange string, logger *slog.Logger) (core.Publisher, func() error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(amqpURL) == "" {
		logger.Info("RABBITMQ_URL not set, events are logged only")
		return LogPublisher{Logger: logger}, func() error { return nil }
	}
	p, err := NewProducer(amqpURL, exchange, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable, events are logged only", "error", err)
		return LogPublisher{Logger: logger}, func() error { return nil }
	}
	logger.Info("publishing events to rabbitmq", "exchange", exchange)
	return p, p.Close
}
