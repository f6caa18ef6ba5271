// Package amqp announces finished recordings on a RabbitMQ queue.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	amqplib "github.com/rabbitmq/amqp091-go"
	"github.com/ssk-wh/ffmpeg-demo/recorder"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultQueueName is the default queue for recording events
	DefaultQueueName = "recordings.events"

	// DefaultPublishTimeout is the default timeout for publishing messages
	DefaultPublishTimeout = 5 * time.Second

	EventRecordingFinished = "recording.finished"
	EventRecordingAborted  = "recording.aborted"
)

var (
	ErrPublisherClosed = errors.New("publisher is closed")
	ErrNotConnected    = errors.New("not connected to RabbitMQ")
)

// RecordingEvent is the message body published for each session.
type RecordingEvent struct {
	Type        string                  `json:"type"`
	SessionID   string                  `json:"session_id"`
	Summary     recorder.SessionSummary `json:"summary"`
	PublishedAt time.Time               `json:"published_at"`
}

// NewRecordingEvent picks the event type from the session's final state.
func NewRecordingEvent(summary recorder.SessionSummary) *RecordingEvent {
	typ := EventRecordingFinished
	if summary.State == recorder.StateAborted.String() {
		typ = EventRecordingAborted
	}
	return &RecordingEvent{
		Type:      typ,
		SessionID: summary.SessionID,
		Summary:   summary,
	}
}

// Config holds the configuration for the AMQP publisher
type Config struct {
	URI            string
	QueueName      string
	PublishTimeout time.Duration
}

// Publisher handles publishing messages to RabbitMQ
type Publisher struct {
	cfg     Config
	conn    *amqplib.Connection
	channel *amqplib.Channel
	mu      sync.RWMutex
	closed  bool
	logger  *zap.Logger
}

// NewPublisher creates a new AMQP publisher. It does not dial until Connect.
func NewPublisher(logger *zap.Logger, cfg Config) *Publisher {
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "amqp"), zap.String("queue", cfg.QueueName)),
	}
}

// Connect dials the broker and declares the durable queue.
func (p *Publisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}

	conn, err := amqplib.DialConfig(p.cfg.URI, amqplib.Config{
		Dial: p.dialContext(ctx),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		p.cfg.QueueName, // name
		true,            // durable
		false,           // delete when unused
		false,           // exclusive
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	p.conn = conn
	p.channel = channel
	p.logger.Info("Connected to RabbitMQ")
	return nil
}

// dialContext dials under ctx and bounds the AMQP handshake by the earlier of
// ctx's deadline and PublishTimeout. The client clears the deadline once the
// connection is open.
func (p *Publisher) dialContext(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: p.cfg.PublishTimeout}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		deadline := time.Now().Add(p.cfg.PublishTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

// newPublishing builds the persistent JSON message for event.
func newPublishing(event *RecordingEvent) (amqplib.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqplib.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqplib.Publishing{
		ContentType:  "application/json",
		Type:         event.Type,
		Body:         body,
		DeliveryMode: amqplib.Persistent,
		Timestamp:    event.PublishedAt,
		MessageId:    event.SessionID,
	}, nil
}

// Publish sends event to the queue through the default exchange.
func (p *Publisher) Publish(ctx context.Context, event *RecordingEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if p.channel == nil {
		return ErrNotConnected
	}

	event.PublishedAt = time.Now().UTC()
	msg, err := newPublishing(event)
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		publishCtx,
		"",              // exchange (empty for default exchange)
		p.cfg.QueueName, // routing key (queue name)
		false,           // mandatory
		false,           // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("Published recording event",
		zap.String("type", event.Type),
		zap.String("session_id", event.SessionID))
	return nil
}

// Close closes the AMQP connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if p.channel != nil {
		err = multierr.Append(err, p.channel.Close())
		p.channel = nil
	}
	if p.conn != nil {
		err = multierr.Append(err, p.conn.Close())
		p.conn = nil
	}
	if err != nil {
		return fmt.Errorf("errors closing publisher: %w", err)
	}
	p.logger.Debug("AMQP publisher closed")
	return nil
}

// IsConnected returns true if the publisher is connected
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil && !p.conn.IsClosed() && p.channel != nil
}
