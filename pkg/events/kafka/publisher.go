// Package kafka publishes finished-call events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/harunnryd/voicedesk/pkg/postcall"
	"github.com/harunnryd/voicedesk/pkg/resilience"
)

const EventCallCompleted = "call.completed"

// Config holds Kafka publisher configuration.
type Config struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// DialTimeout bounds each broker connection attempt. Zero means 10s.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes call.completed events. With Kafka disabled it only logs.
type Publisher struct {
	writer  messageWriter
	topic   string
	enabled bool
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Topic == "" {
		cfg.Topic = "voicedesk.calls"
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("kafka_disabled", "mode", "log-only")
		return &Publisher{topic: cfg.Topic, logger: logger}
	}

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafkago.RequireOne,
		Transport:    &kafkago.Transport{DialTimeout: cfg.DialTimeout},
	}
	logger.Info("kafka_publisher_ready", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return &Publisher{writer: writer, topic: cfg.Topic, enabled: true, logger: logger}
}

func (p *Publisher) Enabled() bool { return p.enabled }

// PublishCallCompleted sends rec keyed by call SID.
func (p *Publisher) PublishCallCompleted(ctx context.Context, rec postcall.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return resilience.Permanent(err)
	}
	p.logger.Debug("event_publish", "topic", p.topic, "event", EventCallCompleted, "call_sid", rec.CallID, "bytes", len(payload))
	if !p.enabled || p.writer == nil {
		return nil
	}
	msg := kafkago.Message{
		Key:   []byte(rec.CallID),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "eventType", Value: []byte(EventCallCompleted)},
			{Key: "status", Value: []byte(rec.Status)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("event_publish_failed", "topic", p.topic, "call_sid", rec.CallID, "error", err.Error())
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
