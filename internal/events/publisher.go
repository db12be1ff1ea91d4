// Package events publishes pipeline run summaries to Kafka for downstream
// consumers. Publishing is optional: with no brokers configured the
// publisher is a no-op.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/tidemark-io/tidemark/internal/config"
	"github.com/tidemark-io/tidemark/internal/pipeline"
)

// DefaultTopic is the run-summary topic when none is configured.
const DefaultTopic = "tidemark.run-summaries"

// PublisherConfig holds the Kafka settings for run-summary publishing.
type PublisherConfig struct {
	Brokers []string
	Topic   string
}

// LoadPublisherConfig reads Kafka settings from the environment. Empty
// EVENTS_KAFKA_BROKERS disables publishing.
func LoadPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Brokers: config.ParseCommaSeparatedList(config.GetEnvStr("EVENTS_KAFKA_BROKERS", "")),
		Topic:   config.GetEnvStr("EVENTS_KAFKA_TOPIC", DefaultTopic),
	}
}

// Enabled reports whether any broker is configured.
func (c PublisherConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// Publisher writes one message per completed pipeline run.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a run-summary producer. Returns nil when publishing
// is disabled; a nil Publisher is safe to use.
func NewPublisher(cfg PublisherConfig, logger *slog.Logger) *Publisher {
	if !cfg.Enabled() {
		return nil
	}

	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	if logger == nil {
		logger = slog.Default()
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}

	return &Publisher{writer: w, logger: logger}
}

// Publish serializes and sends one run summary. Failures are logged and
// returned but callers typically treat them as non-fatal: the run already
// finished.
func (p *Publisher) Publish(ctx context.Context, summary pipeline.Summary) error {
	if p == nil {
		return nil
	}

	msg, err := serializeSummary(summary)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("run summary publish failed",
			"run_id", summary.RunID,
			"error", err)

		return fmt.Errorf("publish run summary: %w", err)
	}

	p.logger.Info("run summary published",
		"run_id", summary.RunID,
		"status", summary.Status)

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}

	return p.writer.Close()
}

// serializeSummary marshals a run summary into a Kafka message keyed by run
// id.
func serializeSummary(summary pipeline.Summary) (kafkago.Message, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run summary: %w", err)
	}

	return kafkago.Message{
		Key:   []byte(summary.RunID.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "status", Value: []byte(summary.Status)},
			{Key: "finished_at", Value: []byte(summary.FinishedAt.Format(time.RFC3339))},
		},
	}, nil
}
