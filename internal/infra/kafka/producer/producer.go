package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/image-batch/internal/config"
	"github.com/aliskhannn/image-batch/internal/model"
)

// Producer publishes batch reports to the report topic.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
	cfg      *config.Kafka
}

// New creates a new Producer writing to cfg.ReportTopic.
func New(cfg *config.Kafka, s retry.Strategy) *Producer {
	producer := wbfkafka.NewProducer(cfg.Brokers, cfg.ReportTopic)

	return &Producer{
		Client:   producer,
		cfg:      cfg,
		strategy: s,
	}
}

// Publish serializes the report to JSON and sends it to Kafka.
func (p *Producer) Publish(ctx context.Context, report model.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err = p.Client.SendWithRetry(ctx, p.strategy, ReportKey(report), data); err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}

	return nil
}

// ReportKey returns the message key of a report: the batch ID, or a fresh ID
// for reports of batches that never started.
func ReportKey(report model.Report) []byte {
	if report.Result != nil {
		return []byte(report.Result.ID.String())
	}
	return []byte(uuid.NewString())
}
