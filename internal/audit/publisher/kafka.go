// Package publisher fans audit events out to Kafka for downstream consumers
// (SIEM, reporting warehouse). The store remains the compliance artifact;
// fan-out is best-effort and asynchronous so a broker outage never stalls a
// pipeline run.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"changegate/internal/domain"
)

type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafka connects to the brokers and ensures the audit topic exists.
func NewKafka(ctx context.Context, brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}

	adm := kadm.NewClient(client)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, err
	}
	for _, r := range resp {
		// An existing topic is fine; anything else is a real setup failure.
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			client.Close()
			return nil, r.Err
		}
	}

	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

// wireEvent is the JSON shape produced to the audit topic.
type wireEvent struct {
	ChangeID  string            `json:"change_id"`
	Step      string            `json:"step"`
	Action    string            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	Seq       uint64            `json:"seq"`
	Details   map[string]string `json:"details,omitempty"`
}

// Publish produces the event keyed by change so per-change ordering survives
// partitioning. Delivery failures are logged, never returned.
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.AuditEvent) {
	payload, err := json.Marshal(wireEvent{
		ChangeID:  string(event.ChangeID),
		Step:      string(event.Step),
		Action:    string(event.Action),
		Timestamp: event.Timestamp,
		Seq:       event.Seq,
		Details:   event.Details,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal audit event for kafka", "error", err)
		return
	}

	record := &kgo.Record{
		Key:   []byte(event.ChangeID),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.WarnContext(ctx, "audit fan-out delivery failed",
				"change_id", event.ChangeID,
				"action", event.Action,
				"error", err,
			)
		}
	})
}

// Close flushes outstanding records and releases the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return err
	}
	p.client.Close()
	return nil
}
