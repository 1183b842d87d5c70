package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"tenantrun/internal/common/mq"
	"tenantrun/internal/execution/model"
)

const (
	DefaultTopic  = "tenantrun.runs"
	traceIDHeader = "x-trace-id"
)

// KafkaEvents publishes one event per run, keyed by tenant so a tenant's
// runs keep their order within a partition.
type KafkaEvents struct {
	producer mq.Producer
	topic    string
}

func NewKafkaEvents(producer mq.Producer, topic string) *KafkaEvents {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaEvents{producer: producer, topic: topic}
}

func (k *KafkaEvents) Name() string { return "kafka" }

func (k *KafkaEvents) Write(ctx context.Context, rec model.RunRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	msg := &mq.Message{
		ID:        rec.ID,
		Key:       rec.Tenant,
		Body:      body,
		Timestamp: rec.StartedAt,
	}
	if rec.TraceID != "" {
		msg.Headers = map[string]string{traceIDHeader: rec.TraceID}
	}
	return k.producer.Publish(ctx, k.topic, msg)
}
