package audit_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"tenantrun/internal/audit"
	"tenantrun/internal/common/cache"
	"tenantrun/internal/common/mq"
	"tenantrun/internal/execution/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeProducer struct {
	topic string
	msgs  []*mq.Message
	err   error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.msgs = append(p.msgs, message)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

type countingSink struct {
	name   string
	writes int
	err    error
}

func (s *countingSink) Name() string { return s.name }

func (s *countingSink) Write(ctx context.Context, rec model.RunRecord) error {
	s.writes++
	return s.err
}

func record(tenant, id string) model.RunRecord {
	return model.RunRecord{
		ID:        id,
		TraceID:   "trace-" + id,
		Tenant:    tenant,
		Script:    "hello",
		Succeeded: true,
		StartedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Duration:  150 * time.Millisecond,
	}
}

func TestFanOutContinuesAfterSinkFailure(t *testing.T) {
	failing := &countingSink{name: "broken", err: fmt.Errorf("down")}
	healthy := &countingSink{name: "ok"}
	rec := audit.NewFanOut(failing, nil, healthy)

	if rec.Len() != 2 {
		t.Fatalf("nil sink should be skipped, got %d sinks", rec.Len())
	}
	rec.Record(context.Background(), record("alice", "1"))
	if failing.writes != 1 || healthy.writes != 1 {
		t.Fatalf("every sink should see the record: %d %d", failing.writes, healthy.writes)
	}
}

func TestRedisHistoryKeepsNewestRuns(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	h := audit.NewRedisHistory(store, 2, time.Hour)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if err := h.Write(ctx, record("alice", id)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := h.Write(ctx, record("bob", "9")); err != nil {
		t.Fatalf("write: %v", err)
	}

	runs, err := h.Recent(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "3" || runs[1].ID != "2" {
		t.Fatalf("unexpected history: %+v", runs)
	}
	if runs[0].Duration != 150*time.Millisecond {
		t.Fatalf("duration lost: %v", runs[0].Duration)
	}
	if !mr.Exists("tenantrun:runs:bob") {
		t.Fatalf("tenants must have separate keys")
	}
	if ttl := mr.TTL("tenantrun:runs:alice"); ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	raw, _ := mr.List("tenantrun:runs:alice")
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw[0]), &decoded); err != nil {
		t.Fatalf("stored value is not json: %v", err)
	}
	if _, ok := decoded["output"]; ok {
		t.Fatalf("record must not carry script output")
	}
}

func TestKafkaEventsKeyedByTenant(t *testing.T) {
	p := &fakeProducer{}
	sink := audit.NewKafkaEvents(p, "")

	if err := sink.Write(context.Background(), record("alice", "7")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if p.topic != audit.DefaultTopic {
		t.Fatalf("unexpected topic %q", p.topic)
	}
	msg := p.msgs[0]
	if msg.Key != "alice" || msg.ID != "7" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Headers["x-trace-id"] != "trace-7" {
		t.Fatalf("trace header missing: %+v", msg.Headers)
	}
	var got model.RunRecord
	if err := json.Unmarshal(msg.Body, &got); err != nil || got.Script != "hello" {
		t.Fatalf("unexpected body %s (%v)", msg.Body, err)
	}
}

func TestKafkaEventsPropagatesPublishError(t *testing.T) {
	sink := audit.NewKafkaEvents(&fakeProducer{err: fmt.Errorf("broker down")}, "runs")
	if err := sink.Write(context.Background(), record("alice", "1")); err == nil {
		t.Fatalf("expected error")
	}
}
