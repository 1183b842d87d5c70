package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tenantrun/internal/common/cache"
	"tenantrun/internal/execution/model"
)

const (
	historyKeyPrefix = "tenantrun:runs:"
	DefaultKeep      = 100
	DefaultTTL       = 7 * 24 * time.Hour
)

// RedisHistory keeps the newest runs of each tenant in a capped list.
type RedisHistory struct {
	store cache.ListStore
	keep  int64
	ttl   time.Duration
}

// NewRedisHistory creates the history sink. keep and ttl fall back to
// DefaultKeep and DefaultTTL when not positive.
func NewRedisHistory(store cache.ListStore, keep int64, ttl time.Duration) *RedisHistory {
	if keep <= 0 {
		keep = DefaultKeep
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisHistory{store: store, keep: keep, ttl: ttl}
}

func historyKey(tenant string) string {
	return historyKeyPrefix + tenant
}

func (h *RedisHistory) Name() string { return "redis" }

func (h *RedisHistory) Write(ctx context.Context, rec model.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	return h.store.PushCapped(ctx, historyKey(rec.Tenant), data, h.keep, h.ttl)
}

// Recent returns up to limit records of tenant, newest first.
func (h *RedisHistory) Recent(ctx context.Context, tenant string, limit int64) ([]model.RunRecord, error) {
	if limit <= 0 || limit > h.keep {
		limit = h.keep
	}
	raw, err := h.store.LRange(ctx, historyKey(tenant), 0, limit-1)
	if err != nil {
		return nil, err
	}
	out := make([]model.RunRecord, 0, len(raw))
	for _, item := range raw {
		var rec model.RunRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
