// Package audit records a summary of every finished script run. Output of
// the script is never part of a record.
package audit

import (
	"context"

	"tenantrun/internal/execution/model"
	"tenantrun/pkg/utils/logger"

	"go.uber.org/zap"
)

// Recorder accepts finished runs.
type Recorder interface {
	Record(ctx context.Context, rec model.RunRecord)
}

// Sink stores or forwards run records.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec model.RunRecord) error
}

// FanOut writes each record to every sink in order. Sink failures are
// logged and never returned.
type FanOut struct {
	sinks []Sink
}

// NewFanOut builds a recorder over sinks; nil sinks are skipped.
func NewFanOut(sinks ...Sink) *FanOut {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &FanOut{sinks: kept}
}

func (f *FanOut) Record(ctx context.Context, rec model.RunRecord) {
	for _, s := range f.sinks {
		if err := s.Write(ctx, rec); err != nil {
			logger.Warn(ctx, "audit sink failed",
				zap.String("sink", s.Name()),
				zap.String("run_id", rec.ID),
				zap.String("tenant", rec.Tenant),
				zap.Error(err),
			)
		}
	}
}

// Len reports the number of configured sinks.
func (f *FanOut) Len() int {
	return len(f.sinks)
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(context.Context, model.RunRecord) {}
