// Package monitoring runs the periodic snapshot, evaluate, diagnose and
// notify control loop over the configured metric rules.
package monitoring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chatbi-ai/chatbi/pkg/models"
)

// MetricSource contributes metric values to a snapshot. Sources are
// pluggable: dashboard KPIs, SQL probes, push gateways.
type MetricSource interface {
	Name() string
	Collect(ctx context.Context) (map[string]float64, error)
}

// SourceRegistry holds the metric sources. Collection failures of one
// source never block the others.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources []MetricSource
	log     *slog.Logger
}

// NewSourceRegistry creates an empty registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{log: slog.Default().With("component", "metric-sources")}
}

// Register adds a source.
func (r *SourceRegistry) Register(s MetricSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, s)
}

// Snapshot collects all sources into one atomic observation. Later
// sources win on key collisions.
func (r *SourceRegistry) Snapshot(ctx context.Context) models.MetricSnapshot {
	r.mu.RLock()
	sources := r.sources
	r.mu.RUnlock()

	snap := models.MetricSnapshot{
		Values:  make(map[string]float64),
		TakenAt: time.Now(),
	}
	for _, s := range sources {
		values, err := s.Collect(ctx)
		if err != nil {
			r.log.Warn("Metric source failed", "source", s.Name(), "error", err)
			continue
		}
		for k, v := range values {
			snap.Values[k] = v
		}
	}
	return snap
}

// FuncSource adapts a closure into a MetricSource.
type FuncSource struct {
	SourceName string
	Fn         func(ctx context.Context) (map[string]float64, error)
}

func (f FuncSource) Name() string { return f.SourceName }

func (f FuncSource) Collect(ctx context.Context) (map[string]float64, error) {
	return f.Fn(ctx)
}
