package domain

import (
	"context"
	"time"
)

// RenderCounters are additive daily render statistics.
type RenderCounters struct {
	Total            int `json:"renders_total"`
	Succeeded        int `json:"renders_succeeded"`
	Failed           int `json:"renders_failed"`
	Repaired         int `json:"renders_repaired"`
	GenerationErrors int `json:"generation_errors"`
	ArtifactMissing  int `json:"artifact_missing"`
	DevRuns          int `json:"dev_runs"`
}

// RenderDaily is one day of counters.
type RenderDaily struct {
	Day time.Time `json:"day"`
	RenderCounters
}

// AnalyticsRepository persists render counters.
type AnalyticsRepository interface {
	IncrementRenderCounters(ctx context.Context, day time.Time, delta RenderCounters) error
	RecentRenderDays(ctx context.Context, limit int) ([]RenderDaily, error)
}
