package repo

import (
	"context"
	"fmt"
	"time"

	"visdom/internal/domain"
	"visdom/internal/infra"
	"visdom/internal/sqlinline"
)

const maxRenderDays = 90

// AnalyticsRepositoryPG implements domain.AnalyticsRepository using PostgreSQL.
type AnalyticsRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAnalyticsRepository constructs the repository.
func NewAnalyticsRepository(sql infra.SQLExecutor) *AnalyticsRepositoryPG {
	return &AnalyticsRepositoryPG{sql: sql}
}

// IncrementRenderCounters upserts the deltas into the row for day.
func (r *AnalyticsRepositoryPG) IncrementRenderCounters(ctx context.Context, day time.Time, delta domain.RenderCounters) error {
	_, err := r.sql.Exec(ctx, sqlinline.QIncrementRenderDaily,
		day.UTC().Format(time.DateOnly),
		delta.Total,
		delta.Succeeded,
		delta.Failed,
		delta.Repaired,
		delta.GenerationErrors,
		delta.ArtifactMissing,
		delta.DevRuns,
	)
	if err != nil {
		return fmt.Errorf("increment render counters: %w", err)
	}
	return nil
}

// RecentRenderDays returns up to limit days of counters, newest first.
func (r *AnalyticsRepositoryPG) RecentRenderDays(ctx context.Context, limit int) ([]domain.RenderDaily, error) {
	if limit <= 0 || limit > maxRenderDays {
		limit = maxRenderDays
	}
	rows, err := r.sql.Query(ctx, sqlinline.QSelectRenderDaily, limit)
	if err != nil {
		return nil, fmt.Errorf("select render counters: %w", err)
	}
	defer rows.Close()

	var days []domain.RenderDaily
	for rows.Next() {
		var d domain.RenderDaily
		if err := rows.Scan(
			&d.Day,
			&d.Total,
			&d.Succeeded,
			&d.Failed,
			&d.Repaired,
			&d.GenerationErrors,
			&d.ArtifactMissing,
			&d.DevRuns,
		); err != nil {
			return nil, fmt.Errorf("scan render counters: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate render counters: %w", err)
	}
	return days, nil
}

// NoopAnalytics discards counters; used when no database is configured.
type NoopAnalytics struct{}

func (NoopAnalytics) IncrementRenderCounters(context.Context, time.Time, domain.RenderCounters) error {
	return nil
}

func (NoopAnalytics) RecentRenderDays(context.Context, int) ([]domain.RenderDaily, error) {
	return []domain.RenderDaily{}, nil
}
