package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"visdom/internal/domain"
)

const recordTimeout = 3 * time.Second

// recorder adds terminal outcomes to the daily analytics counters. It keeps
// working after the request context ends and only logs failures.
type recorder struct {
	repo   domain.AnalyticsRepository
	logger zerolog.Logger
}

func (r recorder) record(ctx context.Context, delta domain.RenderCounters) {
	if r.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.repo.IncrementRenderCounters(ctx, time.Now().UTC(), delta); err != nil {
		r.logger.Warn().Err(err).Msg("record render analytics failed")
	}
}
