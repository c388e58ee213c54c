package handlers

import (
	"net/http"
	"strconv"

	"visdom/internal/domain"
)

const defaultStatsDays = 14

func (a *App) RenderStats(w http.ResponseWriter, r *http.Request) {
	if a.Analytics == nil {
		a.json(w, http.StatusOK, map[string]any{"days": []domain.RenderDaily{}})
		return
	}
	limit := defaultStatsDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "days must be a positive integer")
			return
		}
		limit = n
	}
	days, err := a.Analytics.RecentRenderDays(r.Context(), limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("load render stats failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	var totals domain.RenderCounters
	for _, d := range days {
		totals.Total += d.Total
		totals.Succeeded += d.Succeeded
		totals.Failed += d.Failed
		totals.Repaired += d.Repaired
		totals.GenerationErrors += d.GenerationErrors
		totals.ArtifactMissing += d.ArtifactMissing
		totals.DevRuns += d.DevRuns
	}
	a.json(w, http.StatusOK, map[string]any{
		"days":   days,
		"totals": totals,
	})
}
