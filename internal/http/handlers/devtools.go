package handlers

import (
	"errors"
	"net/http"
	"strings"

	"visdom/internal/pipeline"
)

type runManimRequest struct {
	Code string `json:"code"`
}

type runManimResponse struct {
	Status   string `json:"status"`
	VideoURL string `json:"video_url,omitempty"`
	Message  string `json:"message,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// RunManim renders a developer-supplied script without generation or repair.
func (a *App) RunManim(w http.ResponseWriter, r *http.Request) {
	var req runManimRequest
	if err := a.decode(w, r, &req); err != nil || strings.TrimSpace(req.Code) == "" {
		a.json(w, http.StatusBadRequest, runManimResponse{Status: "error", Message: "code is required"})
		return
	}
	res, err := a.Dev.RunDev(r.Context(), req.Code)
	if err == nil {
		a.json(w, http.StatusOK, runManimResponse{Status: "success", VideoURL: res.VideoURL})
		return
	}

	var devErr *pipeline.DevError
	if !errors.As(err, &devErr) {
		a.Logger.Error().Err(err).Msg("dev run failed")
		a.json(w, http.StatusInternalServerError, runManimResponse{Status: "error", Message: "internal error"})
		return
	}
	status := http.StatusInternalServerError
	switch devErr.Kind {
	case pipeline.DevErrorGuard, pipeline.DevErrorRender:
		status = http.StatusBadRequest
	case pipeline.DevErrorTimeout:
		status = http.StatusRequestTimeout
	}
	a.json(w, status, runManimResponse{Status: "error", Message: devErr.Message, Kind: string(devErr.Kind)})
}
