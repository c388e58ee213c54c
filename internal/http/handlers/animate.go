package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"visdom/internal/domain"
	"visdom/internal/middleware"
	"visdom/internal/pipeline"
)

const (
	eventBuffer      = 64
	wsReadTimeout    = 30 * time.Second
	wsWriteTimeout   = 10 * time.Second
	wsCloseGrace     = time.Second
	wsMaxMessageSize = maxBodyBytes
)

// prepare fills the locale from the request context and validates req.
func prepare(ctx context.Context, req domain.Intent) (domain.Intent, error) {
	req.Locale = middleware.LocaleFromContext(ctx)
	req.Normalize()
	return req, req.Validate()
}

type animateResponse struct {
	Status   string `json:"status"`
	VideoURL string `json:"video_url,omitempty"`
	Message  string `json:"message,omitempty"`
}

// AnimateStream runs the LLM pipeline and streams progress as server-sent
// events, one JSON object per data frame, ending after the terminal event.
func (a *App) AnimateStream(w http.ResponseWriter, r *http.Request) {
	var req domain.Intent
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	intent, err := prepare(r.Context(), req)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := a.runAsync(ctx, a.Pipeline, intent)

	logger := a.Logger.With().Str("request_id", middleware.RequestIDFromContext(r.Context())).Logger()
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(domain.ToWire(e))
			if err != nil {
				logger.Error().Err(err).Msg("encode event failed")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				logger.Debug().Err(err).Msg("client went away")
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// AnimateWS is the websocket flavour of AnimateStream. The first client
// message carries the request body; every event is written as a JSON text
// message and the connection is closed after the terminal event.
func (a *App) AnimateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageSize)
	logger := a.Logger.With().Str("request_id", middleware.RequestIDFromContext(r.Context())).Logger()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var req domain.Intent
	if err := conn.ReadJSON(&req); err != nil {
		a.wsFail(conn, "invalid payload")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	intent, err := prepare(r.Context(), req)
	if err != nil {
		a.wsFail(conn, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// A read error means the client closed the socket.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for e := range a.runAsync(ctx, a.Pipeline, intent) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(domain.ToWire(e)); err != nil {
			logger.Debug().Err(err).Msg("websocket write failed")
			cancel()
			continue
		}
	}
	deadline := time.Now().Add(wsCloseGrace)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func (a *App) wsFail(conn *websocket.Conn, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteJSON(domain.ToWire(domain.Failed{Base: domain.Base{Msg: message}}))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInvalidFramePayloadData, message),
		time.Now().Add(wsCloseGrace))
}

// Animate renders with the template generator and answers once the video is
// ready.
func (a *App) Animate(w http.ResponseWriter, r *http.Request) {
	var req domain.Intent
	if err := a.decode(w, r, &req); err != nil {
		a.json(w, http.StatusBadRequest, animateResponse{Status: "error", Message: "invalid payload"})
		return
	}
	intent, err := prepare(r.Context(), req)
	if err != nil {
		a.json(w, http.StatusBadRequest, animateResponse{Status: "error", Message: err.Error()})
		return
	}
	task := a.TemplatePipeline.Run(r.Context(), intent, pipeline.EmitterFunc(func(context.Context, domain.Event) error { return nil }))
	if task.State != domain.TaskStateComplete {
		a.json(w, http.StatusInternalServerError, animateResponse{Status: "error", Message: task.Error})
		return
	}
	a.json(w, http.StatusOK, animateResponse{Status: "success", VideoURL: task.VideoURL})
}

// runAsync runs p in its own goroutine and returns its events. The channel
// is closed once the run returns; sends stop when ctx is cancelled.
func (a *App) runAsync(ctx context.Context, p Pipeline, intent domain.Intent) <-chan domain.Event {
	events := make(chan domain.Event, eventBuffer)
	go func() {
		defer close(events)
		p.Run(ctx, intent, pipeline.EmitterFunc(func(ctx context.Context, e domain.Event) error {
			select {
			case events <- e:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))
	}()
	return events
}
