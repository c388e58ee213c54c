package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"visdom/internal/domain"
	"visdom/internal/pipeline"
)

const (
	defaultHeartbeat = 15 * time.Second
	maxBodyBytes     = 64 << 10
)

// Pipeline runs one intent to a terminal event.
type Pipeline interface {
	Run(ctx context.Context, intent domain.Intent, emitter pipeline.Emitter) *domain.Task
}

// DevRunner renders a caller-supplied script.
type DevRunner interface {
	RunDev(ctx context.Context, code string) (pipeline.DevResult, error)
}

// Options wires an App.
type Options struct {
	Pipeline         Pipeline
	TemplatePipeline Pipeline
	Dev              DevRunner
	Analytics        domain.AnalyticsRepository
	Logger           zerolog.Logger
	AllowedOrigins   []string
	Heartbeat        time.Duration
}

type App struct {
	Pipeline         Pipeline
	TemplatePipeline Pipeline
	Dev              DevRunner
	Analytics        domain.AnalyticsRepository
	Logger           zerolog.Logger

	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

func NewApp(opts Options) *App {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.TemplatePipeline == nil {
		opts.TemplatePipeline = opts.Pipeline
	}
	origins := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		origins[o] = struct{}{}
	}
	return &App{
		Pipeline:         opts.Pipeline,
		TemplatePipeline: opts.TemplatePipeline,
		Dev:              opts.Dev,
		Analytics:        opts.Analytics,
		Logger:           opts.Logger,
		heartbeat:        opts.Heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := origins["*"]; ok {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
