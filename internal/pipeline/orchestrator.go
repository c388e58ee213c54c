package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"visdom/internal/domain"
	"visdom/internal/infra/telemetry"
	"visdom/internal/prompt"
	"visdom/internal/providers/codegen"
	"visdom/internal/render"
	"visdom/internal/storage"
)

const (
	failureTailLines = 5

	pctGenerating     = 10
	pctGenerated      = 30
	pctRenderStart    = 40
	pctRenderCeil     = 60
	pctFixing         = 65
	pctRepaired       = 70
	pctRender2Start   = 75
	pctRender2Ceil    = 90
	pctRenderFinished = 90
	pctComplete       = 100

	outcomeComplete        = "complete"
	outcomeRenderFailed    = "render_failed"
	outcomeRenderTimeout   = "render_timeout"
	outcomeGenerationError = "generation_error"
	outcomeArtifactMissing = "artifact_missing"
	outcomeInternal        = "internal_error"
	outcomeCancelled       = "cancelled"
)

// Renderer runs one renderer invocation; *render.Executor implements it.
type Renderer interface {
	Run(ctx context.Context, inv render.Invocation) <-chan render.Output
}

// Sweeper removes renderer leftovers for a script stem.
type Sweeper interface {
	Sweep(mediaRoot, stem string)
}

// Options wires an Orchestrator.
type Options struct {
	Generator codegen.Generator
	Prompts   *prompt.Builder
	Scripts   *storage.ScriptStore
	Renderer  Renderer
	Locator   render.Locator
	Guard     *render.Guard
	Analytics domain.AnalyticsRepository
	Metrics   *Metrics
	Tracer    trace.Tracer
	Logger    zerolog.Logger

	Scene          string
	Quality        string
	MediaDir       string
	RenderTimeout  time.Duration
	DevTimeout     time.Duration
	PublicBaseURL  string
	DisableCaching bool
}

// Orchestrator drives one intent through generate, render and at most one
// repair, reporting progress through an Emitter.
type Orchestrator struct {
	generator codegen.Generator
	prompts   *prompt.Builder
	scripts   *storage.ScriptStore
	renderer  Renderer
	locator   render.Locator
	guard     *render.Guard
	recorder  recorder
	metrics   *Metrics
	tracer    trace.Tracer
	logger    zerolog.Logger

	scene          string
	quality        string
	mediaDir       string
	renderTimeout  time.Duration
	devTimeout     time.Duration
	publicBaseURL  string
	disableCaching bool
}

func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Generator == nil:
		return nil, errors.New("pipeline: generator is required")
	case opts.Scripts == nil:
		return nil, errors.New("pipeline: script store is required")
	case opts.Renderer == nil:
		return nil, errors.New("pipeline: renderer is required")
	case opts.Locator == nil:
		return nil, errors.New("pipeline: locator is required")
	}
	if opts.Scene == "" {
		opts.Scene = "GenScene"
	}
	if opts.Quality == "" {
		opts.Quality = "l"
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 300 * time.Second
	}
	if opts.DevTimeout <= 0 {
		opts.DevTimeout = 60 * time.Second
	}
	if opts.Prompts == nil {
		opts.Prompts = prompt.NewBuilder(opts.Scene)
	}
	if opts.Guard == nil {
		opts.Guard = render.NewGuard()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer()
	}
	mediaDir, err := filepath.Abs(opts.MediaDir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve media dir: %w", err)
	}
	logger := opts.Logger.With().Str("component", "pipeline").Str("generator", opts.Generator.Name()).Logger()
	return &Orchestrator{
		generator:      opts.Generator,
		prompts:        opts.Prompts,
		scripts:        opts.Scripts,
		renderer:       opts.Renderer,
		locator:        opts.Locator,
		guard:          opts.Guard,
		recorder:       recorder{repo: opts.Analytics, logger: logger},
		metrics:        opts.Metrics,
		tracer:         opts.Tracer,
		logger:         logger,
		scene:          opts.Scene,
		quality:        opts.Quality,
		mediaDir:       mediaDir,
		renderTimeout:  opts.RenderTimeout,
		devTimeout:     opts.DevTimeout,
		publicBaseURL:  strings.TrimRight(opts.PublicBaseURL, "/"),
		disableCaching: opts.DisableCaching,
	}, nil
}

// run carries the per-task state shared by the pipeline steps.
type run struct {
	task   *domain.Task
	stream *Stream
	msgs   catalog
	logger zerolog.Logger
}

// Run processes intent to a terminal state. Exactly one terminal event is
// emitted; the returned task reflects the final state.
func (o *Orchestrator) Run(ctx context.Context, intent domain.Intent, emitter Emitter) *domain.Task {
	task := domain.NewTask(intent)
	r := &run{
		task:   task,
		stream: NewStream(emitter),
		msgs:   messagesFor(intent.Locale),
		logger: o.logger.With().Str("task_id", task.ID).Logger(),
	}
	defer o.metrics.trackActive()()

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.operation", string(intent.Operation)),
	))
	defer span.End()

	o.process(ctx, r)

	span.SetAttributes(attribute.String("task.state", string(task.State)), attribute.Int("task.attempts", len(task.Attempts)))
	if task.State == domain.TaskStateFailed {
		span.SetStatus(codes.Error, task.Error)
	}
	return task
}

func (o *Orchestrator) process(ctx context.Context, r *run) {
	o.emit(ctx, r, domain.GeneratingCode{Base: domain.Base{Msg: r.msgs.generating, Pct: pctGenerating}})

	original := o.prompts.Build(r.task.Request)
	script, err := o.generate(ctx, original, 1)
	if err != nil {
		o.fail(ctx, r, fmt.Sprintf(r.msgs.generationError, err), outcomeGenerationError)
		return
	}
	o.transition(r, domain.TaskStateCodeReady)
	o.emit(ctx, r, domain.CodeGenerated{Base: domain.Base{Msg: r.msgs.generated, Pct: pctGenerated}, Code: script, Attempt: 1})

	o.transition(r, domain.TaskStateRendering)
	first, res, err := o.attempt(ctx, r, script, pctRenderStart, pctRenderCeil)
	if err != nil {
		o.fail(ctx, r, fmt.Sprintf(r.msgs.internal, err), outcomeInternal)
		return
	}
	if res.Succeeded() {
		o.publish(ctx, r, first)
		return
	}
	if res.Cancelled || ctx.Err() != nil {
		o.fail(ctx, r, r.msgs.cancelled, outcomeCancelled)
		return
	}
	diagnostics := res.Lines

	o.transition(r, domain.TaskStateRepairing)
	o.emit(ctx, r, domain.FixingCode{Base: domain.Base{Msg: r.msgs.fixing, Pct: pctFixing}, Code: first.Script})
	r.logger.Info().Int("exit_status", res.ExitStatus).Bool("timed_out", res.TimedOut).Msg("first render failed, requesting repair")

	if ctx.Err() != nil {
		o.fail(ctx, r, r.msgs.cancelled, outcomeCancelled)
		return
	}
	fixed, err := o.repair(ctx, original, first, diagnostics)
	if err != nil {
		if ctx.Err() != nil {
			o.fail(ctx, r, r.msgs.cancelled, outcomeCancelled)
			return
		}
		o.fail(ctx, r, fmt.Sprintf(r.msgs.repairError, err), outcomeGenerationError)
		return
	}
	o.emit(ctx, r, domain.CodeGenerated{Base: domain.Base{Msg: r.msgs.repaired, Pct: pctRepaired}, Code: fixed, Attempt: 2})

	o.transition(r, domain.TaskStateRendering2)
	second, res, err := o.attempt(ctx, r, fixed, pctRender2Start, pctRender2Ceil)
	if err != nil {
		o.fail(ctx, r, fmt.Sprintf(r.msgs.internal, err), outcomeInternal)
		return
	}
	if res.Succeeded() {
		o.publish(ctx, r, second)
		return
	}
	if res.Cancelled || ctx.Err() != nil {
		o.fail(ctx, r, r.msgs.cancelled, outcomeCancelled)
		return
	}
	outcome := outcomeRenderFailed
	if res.TimedOut {
		outcome = outcomeRenderTimeout
	}
	o.fail(ctx, r, r.msgs.failure(render.Tail(res.Lines, failureTailLines), res.TimedOut, o.renderTimeout), outcome)
}

func (o *Orchestrator) generate(ctx context.Context, p codegen.Prompt, attempt int) (string, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.generate", trace.WithAttributes(
		attribute.String("codegen.provider", o.generator.Name()),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	start := time.Now()
	script, err := o.generator.Generate(ctx, p)
	if err == nil && strings.TrimSpace(script) == "" {
		err = fmt.Errorf("%w: empty script", domain.ErrGeneration)
	}
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.metrics.observeGeneration(o.generator.Name(), status, time.Since(start))
	return script, err
}

// attempt writes script, renders it and forwards each stderr line as a
// rendering event whose progress creeps from startPct toward ceilPct.
func (o *Orchestrator) attempt(ctx context.Context, r *run, script string, startPct, ceilPct int) (*domain.Attempt, render.Result, error) {
	a, err := r.task.AddAttempt(script)
	if err != nil {
		return nil, render.Result{}, err
	}
	logger := r.logger.With().Int("attempt", a.Ordinal).Logger()

	path, err := o.scripts.Write(ctx, r.task.ID, a.Ordinal, script)
	if err != nil {
		return nil, render.Result{}, err
	}
	a.ScriptPath = path
	defer o.scripts.Remove(path)

	ctx, span := o.tracer.Start(ctx, "pipeline.render", trace.WithAttributes(attribute.Int("attempt", a.Ordinal)))
	defer span.End()

	o.emit(ctx, r, domain.Rendering{Base: domain.Base{Msg: r.msgs.renderStart, Pct: startPct}})
	pct := startPct
	res := render.Collect(o.renderer.Run(ctx, render.Invocation{
		ScriptPath:     path,
		Scene:          o.scene,
		Quality:        o.quality,
		MediaDir:       o.mediaDir,
		OutputName:     r.task.ID + ".mp4",
		DisableCaching: o.disableCaching,
		Timeout:        o.renderTimeout,
	}), func(line string) {
		if pct < ceilPct {
			pct++
		}
		o.emit(ctx, r, domain.Rendering{Base: domain.Base{Msg: line, Pct: pct}, Line: true})
	})

	a.ExitStatus = res.ExitStatus
	a.TimedOut = res.TimedOut
	a.Diagnostics = res.Diagnostics
	a.Duration = res.Duration

	status := renderStatus(res)
	span.SetAttributes(attribute.Int("render.exit_status", res.ExitStatus), attribute.Bool("render.timed_out", res.TimedOut))
	if status != "ok" {
		span.SetStatus(codes.Error, "render "+status)
	}
	o.metrics.observeRender(strconv.Itoa(a.Ordinal), status, res.Duration)
	logger.Info().Int("exit_status", res.ExitStatus).Dur("elapsed", res.Duration).Str("status", status).Msg("render attempt finished")
	return a, res, nil
}

// publish locates the finished video. A miss is terminal and never repaired.
func (o *Orchestrator) publish(ctx context.Context, r *run, a *domain.Attempt) {
	o.emit(ctx, r, domain.Rendering{Base: domain.Base{Msg: r.msgs.renderFinished, Pct: pctRenderFinished}})

	ctx, span := o.tracer.Start(ctx, "pipeline.locate")
	stem := storage.Stem(a.ScriptPath)
	path, err := o.locator.Locate(ctx, render.Query{
		MediaRoot:  o.mediaDir,
		TaskID:     r.task.ID,
		ScriptStem: stem,
		OutputName: r.task.ID + ".mp4",
		Scene:      o.scene,
		Quality:    o.quality,
	})
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	o.sweep(stem)

	switch {
	case errors.Is(err, domain.ErrArtifactMissing):
		o.fail(ctx, r, r.msgs.artifactMissing, outcomeArtifactMissing)
		return
	case err != nil:
		o.fail(ctx, r, fmt.Sprintf(r.msgs.internal, err), outcomeInternal)
		return
	}

	r.task.VideoURL = o.videoURL(path)
	o.transition(r, domain.TaskStateComplete)
	msg := r.msgs.complete
	if r.task.Repaired() {
		msg = r.msgs.completeRepair
	}
	o.emit(ctx, r, domain.Completed{Base: domain.Base{Msg: msg, Pct: pctComplete}, VideoURL: r.task.VideoURL})
	r.logger.Info().Str("video_url", r.task.VideoURL).Bool("repaired", r.task.Repaired()).Msg("task complete")
	o.finish(ctx, r, outcomeComplete)
}

func (o *Orchestrator) fail(ctx context.Context, r *run, message, outcome string) {
	r.task.Error = message
	o.transition(r, domain.TaskStateFailed)
	o.emit(ctx, r, domain.Failed{Base: domain.Base{Msg: message, Pct: r.stream.Progress()}})
	r.logger.Warn().Str("outcome", outcome).Int("attempts", len(r.task.Attempts)).Msg("task failed")
	o.finish(ctx, r, outcome)
}

func (o *Orchestrator) finish(ctx context.Context, r *run, outcome string) {
	o.metrics.taskFinished(outcome)
	delta := domain.RenderCounters{}
	if len(r.task.Attempts) > 0 {
		delta.Total = 1
	}
	if r.task.Repaired() {
		delta.Repaired = 1
	}
	switch outcome {
	case outcomeComplete:
		delta.Succeeded = 1
	case outcomeGenerationError:
		delta.GenerationErrors = 1
	case outcomeArtifactMissing:
		delta.ArtifactMissing = 1
	case outcomeCancelled:
	default:
		delta.Failed = 1
	}
	o.recorder.record(ctx, delta)
}

func (o *Orchestrator) transition(r *run, next domain.TaskState) {
	if err := r.task.Transition(next); err != nil {
		r.logger.Error().Err(err).Msg("invalid task transition")
		return
	}
	r.logger.Debug().Str("state", string(next)).Msg("task state changed")
}

func (o *Orchestrator) emit(ctx context.Context, r *run, e domain.Event) {
	if err := r.stream.Emit(ctx, e); err != nil {
		r.logger.Debug().Err(err).Str("step", string(e.Step())).Msg("emit failed")
	}
}

func (o *Orchestrator) sweep(stem string) {
	if s, ok := o.locator.(Sweeper); ok {
		s.Sweep(o.mediaDir, stem)
	}
}

func (o *Orchestrator) videoURL(path string) string {
	return o.publicBaseURL + "/" + filepath.Base(path)
}
