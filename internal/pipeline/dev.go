package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"visdom/internal/domain"
	"visdom/internal/render"
	"visdom/internal/storage"
)

const devTailLines = 10

// DevErrorKind classifies a developer run failure.
type DevErrorKind string

const (
	DevErrorGuard    DevErrorKind = "guard"
	DevErrorRender   DevErrorKind = "render"
	DevErrorTimeout  DevErrorKind = "timeout"
	DevErrorMissing  DevErrorKind = "missing"
	DevErrorInternal DevErrorKind = "internal"
)

// DevError is returned by RunDev for every failed developer run.
type DevError struct {
	Kind    DevErrorKind
	Message string
	Err     error
}

func (e *DevError) Error() string { return e.Message }
func (e *DevError) Unwrap() error { return e.Err }

// DevResult is a successful developer run.
type DevResult struct {
	TaskID   string
	VideoURL string
}

// RunDev renders a caller-supplied script verbatim: guard, write, render with
// caching disabled and locate. There is no repair.
func (o *Orchestrator) RunDev(ctx context.Context, code string) (DevResult, error) {
	taskID := uuid.NewString()
	logger := o.logger.With().Str("task_id", taskID).Str("mode", "dev").Logger()
	ctx, span := o.tracer.Start(ctx, "pipeline.dev", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	res, err := o.runDev(ctx, taskID, code)
	var devErr *DevError
	if errors.As(err, &devErr) {
		span.SetStatus(codes.Error, string(devErr.Kind))
		logger.Warn().Str("kind", string(devErr.Kind)).Msg("dev run failed")
	} else {
		logger.Info().Str("video_url", res.VideoURL).Msg("dev run complete")
	}
	if devErr == nil || devErr.Kind != DevErrorGuard {
		o.recorder.record(ctx, domain.RenderCounters{DevRuns: 1})
	}
	return res, err
}

func (o *Orchestrator) runDev(ctx context.Context, taskID, code string) (DevResult, error) {
	if err := o.guard.Check(code); err != nil {
		return DevResult{}, &DevError{Kind: DevErrorGuard, Message: err.Error(), Err: err}
	}

	path, err := o.scripts.WriteDev(ctx, taskID, code)
	if err != nil {
		return DevResult{}, &DevError{Kind: DevErrorInternal, Message: "failed to write script", Err: err}
	}
	defer o.scripts.Remove(path)

	res := render.Collect(o.renderer.Run(ctx, render.Invocation{
		ScriptPath:     path,
		Scene:          o.scene,
		Quality:        o.quality,
		MediaDir:       o.mediaDir,
		OutputName:     taskID + ".mp4",
		DisableCaching: true,
		Timeout:        o.devTimeout,
	}), nil)
	o.metrics.observeRender("dev", renderStatus(res), res.Duration)

	switch {
	case res.TimedOut:
		return DevResult{}, &DevError{
			Kind:    DevErrorTimeout,
			Message: fmt.Sprintf("render timed out after %s", o.devTimeout),
			Err:     domain.ErrRenderTimeout,
		}
	case !res.Succeeded():
		return DevResult{}, &DevError{
			Kind:    DevErrorRender,
			Message: strings.Join(ErrorLines(res.Lines), "\n"),
			Err:     fmt.Errorf("%w: exit status %d", domain.ErrRenderFailed, res.ExitStatus),
		}
	}

	stem := storage.Stem(path)
	published, err := o.locator.Locate(ctx, render.Query{
		MediaRoot:  o.mediaDir,
		TaskID:     taskID,
		ScriptStem: stem,
		OutputName: taskID + ".mp4",
		Scene:      o.scene,
		Quality:    o.quality,
	})
	o.sweep(stem)
	switch {
	case errors.Is(err, domain.ErrArtifactMissing):
		return DevResult{}, &DevError{Kind: DevErrorMissing, Message: "render finished but no video was produced", Err: err}
	case err != nil:
		return DevResult{}, &DevError{Kind: DevErrorInternal, Message: "failed to publish video", Err: err}
	}
	return DevResult{TaskID: taskID, VideoURL: o.videoURL(published)}, nil
}

// ErrorLines keeps the renderer lines that look like a Python error report,
// falling back to the last few lines when none do.
func ErrorLines(lines []string) []string {
	var out []string
	for _, line := range lines {
		if strings.Contains(line, "Error") || strings.Contains(line, "Exception") || strings.Contains(line, "Traceback") {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return render.Tail(lines, devTailLines)
	}
	return out
}

func renderStatus(res render.Result) string {
	switch {
	case res.TimedOut:
		return "timeout"
	case res.Cancelled:
		return "cancelled"
	case !res.Succeeded():
		return "error"
	}
	return "ok"
}
