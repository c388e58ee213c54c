package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"visdom/internal/domain"
	"visdom/internal/providers/codegen"
	"visdom/internal/render"
	"visdom/internal/storage"
)

// The fake renderer decides what to do from markers in the script it is
// given: FAIL prints a traceback and exits 1, SLEEP hangs, NOVIDEO exits 0
// without output, anything else writes a video where the real renderer would.
const fakeRendererScript = `#!/bin/sh
media=""; out=""; script=""
while [ $# -gt 0 ]; do
  case "$1" in
    --media_dir) media="$2"; shift 2 ;;
    -o) out="$2"; shift 2 ;;
    -q*|--disable_caching) shift ;;
    *) if [ -z "$script" ]; then script="$1"; fi; shift ;;
  esac
done
echo x >> "$(dirname "$0")/calls"
echo "Rendering $(basename "$script")" >&2
if grep -q FAIL "$script"; then
  echo "Traceback (most recent call last):" >&2
  echo "NameError: name 'Foo' is not defined" >&2
  exit 1
fi
if grep -q SLEEP "$script"; then sleep 30; fi
if grep -q NOVIDEO "$script"; then exit 0; fi
stem=$(basename "$script" .py)
mkdir -p "$media/videos/$stem/480p15"
printf 'mp4' > "$media/videos/$stem/480p15/$out"
echo "File ready" >&2
`

type genResult struct {
	script string
	err    error
}

type scriptedGenerator struct {
	mu      sync.Mutex
	outputs []genResult
	prompts []codegen.Prompt
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Generate(_ context.Context, p codegen.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	if len(g.outputs) == 0 {
		return "", errors.New("no scripted output left")
	}
	next := g.outputs[0]
	g.outputs = g.outputs[1:]
	return next.script, next.err
}

func (g *scriptedGenerator) calls() []codegen.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]codegen.Prompt(nil), g.prompts...)
}

type memAnalytics struct {
	mu     sync.Mutex
	totals domain.RenderCounters
}

func (m *memAnalytics) IncrementRenderCounters(_ context.Context, _ time.Time, d domain.RenderCounters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals.Total += d.Total
	m.totals.Succeeded += d.Succeeded
	m.totals.Failed += d.Failed
	m.totals.Repaired += d.Repaired
	m.totals.GenerationErrors += d.GenerationErrors
	m.totals.ArtifactMissing += d.ArtifactMissing
	m.totals.DevRuns += d.DevRuns
	return nil
}

func (m *memAnalytics) RecentRenderDays(context.Context, int) ([]domain.RenderDaily, error) {
	return nil, nil
}

func (m *memAnalytics) snapshot() domain.RenderCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals
}

type harness struct {
	orch      *Orchestrator
	gen       *scriptedGenerator
	scripts   *storage.ScriptStore
	analytics *memAnalytics
	metrics   *Metrics
	spans     *tracetest.SpanRecorder
	publicDir string
	binDir    string
}

func newHarness(t *testing.T, timeout time.Duration, outputs ...genResult) *harness {
	t.Helper()
	gen := &scriptedGenerator{outputs: outputs}
	h := newHarnessWith(t, timeout, gen)
	h.gen = gen
	return h
}

func newHarnessWith(t *testing.T, timeout time.Duration, gen codegen.Generator) *harness {
	t.Helper()
	root := t.TempDir()
	binDir := filepath.Join(root, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	rendererPath := filepath.Join(binDir, "renderer.sh")
	require.NoError(t, os.WriteFile(rendererPath, []byte(fakeRendererScript), 0o755))

	logger := zerolog.Nop()
	scripts, err := storage.NewScriptStore(filepath.Join(root, "work"), logger)
	require.NoError(t, err)
	publicDir := filepath.Join(root, "public")
	locator, err := render.NewManimLocator(publicDir, logger)
	require.NoError(t, err)

	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	analytics := &memAnalytics{}
	metrics := MustNewMetrics(prometheus.NewRegistry())
	orch, err := New(Options{
		Generator:     gen,
		Scripts:       scripts,
		Renderer:      render.NewExecutor([]string{"/bin/sh", rendererPath}, logger),
		Locator:       locator,
		Analytics:     analytics,
		Metrics:       metrics,
		Tracer:        provider.Tracer("test"),
		Logger:        logger,
		MediaDir:      filepath.Join(root, "media"),
		RenderTimeout: timeout,
		DevTimeout:    timeout,
		PublicBaseURL: "/videos/",
	})
	require.NoError(t, err)
	return &harness{
		orch:      orch,
		scripts:   scripts,
		analytics: analytics,
		metrics:   metrics,
		spans:     spans,
		publicDir: publicDir,
		binDir:    binDir,
	}
}

func (h *harness) renderCalls(t *testing.T) int {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.binDir, "calls"))
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "x")
}

func (h *harness) run(t *testing.T, intent domain.Intent) (*domain.Task, []domain.Event) {
	t.Helper()
	var events Collector
	task := h.orch.Run(context.Background(), intent, &events)
	all := events.Events()
	requireWellFormed(t, all)
	entries, err := os.ReadDir(h.scripts.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "script files should be removed after each attempt")
	return task, all
}

// requireWellFormed checks progress never decreases and the sequence ends
// with its only terminal event.
func requireWellFormed(t *testing.T, events []domain.Event) {
	t.Helper()
	require.NotEmpty(t, events)
	last := 0
	terminals := 0
	for i, e := range events {
		assert.GreaterOrEqual(t, e.Progress(), last, "progress decreased at event %d (%s)", i, e.Step())
		assert.LessOrEqual(t, e.Progress(), 100)
		last = e.Progress()
		if domain.IsTerminal(e) {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals, "exactly one terminal event")
	assert.True(t, domain.IsTerminal(events[len(events)-1]), "terminal event must be last")
}

func steps(events []domain.Event) []domain.Step {
	out := make([]domain.Step, 0, len(events))
	for _, e := range events {
		if r, ok := e.(domain.Rendering); ok && r.Line {
			continue
		}
		out = append(out, e.Step())
	}
	return out
}

func countStep(events []domain.Event, step domain.Step) int {
	n := 0
	for _, e := range events {
		if e.Step() == step {
			n++
		}
	}
	return n
}

func intent() domain.Intent {
	return domain.Intent{Operation: domain.OperationFormula, FormulaA: `e^{i\pi}+1=0`}
}

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	h := newHarness(t, 10*time.Second, genResult{script: "class GenScene: pass # OK"})

	task, events := h.run(t, intent())

	assert.Equal(t, []domain.Step{
		domain.StepGeneratingCode,
		domain.StepCodeGenerated,
		domain.StepRendering,
		domain.StepRendering,
		domain.StepComplete,
	}, steps(events))
	assert.Equal(t, domain.TaskStateComplete, task.State)
	assert.Equal(t, 1, h.renderCalls(t))
	assert.Len(t, h.gen.calls(), 1)

	done, ok := events[len(events)-1].(domain.Completed)
	require.True(t, ok)
	assert.Equal(t, 100, done.Progress())
	assert.Equal(t, "render complete", done.Message())
	assert.Equal(t, "/videos/"+task.ID+".mp4", done.VideoURL)
	assert.FileExists(t, filepath.Join(h.publicDir, task.ID+".mp4"))

	generated, ok := events[1].(domain.CodeGenerated)
	require.True(t, ok)
	assert.Equal(t, "class GenScene: pass # OK", generated.Code)

	var lines []string
	for _, e := range events {
		if r, ok := e.(domain.Rendering); ok && r.Line {
			lines = append(lines, r.Message())
			assert.GreaterOrEqual(t, r.Progress(), pctRenderStart)
			assert.LessOrEqual(t, r.Progress(), pctRenderCeil)
		}
	}
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Rendering gen_"+task.ID+"_1.py")
	assert.Equal(t, "File ready", lines[1])

	assert.Equal(t, domain.RenderCounters{Total: 1, Succeeded: 1}, h.analytics.snapshot())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.repairs))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.tasks.WithLabelValues(outcomeComplete)))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.active))
}

func TestRunRepairsAfterFailedRender(t *testing.T) {
	h := newHarness(t, 10*time.Second,
		genResult{script: "broken FAIL"},
		genResult{script: "fixed OK"},
	)

	task, events := h.run(t, intent())

	assert.Equal(t, []domain.Step{
		domain.StepGeneratingCode,
		domain.StepCodeGenerated,
		domain.StepRendering,
		domain.StepFixingCode,
		domain.StepCodeGenerated,
		domain.StepRendering,
		domain.StepRendering,
		domain.StepComplete,
	}, steps(events))
	assert.Equal(t, domain.TaskStateComplete, task.State)
	assert.Equal(t, 2, h.renderCalls(t))
	require.Len(t, task.Attempts, 2)
	assert.True(t, task.Repaired())

	var fixing domain.FixingCode
	var repaired domain.CodeGenerated
	for _, e := range events {
		switch ev := e.(type) {
		case domain.FixingCode:
			fixing = ev
		case domain.CodeGenerated:
			repaired = ev
		}
	}
	assert.Equal(t, "broken FAIL", fixing.Code)
	assert.Equal(t, pctFixing, fixing.Progress())
	assert.Equal(t, "fixed OK", repaired.Code)
	assert.Equal(t, 2, repaired.Attempt)

	prompts := h.gen.calls()
	require.Len(t, prompts, 2)
	repair := prompts[1].Messages
	require.Len(t, repair, 3)
	assert.Equal(t, codegen.RoleAssistant, repair[1].Role)
	assert.Equal(t, "broken FAIL", repair[1].Content)
	assert.Contains(t, repair[2].Content, "NameError: name 'Foo' is not defined")

	done := events[len(events)-1].(domain.Completed)
	assert.Equal(t, "render complete after repair", done.Message())
	assert.Equal(t, domain.RenderCounters{Total: 1, Succeeded: 1, Repaired: 1}, h.analytics.snapshot())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.repairs))
}

func TestRunFailsWhenRepairAlsoFails(t *testing.T) {
	h := newHarness(t, 10*time.Second,
		genResult{script: "broken FAIL"},
		genResult{script: "still FAIL"},
		genResult{script: "never requested"},
	)

	task, events := h.run(t, intent())

	assert.Equal(t, domain.TaskStateFailed, task.State)
	assert.Equal(t, 2, h.renderCalls(t))
	assert.Len(t, h.gen.calls(), 2)
	assert.Equal(t, 1, countStep(events, domain.StepFixingCode))

	failed, ok := events[len(events)-1].(domain.Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Message(), "render failed")
	assert.Contains(t, failed.Message(), "NameError")
	for _, a := range task.Attempts {
		assert.Empty(t, a.Diagnostics, "diagnostics are discarded once the task is terminal")
		assert.Equal(t, 1, a.ExitStatus)
	}
	assert.Equal(t, domain.RenderCounters{Total: 1, Failed: 1, Repaired: 1}, h.analytics.snapshot())
}

func TestRunStopsOnGenerationError(t *testing.T) {
	h := newHarness(t, 10*time.Second, genResult{err: errors.New("upstream 503")})

	task, events := h.run(t, intent())

	assert.Equal(t, []domain.Step{domain.StepGeneratingCode, domain.StepError}, steps(events))
	assert.Equal(t, 0, h.renderCalls(t))
	assert.Equal(t, domain.TaskStateFailed, task.State)
	assert.Contains(t, task.Error, "code generation failed")
	assert.Contains(t, task.Error, "upstream 503")
	assert.Equal(t, pctGenerating, events[1].Progress())
	assert.Equal(t, domain.RenderCounters{GenerationErrors: 1}, h.analytics.snapshot())
}

func TestRunDoesNotRepairMissingArtifact(t *testing.T) {
	h := newHarness(t, 10*time.Second, genResult{script: "NOVIDEO"}, genResult{script: "never requested"})

	task, events := h.run(t, intent())

	assert.Equal(t, domain.TaskStateFailed, task.State)
	assert.Equal(t, 1, h.renderCalls(t))
	assert.Len(t, h.gen.calls(), 1)
	assert.Zero(t, countStep(events, domain.StepFixingCode))
	assert.Equal(t, "render succeeded but the video file was not found", task.Error)
	assert.Equal(t, domain.RenderCounters{Total: 1, ArtifactMissing: 1}, h.analytics.snapshot())
}

func TestRunFailsWhenRepairGenerationFails(t *testing.T) {
	h := newHarness(t, 10*time.Second, genResult{script: "broken FAIL"}, genResult{err: errors.New("quota exceeded")})

	task, events := h.run(t, intent())

	assert.Equal(t, 1, h.renderCalls(t))
	assert.Equal(t, domain.StepError, events[len(events)-1].Step())
	assert.Contains(t, task.Error, "repair generation failed")
	assert.Equal(t, pctFixing, events[len(events)-1].Progress())
}

func TestRunReportsTimeout(t *testing.T) {
	h := newHarness(t, time.Second, genResult{script: "SLEEP"}, genResult{script: "SLEEP"})

	task, events := h.run(t, intent())

	assert.Equal(t, 2, h.renderCalls(t))
	require.Len(t, task.Attempts, 2)
	for _, a := range task.Attempts {
		assert.True(t, a.TimedOut)
		assert.Equal(t, -1, a.ExitStatus)
	}
	assert.Contains(t, events[len(events)-1].Message(), "timed out")
}

func TestRunCancelledRenderIsNotRepaired(t *testing.T) {
	h := newHarness(t, 20*time.Second, genResult{script: "SLEEP"}, genResult{script: "never requested"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var events Collector
	emitter := EmitterFunc(func(ctx context.Context, e domain.Event) error {
		if r, ok := e.(domain.Rendering); ok && r.Line {
			cancel()
		}
		return events.Emit(ctx, e)
	})

	task := h.orch.Run(ctx, intent(), emitter)

	all := events.Events()
	requireWellFormed(t, all)
	assert.Equal(t, domain.TaskStateFailed, task.State)
	assert.Equal(t, "request cancelled", task.Error)
	assert.Len(t, h.gen.calls(), 1)
	assert.Len(t, task.Attempts, 1)
	assert.Equal(t, 1, h.renderCalls(t))
	assert.Zero(t, countStep(all, domain.StepFixingCode))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.repairs))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.tasks.WithLabelValues(outcomeCancelled)))
	assert.Equal(t, domain.RenderCounters{Total: 1}, h.analytics.snapshot())

	entries, err := os.ReadDir(h.scripts.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunLocalizesMessages(t *testing.T) {
	h := newHarness(t, 10*time.Second, genResult{err: errors.New("boom")})
	in := intent()
	in.Locale = "zh-CN"

	_, events := h.run(t, in)

	assert.Equal(t, "正在生成动画代码", events[0].Message())
	assert.True(t, strings.HasPrefix(events[1].Message(), "代码生成失败"))
}

func TestRunRecordsSpans(t *testing.T) {
	h := newHarness(t, 10*time.Second, genResult{script: "OK"})

	h.run(t, intent())

	var names []string
	for _, s := range h.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"pipeline.generate", "pipeline.render", "pipeline.locate", "pipeline.run"}, names)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestRunRendersTemplateMatrixAddition(t *testing.T) {
	h := newHarnessWith(t, 10*time.Second, codegen.NewTemplateGenerator("GenScene"))
	in := domain.Intent{
		Operation: "addition",
		FormulaA:  `\begin{bmatrix}1&0\\0&1\end{bmatrix}`,
		FormulaB:  `\begin{bmatrix}2&2\\2&2\end{bmatrix}`,
	}
	in.Normalize()

	task, events := h.run(t, in)

	require.Equal(t, domain.TaskStateComplete, task.State, task.Error)
	assert.GreaterOrEqual(t, len(events), 4)
	generated := events[1].(domain.CodeGenerated)
	assert.Contains(t, generated.Code, "class GenScene")
	assert.Contains(t, generated.Code, "[2.0, 2.0]")
	assert.Equal(t, domain.StepComplete, events[len(events)-1].Step())
}
