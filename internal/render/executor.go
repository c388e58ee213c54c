package render

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	maxLineBytes     = 1 << 20
	defaultKillGrace = 3 * time.Second
)

// Invocation describes one renderer run.
type Invocation struct {
	ScriptPath     string
	Scene          string
	Quality        string
	MediaDir       string
	OutputName     string
	DisableCaching bool
	Timeout        time.Duration
}

// Result is the outcome of a finished run.
type Result struct {
	// ExitStatus is 0 on success, the process exit code on failure and -1
	// when the process timed out, was cancelled or never started.
	ExitStatus  int
	TimedOut    bool
	Cancelled   bool
	Diagnostics string
	Lines       []string
	Duration    time.Duration
}

// Succeeded reports a clean exit.
func (r Result) Succeeded() bool {
	return r.ExitStatus == 0 && !r.TimedOut && !r.Cancelled
}

// Output is one item on a run's channel: either a stderr line or, as the
// final item, the run's Result.
type Output struct {
	Line string
	Done *Result
}

// Executor runs the external renderer as a subprocess.
type Executor struct {
	command   []string
	killGrace time.Duration
	logger    zerolog.Logger
}

// NewExecutor returns an executor that launches command (program plus fixed
// leading arguments, e.g. "python3 -m manim").
func NewExecutor(command []string, logger zerolog.Logger) *Executor {
	return &Executor{
		command:   append([]string(nil), command...),
		killGrace: defaultKillGrace,
		logger:    logger.With().Str("component", "render_executor").Logger(),
	}
}

// Args builds the renderer argument list for inv, excluding the command itself.
func (e *Executor) Args(inv Invocation) []string {
	args := append([]string(nil), e.command[1:]...)
	if inv.Quality != "" {
		args = append(args, "-q"+inv.Quality)
	}
	args = append(args, "--media_dir", inv.MediaDir, "-o", inv.OutputName)
	if inv.DisableCaching {
		args = append(args, "--disable_caching")
	}
	return append(args, inv.ScriptPath, inv.Scene)
}

// Run starts the renderer and streams each stderr line as it is read. The
// last item sent is always the Done result, after which the channel is
// closed. Callers must drain the channel.
func (e *Executor) Run(ctx context.Context, inv Invocation) <-chan Output {
	out := make(chan Output, 64)
	go func() {
		defer close(out)
		res := e.run(ctx, inv, out)
		out <- Output{Done: &res}
	}()
	return out
}

func (e *Executor) run(ctx context.Context, inv Invocation, out chan<- Output) Result {
	start := time.Now()
	if len(e.command) == 0 {
		return Result{ExitStatus: -1, Diagnostics: "renderer command is not configured"}
	}

	runCtx := ctx
	cancel := func() {}
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	}
	defer cancel()

	args := e.Args(inv)
	cmd := exec.Command(e.command[0], args...)
	setProcessGroup(cmd)
	cmd.Stdout = io.Discard
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitStatus: -1, Diagnostics: "open stderr: " + err.Error(), Duration: time.Since(start)}
	}
	if err := cmd.Start(); err != nil {
		e.logger.Error().Err(err).Str("script", inv.ScriptPath).Msg("renderer failed to start")
		return Result{ExitStatus: -1, Diagnostics: "start renderer: " + err.Error(), Duration: time.Since(start)}
	}
	e.logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("renderer started")

	var (
		lines   []string
		waitErr error
		killed  bool
	)
	exited := make(chan struct{})
	g := new(errgroup.Group)
	g.Go(func() error {
		defer close(exited)
		readErr := scanLines(stderr, func(line string) {
			if !utf8.ValidString(line) {
				lines = append(lines, strings.ToValidUTF8(line, "\uFFFD"))
				return
			}
			lines = append(lines, line)
			select {
			case out <- Output{Line: line}:
			case <-ctx.Done():
			}
		})
		waitErr = cmd.Wait()
		return readErr
	})
	g.Go(func() error {
		select {
		case <-exited:
			return nil
		case <-runCtx.Done():
		}
		killed = true
		e.logger.Warn().Int("pid", cmd.Process.Pid).Msg("terminating renderer process group")
		terminateGroup(cmd.Process)
		select {
		case <-exited:
		case <-time.After(e.killGrace):
			killGroup(cmd.Process)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		lines = append(lines, "read stderr: "+err.Error())
	}

	res := Result{Duration: time.Since(start)}
	switch classify(killed, waitErr, ctx.Err()) {
	case endTimedOut:
		res.ExitStatus = -1
		res.TimedOut = true
		lines = append(lines, fmt.Sprintf("timeout: renderer exceeded %s", inv.Timeout))
	case endCancelled:
		res.ExitStatus = -1
		res.Cancelled = true
		lines = append(lines, "cancelled: "+ctx.Err().Error())
	case endExited:
		res.ExitStatus = exitCode(waitErr)
	}
	res.Lines = lines
	res.Diagnostics = strings.Join(lines, "\n")
	return res
}

type runEnd int

const (
	endClean runEnd = iota
	endExited
	endTimedOut
	endCancelled
)

// classify decides how a run ended. A process that exited cleanly is clean
// even when the deadline fired at the same moment.
func classify(killed bool, waitErr, cancelErr error) runEnd {
	switch {
	case waitErr == nil:
		return endClean
	case killed && cancelErr == nil:
		return endTimedOut
	case killed:
		return endCancelled
	}
	return endExited
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code != 0 {
			return code
		}
	}
	return -1
}

// scanLines calls fn for every non-empty line of r, treating both '\n' and
// '\r' as terminators so progress bars yield one line per redraw. Lines
// longer than maxLineBytes abort scanning and the rest of r is discarded.
func scanLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(splitCRLF)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

func splitCRLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Collect drains ch, calling onLine for every streamed line, and returns the
// final result.
func Collect(ch <-chan Output, onLine func(string)) Result {
	var res Result
	for item := range ch {
		if item.Done != nil {
			res = *item.Done
			continue
		}
		if onLine != nil {
			onLine(item.Line)
		}
	}
	return res
}

// Tail returns at most the last n lines.
func Tail(lines []string, n int) []string {
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
