package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kalambet/karmgyan/internal/metrics"
)

const (
	defaultMaxConcurrent = 4
	defaultStderrLimit   = 64 << 10

	// waitDelay bounds how long Wait keeps draining pipes after the process
	// has been killed, in case a grandchild still holds them open.
	waitDelay = 2 * time.Second
)

// Config describes how to launch the engine.
type Config struct {
	Command       string   // interpreter or executable, e.g. "python3"
	Args          []string // leading arguments, e.g. the script path
	Env           []string // extra KEY=VALUE pairs on top of the server's environment
	Dir           string
	MaxConcurrent int
	StderrLimit   int
	Logger        *slog.Logger
}

// Invoker runs engine processes with bounded concurrency. It implements Engine.
type Invoker struct {
	cfg    Config
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewInvoker returns an Invoker for cfg, filling in defaults.
func NewInvoker(cfg Config) *Invoker {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.StderrLimit <= 0 {
		cfg.StderrLimit = defaultStderrLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger: logger,
	}
}

// Call is a submitted invocation.
type Call struct {
	done    chan struct{}
	outcome Outcome
}

// Done is closed once the process has finished and been classified.
func (c *Call) Done() <-chan struct{} { return c.done }

// Wait blocks until the outcome is known or ctx ends. Giving up on a call
// does not stop the process; it still runs to completion or timeout.
func (c *Call) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		return c.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Submit waits for a free slot and starts req in the background. Waiting for
// the slot honours ctx; once started, the process is bound only by timeout.
func (inv *Invoker) Submit(ctx context.Context, req Request, timeout time.Duration) (*Call, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidRequest)
	}
	args, err := req.args()
	if err != nil {
		return nil, err
	}
	if err := inv.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for engine slot: %w", err)
	}

	call := &Call{done: make(chan struct{})}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer inv.sem.Release(1)
		defer close(call.done)
		call.outcome = inv.run(runCtx, req.Action, args, timeout)
		inv.observe(req.Action, call.outcome)
	}()
	return call, nil
}

// Invoke submits req and waits for its outcome.
func (inv *Invoker) Invoke(ctx context.Context, req Request, timeout time.Duration) (Outcome, error) {
	call, err := inv.Submit(ctx, req, timeout)
	if err != nil {
		return Outcome{}, err
	}
	return call.Wait(ctx)
}

func (inv *Invoker) run(ctx context.Context, action Action, args []string, timeout time.Duration) Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer metrics.EngineStarted()()

	argv := append(slices.Clone(inv.cfg.Args), args...)
	cmd := exec.CommandContext(ctx, inv.cfg.Command, argv...)
	cmd.Dir = inv.cfg.Dir
	cmd.Env = append(os.Environ(), inv.cfg.Env...)
	cmd.WaitDelay = waitDelay
	isolate(cmd)

	var stdout bytes.Buffer
	stderr := newStderrSink(inv.logger, action, inv.cfg.StderrLimit)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	stderr.flush()

	out := Outcome{
		ExitCode: -1,
		Duration: time.Since(start),
		Stderr:   stderr.String(),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		out.Kind = OutcomeProcessFailure
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			out.TimedOut = true
			out.Message = fmt.Sprintf("engine did not finish within %s", timeout)
		case errors.As(err, &exitErr):
			out.Message = fmt.Sprintf("engine exited with status %d", exitErr.ExitCode())
		default:
			out.Message = fmt.Sprintf("running engine: %v", err)
		}
		return out
	}
	return classify(stdout.Bytes(), out)
}

func (inv *Invoker) observe(action Action, out Outcome) {
	metrics.RecordEngine(string(action), string(out.Kind), out.Duration)

	attrs := []any{
		"action", string(action),
		"outcome", string(out.Kind),
		"duration", out.Duration,
	}
	if out.OK() {
		inv.logger.Info("engine finished", append(attrs, "model", out.Model, "mock", out.IsMock)...)
		return
	}
	attrs = append(attrs, "message", out.Message, "exit_code", out.ExitCode, "timed_out", out.TimedOut)
	inv.logger.Warn("engine failed", attrs...)
}
