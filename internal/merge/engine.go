package merge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ContainerMOV         = "mov"
	PresetHighestQuality = "highest"
)

// Result is the single terminal outcome of a merge. Exactly one of
// OutputPath and Err is set.
type Result struct {
	OutputPath string
	Err        error

	// Plan and Duration describe the exported timeline; they are only set
	// on success.
	Plan     RenderPlan
	Duration time.Duration
}

type Options struct {
	// TempDir receives export outputs; defaults to os.TempDir().
	TempDir string
	Logger  *slog.Logger
}

// Engine runs merges against a Backend. It holds no per-merge state and is
// safe for concurrent use.
type Engine struct {
	backend Backend
	tempDir string
	logger  *slog.Logger
}

func NewEngine(backend Backend, opts Options) *Engine {
	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		backend: backend,
		tempDir: tempDir,
		logger:  logger.With("component", "merge"),
	}
}

type startConfig struct {
	progress ProgressFunc
}

type StartOption func(*startConfig)

// WithProgress registers a callback for export progress in [0, 1].
func WithProgress(fn ProgressFunc) StartOption {
	return func(c *startConfig) { c.progress = fn }
}

// Start builds the composition on the calling goroutine and starts the export
// in the background. The returned Task always completes exactly once, also
// when setup fails. Cancelling ctx cancels the export.
func (e *Engine) Start(ctx context.Context, clips []SourceClip, opts ...StartOption) *Task {
	var sc startConfig
	for _, o := range opts {
		o(&sc)
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		done:   make(chan struct{}),
		cancel: cancel,
		state:  newExportState(),
	}

	if len(clips) == 0 {
		t.finish(Result{Err: ErrNoClips})
		return t
	}

	start := time.Now()
	build, err := BuildComposition(ctx, e.backend, clips)
	if err != nil {
		e.logger.Warn("composition build failed", "clips", len(clips), "error", err)
		t.finish(Result{Err: err})
		return t
	}

	plan := PlanLayout(build.Instructions, build.RenderSize)
	target := ExportTarget{
		Path:      filepath.Join(e.tempDir, uuid.NewString()+"."+ContainerMOV),
		Container: ContainerMOV,
		Preset:    PresetHighestQuality,
		Progress:  sc.progress,
	}

	session, err := e.backend.NewExportSession(build.Composition, plan, target)
	if err != nil {
		t.finish(Result{Err: &ExportSessionCreationError{Err: err}})
		return t
	}
	if session == nil {
		t.finish(Result{Err: &ExportSessionCreationError{Err: fmt.Errorf("backend returned no session")}})
		return t
	}

	if err := t.state.transition(StatusExporting); err != nil {
		t.finish(Result{Err: &ExportSessionCreationError{Err: err}})
		return t
	}

	e.logger.Info("export started",
		"clips", len(clips),
		"duration", build.Duration,
		"render_size", plan.RenderSize.String(),
		"output", target.Path,
	)

	go func() {
		res := e.runSession(ctx, t, session, target)
		if res.Err == nil {
			res.Plan = plan
			res.Duration = build.Duration
			e.logger.Info("export completed", "output", res.OutputPath, "elapsed", time.Since(start))
		} else {
			e.logger.Warn("export ended", "status", t.Status().String(), "error", res.Err)
		}
		t.finish(res)
	}()

	return t
}

func (e *Engine) runSession(ctx context.Context, t *Task, session ExportSession, target ExportTarget) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			_ = t.state.transition(StatusFailed)
			res = Result{Err: &ExportFailureError{Status: StatusFailed, Cause: fmt.Errorf("export panic: %v", r)}}
		}
	}()

	status, err := session.Run(ctx)
	return resolveOutcome(t.state, status, err, target.Path)
}

// resolveOutcome maps a terminal status onto a Result. Unrecognized statuses
// still produce a result so the task never hangs.
func resolveOutcome(state *exportState, status ExportStatus, err error, outputPath string) Result {
	switch status {
	case StatusCompleted:
		_ = state.transition(StatusCompleted)
		return Result{OutputPath: outputPath}
	case StatusCancelled, StatusFailed:
		_ = state.transition(status)
		return Result{Err: &ExportFailureError{Status: status, Cause: err}}
	default:
		_ = state.transition(StatusFailed)
		return Result{Err: &UnknownExportStatusError{Status: status}}
	}
}

// Merge is the callback form of Start. done is invoked exactly once, on a
// goroutine other than the caller's.
func (e *Engine) Merge(ctx context.Context, clips []SourceClip, done func(Result), opts ...StartOption) *Task {
	t := e.Start(ctx, clips, opts...)
	go func() {
		<-t.Done()
		done(t.result)
	}()
	return t
}

// Run starts a merge and waits for it.
func (e *Engine) Run(ctx context.Context, clips []SourceClip, opts ...StartOption) (string, error) {
	t := e.Start(ctx, clips, opts...)
	<-t.Done()
	return t.result.OutputPath, t.result.Err
}

// Task is a running merge.
type Task struct {
	done   chan struct{}
	once   sync.Once
	result Result
	cancel context.CancelFunc
	state  *exportState
}

func (t *Task) finish(r Result) {
	t.once.Do(func() {
		t.result = r
		t.cancel()
		close(t.done)
	})
}

// Done is closed once the result is available.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the outcome and whether it is available yet.
func (t *Task) Result() (Result, bool) {
	select {
	case <-t.done:
		return t.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the merge finishes or ctx is done. A ctx error does not
// cancel the merge; use Cancel for that.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel requests cancellation of the export. It is a no-op once finished.
func (t *Task) Cancel() {
	t.cancel()
}

// Status returns the export state.
func (t *Task) Status() ExportStatus {
	return t.state.get()
}
