package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heimdex/heimdex-merger/internal/export"
	"github.com/heimdex/heimdex-merger/internal/library"
	"github.com/heimdex/heimdex-merger/internal/merge"
)

const defaultPollInterval = 2 * time.Second

// Merger starts merges. *merge.Engine implements it.
type Merger interface {
	Start(ctx context.Context, clips []merge.SourceClip, opts ...merge.StartOption) *merge.Task
}

type RunnerOptions struct {
	PollInterval time.Duration
	// Library receives completed outputs. Nil leaves them where they were
	// exported.
	Library  library.Library
	WriteEDL bool
}

// Runner executes pending merge jobs one at a time.
type Runner struct {
	repo         Repository
	merger       Merger
	library      library.Library
	writeEDL     bool
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func NewRunner(repo Repository, merger Merger, opts RunnerOptions, logger *slog.Logger) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		repo:         repo,
		merger:       merger,
		library:      opts.Library,
		writeEDL:     opts.WriteEDL,
		logger:       logger,
		pollInterval: opts.PollInterval,
		active:       make(map[string]context.CancelFunc),
	}
}

// Start polls for pending jobs until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer r.running.Store(false)

	r.logger.Info("merge runner started", "poll_interval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("merge runner stopping")
			return
		case <-ticker.C:
			// Drain the queue before waiting for the next tick.
			for !r.paused.Load() && ctx.Err() == nil && r.processNextJob(ctx) {
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("merge runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("merge runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ActiveJobs returns the number of merges currently exporting.
func (r *Runner) ActiveJobs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// CancelJob cancels a merge running in this process.
func (r *Runner) CancelJob(id string) bool {
	r.mu.Lock()
	cancel, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *Runner) register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.active[id] = cancel
	r.mu.Unlock()
}

func (r *Runner) unregister(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// processNextJob runs the oldest pending job. It reports whether a job was
// picked up.
func (r *Runner) processNextJob(ctx context.Context) bool {
	job, err := r.repo.NextPendingJob(ctx)
	if err != nil {
		r.logger.Error("failed to fetch pending job", "error", err)
		return false
	}
	if job == nil {
		return false
	}

	// Registered before the claim so a cancel arriving right after the claim
	// is not lost.
	jobCtx, cancel := context.WithCancel(ctx)
	r.register(job.ID, cancel)
	defer func() {
		r.unregister(job.ID)
		cancel()
	}()

	claimed, err := r.repo.ClaimJob(ctx, job.ID)
	if err != nil {
		r.logger.Error("failed to claim job", "job_id", job.ID, "error", err)
		return false
	}
	if !claimed {
		return true
	}

	r.runJob(ctx, jobCtx, job)
	return true
}

func (r *Runner) runJob(ctx, jobCtx context.Context, job *Job) {
	logger := r.logger.With("job_id", job.ID)
	logger.Info("processing merge job", "clips", len(job.Clips))

	// Store updates must land even when ctx is cancelled by shutdown.
	storeCtx := context.WithoutCancel(ctx)

	clips := make([]merge.SourceClip, len(job.Clips))
	for i, c := range job.Clips {
		clips[i] = merge.SourceClip(c)
	}

	progress := &progressRecorder{repo: r.repo, ctx: storeCtx, id: job.ID, logger: logger}
	task := r.merger.Start(jobCtx, clips, merge.WithProgress(progress.report))
	<-task.Done()
	res, _ := task.Result()

	if res.Err != nil {
		r.recordFailure(storeCtx, ctx, job, res.Err, logger)
		return
	}

	output := res.OutputPath
	var libraryRef string
	if r.library != nil {
		ref, err := r.library.Save(storeCtx, output, job.ProjectName)
		if err != nil {
			logger.Error("failed to save merge to library", "output", output, "error", err)
			r.finish(storeCtx, job.ID, StatusFailed, fmt.Sprintf("save to library: %v", err), CodeLibrarySave)
			return
		}
		libraryRef = ref
		if _, err := os.Stat(output); os.IsNotExist(err) {
			output = ref
		}
	}

	var edlPath string
	if r.writeEDL {
		p, err := export.WriteSidecar(output, job.ProjectName, clips, res.Plan)
		if err != nil {
			logger.Warn("failed to write edl sidecar", "error", err)
		} else {
			edlPath = p
		}
	}

	if err := r.repo.CompleteJob(storeCtx, job.ID, output, edlPath, libraryRef); err != nil {
		logger.Error("failed to record completed job", "error", err)
		return
	}
	logger.Info("merge job completed", "output", output, "duration", res.Duration)
}

func (r *Runner) recordFailure(storeCtx, ctx context.Context, job *Job, err error, logger *slog.Logger) {
	cancelled := merge.IsCancelled(err)

	switch {
	case cancelled && ctx.Err() != nil:
		logger.Warn("merge job interrupted by shutdown")
		r.finish(storeCtx, job.ID, StatusFailed, "interrupted by shutdown", CodeInterrupted)
	case cancelled:
		logger.Info("merge job cancelled")
		r.finish(storeCtx, job.ID, StatusCancelled, "cancelled", CodeCancelled)
	default:
		code := merge.ErrorCode(err)
		logger.Warn("merge job failed", "code", code, "error", err)
		r.finish(storeCtx, job.ID, StatusFailed, err.Error(), code)
	}
}

func (r *Runner) finish(ctx context.Context, id, status, msg, code string) {
	if err := r.repo.FinishJob(ctx, id, status, msg, code); err != nil {
		r.logger.Error("failed to record job outcome", "job_id", id, "status", status, "error", err)
	}
}

// progressRecorder stores whole-percent progress changes.
type progressRecorder struct {
	repo   Repository
	ctx    context.Context
	id     string
	logger *slog.Logger
	last   atomic.Int32
}

func (p *progressRecorder) report(frac float64) {
	pct := int32(frac * 100)
	if pct > 99 {
		// 100 is written together with the completed status.
		pct = 99
	}
	if pct <= p.last.Load() {
		return
	}
	p.last.Store(pct)
	if err := p.repo.UpdateJobProgress(p.ctx, p.id, int(pct)); err != nil {
		p.logger.Debug("failed to store progress", "error", err)
	}
}
