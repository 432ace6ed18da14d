package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/heimdex/heimdex-merger/internal/export"
)

// Canceller stops a running merge. It reports false when the job is not
// running in this process.
type Canceller interface {
	CancelJob(id string) bool
}

type MergeService interface {
	CreateMerge(ctx context.Context, req CreateRequest) (*Job, error)
	Cancel(ctx context.Context, id string) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, limit int) ([]*Job, error)
	Counts(ctx context.Context) (map[string]int, error)
}

type Service struct {
	repo      Repository
	canceller Canceller
	logger    *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetCanceller wires the runner in after construction; the runner itself
// depends on the repository.
func (s *Service) SetCanceller(c Canceller) {
	s.canceller = c
}

func (s *Service) CreateMerge(ctx context.Context, req CreateRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	job := &Job{
		ID:          NewID(),
		Status:      StatusPending,
		Clips:       append([]string(nil), req.Clips...),
		ProjectName: export.SanitizeName(req.ProjectName, maxProjectNameLen),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create merge job: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("merge job created", "job_id", job.ID, "clips", len(job.Clips))
	}
	return job, nil
}

// Cancel cancels a pending job in the store, or asks the runner to stop a
// running one. The runner records the final state once the export stops.
func (s *Service) Cancel(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}

	switch job.Status {
	case StatusPending:
		ok, err := s.repo.CancelPendingJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Claimed by the runner in between.
			return s.cancelRunning(ctx, id)
		}
	case StatusRunning:
		return s.cancelRunning(ctx, id)
	default:
		return job, ErrNotCancellable
	}

	if s.logger != nil {
		s.logger.Info("merge job cancelled", "job_id", id)
	}
	return s.repo.GetJob(ctx, id)
}

func (s *Service) cancelRunning(ctx context.Context, id string) (*Job, error) {
	if s.canceller == nil || !s.canceller.CancelJob(id) {
		job, err := s.repo.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil && job.Terminal() {
			return job, ErrNotCancellable
		}
		return job, fmt.Errorf("merge job %s is not running in this process", id)
	}
	if s.logger != nil {
		s.logger.Info("merge job cancellation requested", "job_id", id)
	}
	return s.repo.GetJob(ctx, id)
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Service) Counts(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByStatus(ctx)
}
