package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-merger/internal/jobs"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxRequestBytes  = 1 << 20
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	// Media elements cannot send bearer tokens, so artifacts are restricted
	// to local clients instead.
	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())

		r.Get("/merges/{id}/output", artifactHandler(cfg, outputArtifact))
		r.Head("/merges/{id}/output", artifactHandler(cfg, outputArtifact))
		r.Get("/merges/{id}/edl", artifactHandler(cfg, edlArtifact))
		r.Head("/merges/{id}/edl", artifactHandler(cfg, edlArtifact))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Config, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/merges", createMergeHandler(cfg))
		r.Get("/merges", listMergesHandler(cfg))
		r.Get("/merges/{id}", getMergeHandler(cfg))
		r.Delete("/merges/{id}", cancelMergeHandler(cfg))
		r.Post("/runner/pause", runnerHandler(cfg, true))
		r.Post("/runner/resume", runnerHandler(cfg, false))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  version,
			UptimeS:  int64(time.Since(cfg.StartTime).Seconds()),
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		counts, err := cfg.Service.Counts(ctx)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count jobs", "INTERNAL_ERROR")
			return
		}
		recent, _ := cfg.Service.List(ctx, 10)

		resp := StatusResponse{
			State:       "idle",
			JobsPending: counts[jobs.StatusPending],
			JobsRunning: counts[jobs.StatusRunning],
		}

		for _, j := range recent {
			if j.Status == jobs.StatusRunning && resp.ActiveJob == nil {
				active := JobToResponse(j)
				resp.ActiveJob = &active
			}
			if j.Status == jobs.StatusFailed && resp.LastError == "" {
				resp.LastError = j.Error
			}
		}

		switch {
		case cfg.Runner != nil && cfg.Runner.IsPaused():
			resp.State = "paused"
		case resp.JobsRunning > 0:
			resp.State = "merging"
		case resp.LastError != "":
			resp.State = "error"
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Toolchain = ToolchainToResponse(caps)
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func createMergeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateMergeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		job, err := cfg.Service.CreateMerge(r.Context(), jobs.CreateRequest{
			Clips:       req.Clips,
			ProjectName: req.ProjectName,
		})
		if errors.Is(err, jobs.ErrInvalidRequest) {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if err != nil {
			cfg.Logger.Error("failed to create merge job", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to create merge job", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, JobToResponse(job))
	}
}

func listMergesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultListLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxListLimit)
		}

		list, err := cfg.Service.List(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list merge jobs", "INTERNAL_ERROR")
			return
		}

		resp := MergeJobsResponse{Jobs: make([]MergeJobResponse, len(list))}
		for i, j := range list {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getMergeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, jobs.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "merge job not found", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func cancelMergeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.Cancel(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			WriteError(w, http.StatusNotFound, "merge job not found", "NOT_FOUND")
		case errors.Is(err, jobs.ErrNotCancellable):
			WriteError(w, http.StatusConflict, err.Error(), "NOT_CANCELLABLE")
		case err != nil && job != nil:
			WriteError(w, http.StatusConflict, err.Error(), "CANCEL_FAILED")
		case err != nil:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		case job.Status == jobs.StatusCancelled:
			WriteJSON(w, http.StatusOK, JobToResponse(job))
		default:
			// Running: the runner records the cancelled state once the
			// export stops.
			WriteJSON(w, http.StatusAccepted, JobToResponse(job))
		}
	}
}

func runnerHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "merge runner not available", "RUNNER_UNAVAILABLE")
			return
		}
		if pause {
			cfg.Runner.Pause()
		} else {
			cfg.Runner.Resume()
		}
		WriteJSON(w, http.StatusOK, RunnerResponse{
			Paused:     cfg.Runner.IsPaused(),
			ActiveJobs: cfg.Runner.ActiveJobs(),
		})
	}
}

type artifactKind int

const (
	outputArtifact artifactKind = iota
	edlArtifact
)

func artifactHandler(cfg ServerConfig, kind artifactKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := cfg.Service.Get(r.Context(), id)
		if errors.Is(err, jobs.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "merge job not found", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job.Status != jobs.StatusCompleted {
			WriteError(w, http.StatusConflict, "merge job has not completed", "NOT_COMPLETED")
			return
		}

		path := job.OutputPath
		if kind == edlArtifact {
			path = job.EDLPath
		}
		if path == "" {
			WriteError(w, http.StatusNotFound, "artifact not available", "NO_ARTIFACT")
			return
		}

		if err := cfg.Artifacts.ServeFile(w, r, path); err != nil {
			cfg.Logger.Error("artifact serve error", "error", err, "job_id", id)
		}
	}
}
