package api

import (
	"sort"
	"time"

	"github.com/heimdex/heimdex-merger/internal/ffmpeg"
	"github.com/heimdex/heimdex-merger/internal/jobs"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State       string             `json:"state"`
	LastError   string             `json:"last_error,omitempty"`
	JobsPending int                `json:"jobs_pending"`
	JobsRunning int                `json:"jobs_running"`
	ActiveJob   *MergeJobResponse  `json:"active_job,omitempty"`
	Toolchain   *ToolchainResponse `json:"toolchain,omitempty"`
}

type ToolchainResponse struct {
	FFmpegVersion   string   `json:"ffmpeg_version,omitempty"`
	FFprobeVersion  string   `json:"ffprobe_version,omitempty"`
	CanMerge        bool     `json:"can_merge"`
	MissingEncoders []string `json:"missing_encoders,omitempty"`
	LastProbeAt     string   `json:"last_probe_at,omitempty"`
}

type CreateMergeRequest struct {
	Clips       []string `json:"clips"`
	ProjectName string   `json:"project_name,omitempty"`
}

type MergeJobResponse struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Clips       []string `json:"clips"`
	ProjectName string   `json:"project_name,omitempty"`
	Progress    int      `json:"progress"`
	OutputPath  string   `json:"output_path,omitempty"`
	EDLPath     string   `json:"edl_path,omitempty"`
	LibraryPath string   `json:"library_path,omitempty"`
	OutputURL   string   `json:"output_url,omitempty"`
	EDLURL      string   `json:"edl_url,omitempty"`
	Error       string   `json:"error,omitempty"`
	ErrorCode   string   `json:"error_code,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type MergeJobsResponse struct {
	Jobs []MergeJobResponse `json:"jobs"`
}

type RunnerResponse struct {
	Paused     bool `json:"paused"`
	ActiveJobs int  `json:"active_jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j *jobs.Job) MergeJobResponse {
	resp := MergeJobResponse{
		ID:          j.ID,
		Status:      j.Status,
		Clips:       j.Clips,
		ProjectName: j.ProjectName,
		Progress:    j.Progress,
		OutputPath:  j.OutputPath,
		EDLPath:     j.EDLPath,
		LibraryPath: j.LibraryPath,
		Error:       j.Error,
		ErrorCode:   j.ErrorCode,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
	if resp.Clips == nil {
		resp.Clips = []string{}
	}
	if j.Status == jobs.StatusCompleted {
		if j.OutputPath != "" {
			resp.OutputURL = "/merges/" + j.ID + "/output"
		}
		if j.EDLPath != "" {
			resp.EDLURL = "/merges/" + j.ID + "/edl"
		}
	}
	return resp
}

func ToolchainToResponse(c *ffmpeg.Capabilities) *ToolchainResponse {
	resp := &ToolchainResponse{
		FFmpegVersion:  c.FFmpeg.Version,
		FFprobeVersion: c.FFprobe.Version,
		CanMerge:       c.CanMerge,
	}
	for name, ok := range c.Encoders {
		if !ok {
			resp.MissingEncoders = append(resp.MissingEncoders, name)
		}
	}
	sort.Strings(resp.MissingEncoders)
	if !c.ProbedAt.IsZero() {
		resp.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}
