// Package jobs persists merge requests and runs them one at a time through
// the merge engine.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Config keys.
const (
	ConfigAuthToken = "auth_token"
	ConfigDeviceID  = "device_id"
)

// Error codes owned by the job layer. Merge failures use merge.ErrorCode.
const (
	CodeCancelled   = "CANCELLED"
	CodeLibrarySave = "LIBRARY_SAVE_FAILED"
	CodeInterrupted = "INTERRUPTED"
)

const maxProjectNameLen = 120

var (
	ErrNotFound       = errors.New("merge job not found")
	ErrNotCancellable = errors.New("merge job already finished")
	ErrInvalidRequest = errors.New("invalid merge request")
)

type Job struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Clips       []string  `json:"clips"`
	ProjectName string    `json:"project_name,omitempty"`
	OutputPath  string    `json:"output_path,omitempty"`
	EDLPath     string    `json:"edl_path,omitempty"`
	LibraryPath string    `json:"library_path,omitempty"`
	Progress    int       `json:"progress"`
	Error       string    `json:"error,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type CreateRequest struct {
	Clips       []string `json:"clips"`
	ProjectName string   `json:"project_name,omitempty"`
}

func (r CreateRequest) Validate() error {
	if len(r.Clips) == 0 {
		return fmt.Errorf("%w: clips is required", ErrInvalidRequest)
	}
	for i, c := range r.Clips {
		if c == "" {
			return fmt.Errorf("%w: clip %d is empty", ErrInvalidRequest, i)
		}
	}
	return nil
}

func NewID() string {
	return uuid.NewString()
}
