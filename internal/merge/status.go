package merge

import (
	"fmt"
	"sync"
)

// ExportStatus is the lifecycle state of an export.
type ExportStatus int

const (
	StatusUnknown ExportStatus = iota
	StatusCreated
	StatusExporting
	StatusCompleted
	StatusCancelled
	StatusFailed
)

func (s ExportStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusCreated:
		return "created"
	case StatusExporting:
		return "exporting"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether s ends the export lifecycle.
func (s ExportStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// exportState enforces Created -> Exporting -> {Completed, Cancelled, Failed}.
type exportState struct {
	mu     sync.Mutex
	status ExportStatus
}

func newExportState() *exportState {
	return &exportState{status: StatusCreated}
}

func (s *exportState) get() ExportStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *exportState) transition(to ExportStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !canTransition(s.status, to) {
		return fmt.Errorf("illegal export transition %s -> %s", s.status, to)
	}
	s.status = to
	return nil
}

func canTransition(from, to ExportStatus) bool {
	switch from {
	case StatusCreated:
		return to == StatusExporting
	case StatusExporting:
		return to.Terminal()
	default:
		return false
	}
}
