package merge

import (
	"errors"
	"fmt"
)

// Error codes exposed through Code(). They are persisted with failed jobs and
// returned by the API, so they must stay stable.
const (
	CodeTrackAllocation       = "TRACK_ALLOCATION"
	CodeMissingVideoStream    = "MISSING_VIDEO_STREAM"
	CodeVideoInsertion        = "VIDEO_INSERTION"
	CodeAudioInsertion        = "AUDIO_INSERTION"
	CodeExportSessionCreation = "EXPORT_SESSION_CREATION"
	CodeExportFailure         = "EXPORT_FAILURE"
	CodeNoClips               = "NO_CLIPS"
	CodeUnknownExportStatus   = "UNKNOWN_EXPORT_STATUS"
	CodeInternal              = "INTERNAL_ERROR"
)

// ErrNoClips is returned when a merge is requested with an empty clip list.
var ErrNoClips = &NoClipsError{}

type NoClipsError struct{}

func (e *NoClipsError) Error() string { return "merge: no clips to merge" }
func (e *NoClipsError) Code() string { return CodeNoClips }

type TrackAllocationError struct {
	Kind TrackKind
	Err  error
}

func (e *TrackAllocationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("merge: cannot allocate %s track", e.Kind)
	}
	return fmt.Sprintf("merge: cannot allocate %s track: %v", e.Kind, e.Err)
}

func (e *TrackAllocationError) Unwrap() error { return e.Err }
func (e *TrackAllocationError) Code() string { return CodeTrackAllocation }

type MissingVideoStreamError struct {
	Clip SourceClip
	Err  error
}

func (e *MissingVideoStreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("merge: clip %q has no video stream", e.Clip)
	}
	return fmt.Sprintf("merge: clip %q has no usable video stream: %v", e.Clip, e.Err)
}

func (e *MissingVideoStreamError) Unwrap() error { return e.Err }
func (e *MissingVideoStreamError) Code() string { return CodeMissingVideoStream }

type VideoInsertionError struct {
	Clip SourceClip
	Err  error
}

func (e *VideoInsertionError) Error() string {
	return fmt.Sprintf("merge: insert video of %q: %v", e.Clip, e.Err)
}

func (e *VideoInsertionError) Unwrap() error { return e.Err }
func (e *VideoInsertionError) Code() string { return CodeVideoInsertion }

type AudioInsertionError struct {
	Clip SourceClip
	Err  error
}

func (e *AudioInsertionError) Error() string {
	return fmt.Sprintf("merge: insert audio of %q: %v", e.Clip, e.Err)
}

func (e *AudioInsertionError) Unwrap() error { return e.Err }
func (e *AudioInsertionError) Code() string { return CodeAudioInsertion }

type ExportSessionCreationError struct {
	Err error
}

func (e *ExportSessionCreationError) Error() string {
	return fmt.Sprintf("merge: cannot create export session: %v", e.Err)
}

func (e *ExportSessionCreationError) Unwrap() error { return e.Err }
func (e *ExportSessionCreationError) Code() string { return CodeExportSessionCreation }

// ExportFailureError reports an export that ended Cancelled or Failed. Cause
// may be nil when the backend gave no reason.
type ExportFailureError struct {
	Status ExportStatus
	Cause  error
}

func (e *ExportFailureError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("merge: export %s", e.Status)
	}
	return fmt.Sprintf("merge: export %s: %v", e.Status, e.Cause)
}

func (e *ExportFailureError) Unwrap() error { return e.Cause }
func (e *ExportFailureError) Code() string { return CodeExportFailure }

// Cancelled reports whether the export was cancelled rather than failed.
func (e *ExportFailureError) Cancelled() bool { return e.Status == StatusCancelled }

type UnknownExportStatusError struct {
	Status ExportStatus
}

func (e *UnknownExportStatusError) Error() string {
	return fmt.Sprintf("merge: export ended in unrecognized status %s", e.Status)
}

func (e *UnknownExportStatusError) Code() string { return CodeUnknownExportStatus }

// ErrorCode returns the stable code of a merge error, or CodeInternal for
// errors that did not originate here.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeInternal
}

// IsCancelled reports whether err is an export that ended Cancelled.
func IsCancelled(err error) bool {
	var ef *ExportFailureError
	return errors.As(err, &ef) && ef.Cancelled()
}
