package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/heimdex/heimdex-merger/internal/merge"
)

const maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

// ExitError is a failed ffmpeg run.
type ExitError struct {
	ExitCode   int
	StderrTail string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("ffmpeg exited %d: %s", e.ExitCode, truncate(e.StderrTail, 512))
}

var ErrSessionReused = errors.New("export session already ran")

// Session is a single ffmpeg export.
type Session struct {
	ffmpegPath string
	args       []string
	total      time.Duration
	target     merge.ExportTarget
	timeout    time.Duration
	logger     *slog.Logger
	ran        atomic.Bool
}

// Args returns the ffmpeg arguments the session will run.
func (s *Session) Args() []string {
	out := make([]string, len(s.args))
	copy(out, s.args)
	return out
}

func (s *Session) Run(ctx context.Context) (merge.ExportStatus, error) {
	if s.ran.Swap(true) {
		return merge.StatusFailed, ErrSessionReused
	}

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := os.MkdirAll(filepath.Dir(s.target.Path), 0755); err != nil {
		return merge.StatusFailed, fmt.Errorf("create output dir: %w", err)
	}

	start := time.Now()
	cmd := exec.CommandContext(runCtx, s.ffmpegPath, s.args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return merge.StatusFailed, fmt.Errorf("ffmpeg stdout: %w", err)
	}

	s.logger.Info("executing ffmpeg export",
		"output", s.target.Path,
		"duration", s.total,
		"timeout", s.timeout,
	)

	if err := cmd.Start(); err != nil {
		return merge.StatusFailed, fmt.Errorf("start ffmpeg: %w", err)
	}

	readProgress(stdout, s.total, s.target.Progress)
	err = cmd.Wait()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		s.removePartial()
		s.logger.Info("ffmpeg export cancelled", "duration_ms", elapsed.Milliseconds())
		return merge.StatusCancelled, ctx.Err()
	}
	if runCtx.Err() != nil {
		s.removePartial()
		return merge.StatusFailed, fmt.Errorf("export timed out after %s", s.timeout)
	}
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		s.removePartial()
		s.logger.Warn("ffmpeg export failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrBuf.String(), 512),
		)
		return merge.StatusFailed, &ExitError{ExitCode: exitCode, StderrTail: stderrBuf.String()}
	}

	if s.target.Progress != nil {
		s.target.Progress(1)
	}
	s.logger.Info("ffmpeg export succeeded", "duration_ms", elapsed.Milliseconds(), "output", s.target.Path)
	return merge.StatusCompleted, nil
}

func (s *Session) removePartial() {
	if err := os.Remove(s.target.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove partial output", "path", s.target.Path, "error", err)
	}
}

// readProgress consumes `-progress pipe:1` key=value output until EOF.
func readProgress(r io.Reader, total time.Duration, fn merge.ProgressFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || fn == nil || total <= 0 {
			continue
		}
		// ffmpeg repeats the position as out_time_ms (also microseconds);
		// only out_time_us is read.
		if key != "out_time_us" {
			continue
		}
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			continue
		}
		frac := float64(time.Duration(us)*time.Microsecond) / float64(total)
		if frac > 1 {
			frac = 1
		}
		fn(frac)
	}
	_, _ = io.Copy(io.Discard, r)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
