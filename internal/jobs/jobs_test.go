package jobs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/heimdex/heimdex-merger/internal/db"
	"github.com/heimdex/heimdex-merger/internal/merge"
	"github.com/heimdex/heimdex-merger/internal/timeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestDB(t *testing.T) Repository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

// fakeBackend resolves every clip to a 2s 640x360 asset with audio and
// exports by writing a small file.
type fakeBackend struct {
	missing map[merge.SourceClip]bool
	block   bool // export waits for cancellation
	fail    error

	mu      sync.Mutex
	started chan struct{}
}

func (b *fakeBackend) ResolveAsset(ctx context.Context, clip merge.SourceClip) (*merge.MediaAsset, error) {
	if b.missing[clip] {
		return &merge.MediaAsset{Locator: clip, Duration: time.Second}, nil
	}
	return &merge.MediaAsset{
		Locator:  clip,
		Duration: 2 * time.Second,
		Video:    &merge.VideoStream{Duration: 2 * time.Second, Width: 640, Height: 360},
		Audio:    &merge.AudioStream{Index: 1, Duration: 2 * time.Second},
	}, nil
}

func (b *fakeBackend) NewComposition() (merge.Composition, error) {
	return timeline.New(), nil
}

func (b *fakeBackend) NewExportSession(comp merge.Composition, plan merge.RenderPlan, target merge.ExportTarget) (merge.ExportSession, error) {
	return &fakeSession{backend: b, target: target}, nil
}

func (b *fakeBackend) signalStarted() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started != nil {
		close(b.started)
		b.started = nil
	}
}

type fakeSession struct {
	backend *fakeBackend
	target  merge.ExportTarget
}

func (s *fakeSession) Run(ctx context.Context) (merge.ExportStatus, error) {
	if s.target.Progress != nil {
		s.target.Progress(0.5)
	}
	s.backend.signalStarted()
	if s.backend.block {
		<-ctx.Done()
		return merge.StatusCancelled, ctx.Err()
	}
	if s.backend.fail != nil {
		return merge.StatusFailed, s.backend.fail
	}
	if err := os.WriteFile(s.target.Path, []byte("merged"), 0644); err != nil {
		return merge.StatusFailed, err
	}
	return merge.StatusCompleted, nil
}

func newTestRunner(t *testing.T, repo Repository, backend *fakeBackend, opts RunnerOptions) *Runner {
	t.Helper()
	engine := merge.NewEngine(backend, merge.Options{TempDir: t.TempDir(), Logger: testLogger()})
	return NewRunner(repo, engine, opts, testLogger())
}

type fakeLibrary struct {
	dir   string
	err   error
	saved []string
}

func (l *fakeLibrary) Save(ctx context.Context, path, name string) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	dest := filepath.Join(l.dir, name+filepath.Ext(path))
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	l.saved = append(l.saved, dest)
	return dest, nil
}

var errBoom = errors.New("boom")
