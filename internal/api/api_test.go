package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/heimdex/heimdex-merger/internal/ffmpeg"
	"github.com/heimdex/heimdex-merger/internal/jobs"
	"github.com/heimdex/heimdex-merger/internal/playback"
)

const testToken = "test-token-0123456789"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeService is an in-memory jobs.MergeService.
type fakeService struct {
	mu       sync.Mutex
	jobs     map[string]*jobs.Job
	seq      int
	cancelFn func(*jobs.Job) (*jobs.Job, error)
	failList bool
}

func newFakeService(list ...*jobs.Job) *fakeService {
	s := &fakeService{jobs: make(map[string]*jobs.Job)}
	for _, j := range list {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeService) CreateMerge(ctx context.Context, req jobs.CreateRequest) (*jobs.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := time.Date(2026, 3, 1, 10, 0, s.seq, 0, time.UTC)
	job := &jobs.Job{
		ID:          fmt.Sprintf("job-%d", s.seq),
		Status:      jobs.StatusPending,
		Clips:       req.Clips,
		ProjectName: req.ProjectName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *fakeService) Cancel(ctx context.Context, id string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	if s.cancelFn != nil {
		return s.cancelFn(job)
	}
	if job.Terminal() {
		return job, jobs.ErrNotCancellable
	}
	job.Status = jobs.StatusCancelled
	return job, nil
}

func (s *fakeService) Get(ctx context.Context, id string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return job, nil
}

func (s *fakeService) List(ctx context.Context, limit int) ([]*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList {
		return nil, fmt.Errorf("database is locked")
	}
	out := make([]*jobs.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeService) Counts(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

type fakeConfig map[string]string

func (c fakeConfig) GetConfig(ctx context.Context, key string) (string, error) {
	return c[key], nil
}

type fakeRunner struct {
	paused bool
	active int
}

func (r *fakeRunner) Pause()          { r.paused = true }
func (r *fakeRunner) Resume()         { r.paused = false }
func (r *fakeRunner) IsPaused() bool  { return r.paused }
func (r *fakeRunner) ActiveJobs() int { return r.active }

type fakeToolchain struct {
	caps *ffmpeg.Capabilities
}

func (f *fakeToolchain) Peek() *ffmpeg.Capabilities { return f.caps }

func testConfig(svc *fakeService) ServerConfig {
	return ServerConfig{
		Service:   svc,
		Config:    fakeConfig{jobs.ConfigAuthToken: testToken},
		Artifacts: playback.NewServer(testLogger()),
		Logger:    testLogger(),
		StartTime: time.Now(),
		DeviceID:  "test-device",
		Version:   "1.2.3",
	}
}

func testJob(id, status string, created time.Time) *jobs.Job {
	return &jobs.Job{
		ID:        id,
		Status:    status,
		Clips:     []string{"/v/a.mov"},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// do sends an authenticated request from a loopback address.
func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.RemoteAddr = "127.0.0.1:54321"
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON %q: %v", rr.Body.String(), err)
	}
	return body
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := decodeJSONBody(t, rr)["code"].(string)
	return code
}

func newRecorderServe(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
