package merge_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heimdex/heimdex-merger/internal/merge"
	"github.com/heimdex/heimdex-merger/internal/timeline"
)

type fakeBackend struct {
	assets     map[merge.SourceClip]*merge.MediaAsset
	resolveErr map[merge.SourceClip]error
	compErr    error
	failTrack  *merge.TrackKind
	sessionErr error
	session    *fakeSession

	rejectAudio bool

	mu              sync.Mutex
	comp            *timeline.Composition
	plan            merge.RenderPlan
	target          merge.ExportTarget
	compsCreated    int
	sessionsCreated int
}

func (b *fakeBackend) ResolveAsset(ctx context.Context, clip merge.SourceClip) (*merge.MediaAsset, error) {
	if err, ok := b.resolveErr[clip]; ok {
		return nil, err
	}
	a, ok := b.assets[clip]
	if !ok {
		return nil, errors.New("no such file")
	}
	return a, nil
}

func (b *fakeBackend) NewComposition() (merge.Composition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.compsCreated++
	if b.compErr != nil {
		return nil, b.compErr
	}
	b.comp = timeline.New()
	if b.failTrack != nil || b.rejectAudio {
		return &failingComposition{Composition: b.comp, fail: b.failTrack, rejectAudio: b.rejectAudio}, nil
	}
	return b.comp, nil
}

func (b *fakeBackend) NewExportSession(comp merge.Composition, plan merge.RenderPlan, target merge.ExportTarget) (merge.ExportSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessionErr != nil {
		return nil, b.sessionErr
	}
	b.sessionsCreated++
	b.plan = plan
	b.target = target
	s := b.session
	if s == nil {
		s = &fakeSession{status: merge.StatusCompleted}
	}
	s.target = target
	return s, nil
}

type failingComposition struct {
	*timeline.Composition
	fail        *merge.TrackKind
	rejectAudio bool
}

func (c *failingComposition) AddTrack(kind merge.TrackKind) (merge.Track, error) {
	if c.fail != nil && kind == *c.fail {
		return nil, errors.New("track limit reached")
	}
	tr, err := c.Composition.AddTrack(kind)
	if err != nil {
		return nil, err
	}
	if c.rejectAudio && kind == merge.TrackAudio {
		return rejectingTrack{tr}, nil
	}
	return tr, nil
}

type rejectingTrack struct {
	merge.Track
}

func (rejectingTrack) InsertTimeRange(merge.TimeRange, merge.Stream, merge.SourceClip, time.Duration) error {
	return errors.New("decoder mismatch")
}

func (rejectingTrack) InsertEmptyTimeRange(merge.TimeRange) error {
	return errors.New("decoder mismatch")
}

type fakeSession struct {
	status   merge.ExportStatus
	err      error
	block    bool
	doPanic  bool
	progress []float64
	target   merge.ExportTarget
	runs     atomic.Int32
}

func (s *fakeSession) Run(ctx context.Context) (merge.ExportStatus, error) {
	s.runs.Add(1)
	if s.doPanic {
		panic("encoder exploded")
	}
	if s.target.Progress != nil {
		for _, p := range s.progress {
			s.target.Progress(p)
		}
	}
	if s.block {
		<-ctx.Done()
		return merge.StatusCancelled, ctx.Err()
	}
	return s.status, s.err
}

func videoAudio(name string, d time.Duration, w, h int) *merge.MediaAsset {
	return &merge.MediaAsset{
		Locator:  merge.SourceClip(name),
		Duration: d,
		Video:    &merge.VideoStream{Index: 0, Duration: d, Width: w, Height: h},
		Audio:    &merge.AudioStream{Index: 1, Duration: d},
	}
}

func videoOnly(name string, d time.Duration, w, h int) *merge.MediaAsset {
	return &merge.MediaAsset{
		Locator:  merge.SourceClip(name),
		Duration: d,
		Video:    &merge.VideoStream{Index: 0, Duration: d, Width: w, Height: h},
	}
}

func newTestEngine(t *testing.T, b merge.Backend) *merge.Engine {
	t.Helper()
	return merge.NewEngine(b, merge.Options{
		TempDir: t.TempDir(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func waitResult(t *testing.T, task *merge.Task) merge.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := task.Wait(ctx)
	if err != nil {
		t.Fatalf("task did not finish: %v", err)
	}
	return res
}

func TestMerge_ExampleTwoClips(t *testing.T) {
	b := &fakeBackend{assets: map[merge.SourceClip]*merge.MediaAsset{
		"a.mov": videoAudio("a.mov", 5*time.Second, 100, 100),
		"b.mov": videoOnly("b.mov", 3*time.Second, 200, 50),
	}}
	e := newTestEngine(t, b)

	res := waitResult(t, e.Start(context.Background(), []merge.SourceClip{"a.mov", "b.mov"}))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !strings.HasSuffix(res.OutputPath, ".mov") {
		t.Errorf("output path = %q, want .mov suffix", res.OutputPath)
	}
	if res.OutputPath != b.target.Path {
		t.Errorf("output path = %q, want export target %q", res.OutputPath, b.target.Path)
	}
	if res.Duration != 8*time.Second {
		t.Errorf("duration = %s, want 8s", res.Duration)
	}

	if b.plan.RenderSize != (merge.Size{Width: 200, Height: 100}) {
		t.Errorf("render size = %s, want 200x100", b.plan.RenderSize)
	}
	if b.plan.FrameRate != 30 {
		t.Errorf("frame rate = %d, want 30", b.plan.FrameRate)
	}
	if b.target.Container != merge.ContainerMOV || b.target.Preset != merge.PresetHighestQuality {
		t.Errorf("target = %+v, want mov/highest", b.target)
	}

	want := []merge.TimeRange{
		{Start: 0, Duration: 5 * time.Second},
		{Start: 5 * time.Second, Duration: 3 * time.Second},
	}
	if len(b.plan.Instructions) != len(want) {
		t.Fatalf("instructions = %d, want %d", len(b.plan.Instructions), len(want))
	}
	for i, w := range want {
		if b.plan.Instructions[i].TimeRange != w {
			t.Errorf("instruction %d = %s, want %s", i, b.plan.Instructions[i].TimeRange, w)
		}
	}

	audio := b.comp.TracksOf(merge.TrackAudio)[0].Segments()
	if len(audio) != 2 {
		t.Fatalf("audio segments = %d, want 2", len(audio))
	}
	if audio[0].Empty || audio[0].Source != "a.mov" {
		t.Errorf("first audio segment = %+v, want real audio from a.mov", audio[0])
	}
	if !audio[1].Empty || audio[1].Target != want[1] {
		t.Errorf("second audio segment = %+v, want silence over %s", audio[1], want[1])
	}
}

func TestMerge_PreservesInputOrder(t *testing.T) {
	assets := map[merge.SourceClip]*merge.MediaAsset{
		"1.mov": videoAudio("1.mov", 2*time.Second, 640, 480),
		"2.mov": videoOnly("2.mov", 4*time.Second, 1280, 720),
		"3.mov": videoAudio("3.mov", 1*time.Second, 320, 240),
	}
	orders := [][]merge.SourceClip{
		{"1.mov", "2.mov", "3.mov"},
		{"3.mov", "1.mov", "2.mov"},
		{"2.mov", "3.mov", "1.mov"},
	}

	for _, order := range orders {
		b := &fakeBackend{assets: assets}
		e := newTestEngine(t, b)

		res := waitResult(t, e.Start(context.Background(), order))
		if res.Err != nil {
			t.Fatalf("order %v: unexpected error: %v", order, res.Err)
		}

		var total time.Duration
		for _, c := range order {
			total += assets[c].Duration
		}
		if got := b.comp.Duration(); got != total {
			t.Errorf("order %v: duration = %s, want %s", order, got, total)
		}

		video := b.comp.TracksOf(merge.TrackVideo)[0].Segments()
		audio := b.comp.TracksOf(merge.TrackAudio)[0].Segments()
		for i, c := range order {
			if video[i].Source != c {
				t.Errorf("order %v: video segment %d = %s, want %s", order, i, video[i].Source, c)
			}
			if audio[i].Target != video[i].Target {
				t.Errorf("order %v: audio %s misaligned with video %s", order, audio[i].Target, video[i].Target)
			}
			if audio[i].Empty != (assets[c].Audio == nil) {
				t.Errorf("order %v: segment %d empty = %v", order, i, audio[i].Empty)
			}
		}

		var cursor time.Duration
		for i, ins := range b.plan.Instructions {
			if ins.TimeRange.Start != cursor {
				t.Errorf("order %v: instruction %d starts at %s, want %s", order, i, ins.TimeRange.Start, cursor)
			}
			cursor = ins.TimeRange.End()
		}
		if cursor != total {
			t.Errorf("order %v: instructions cover %s, want %s", order, cursor, total)
		}
		if b.plan.RenderSize != (merge.Size{Width: 1280, Height: 720}) {
			t.Errorf("order %v: render size = %s, want 1280x720", order, b.plan.RenderSize)
		}
	}
}

func TestMerge_RenderSizeIndependentMaxima(t *testing.T) {
	b := &fakeBackend{assets: map[merge.SourceClip]*merge.MediaAsset{
		"wide.mov": videoOnly("wide.mov", time.Second, 1920, 200),
		"tall.mov": videoOnly("tall.mov", time.Second, 300, 1080),
	}}
	e := newTestEngine(t, b)

	res := waitResult(t, e.Start(context.Background(), []merge.SourceClip{"wide.mov", "tall.mov"}))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if got := res.Plan.RenderSize; got != (merge.Size{Width: 1920, Height: 1080}) {
		t.Errorf("render size = %s, want 1920x1080", got)
	}
}

func TestMerge_NoClips(t *testing.T) {
	b := &fakeBackend{}
	e := newTestEngine(t, b)

	res := waitResult(t, e.Start(context.Background(), nil))
	if !errors.Is(res.Err, merge.ErrNoClips) {
		t.Fatalf("err = %v, want ErrNoClips", res.Err)
	}
	if res.OutputPath != "" {
		t.Errorf("output path = %q, want empty", res.OutputPath)
	}
	if b.compsCreated != 0 || b.sessionsCreated != 0 {
		t.Errorf("backend touched: compositions=%d sessions=%d", b.compsCreated, b.sessionsCreated)
	}
	if merge.ErrorCode(res.Err) != merge.CodeNoClips {
		t.Errorf("code = %s, want %s", merge.ErrorCode(res.Err), merge.CodeNoClips)
	}
}

func TestMerge_MissingVideoStream(t *testing.T) {
	audioOnly := &merge.MediaAsset{Locator: "song.m4a", Duration: time.Second, Audio: &merge.AudioStream{Duration: time.Second}}
	b := &fakeBackend{assets: map[merge.SourceClip]*merge.MediaAsset{
		"a.mov":    videoAudio("a.mov", time.Second, 10, 10),
		"song.m4a": audioOnly,
	}}
	e := newTestEngine(t, b)

	res := waitResult(t, e.Start(context.Background(), []merge.SourceClip{"a.mov", "song.m4a"}))
	var mv *merge.MissingVideoStreamError
	if !errors.As(res.Err, &mv) {
		t.Fatalf("err = %v, want MissingVideoStreamError", res.Err)
	}
	if mv.Clip != "song.m4a" {
		t.Errorf("clip = %s, want song.m4a", mv.Clip)
	}
	if b.sessionsCreated != 0 {
		t.Errorf("export attempted after missing video stream")
	}
	if res.OutputPath != "" {
		t.Errorf("partial output returned: %q", res.OutputPath)
	}
}

func TestMerge_UnresolvableClip(t *testing.T) {
	cause := errors.New("permission denied")
	b := &fakeBackend{resolveErr: map[merge.SourceClip]error{"locked.mov": cause}}
	e := newTestEngine(t, b)

	res := waitResult(t, e.Start(context.Background(), []merge.SourceClip{"locked.mov"}))
	var mv *merge.MissingVideoStreamError
	if !errors.As(res.Err, &mv) {
		t.Fatalf("err = %v, want MissingVideoStreamError", res.Err)
	}
	if !errors.Is(res.Err, cause) {
		t.Errorf("err does not wrap cause: %v", res.Err)
	}
}

func TestMerge_TrackAllocationFailure(t *testing.T) {
	for _, kind := range []merge.TrackKind{merge.TrackVideo, merge.TrackAudio} {
		t.Run(kind.String(), func(t *testing.T) {
			k := kind
			b := &fakeBackend{
				assets:    map[merge.SourceClip]*merge.MediaAsset{"a.mov": videoAudio("a.mov", time.Second, 10, 10)},
				failTrack: &k,
			}
			e := newTestEngine(t, b)

			res := waitResult(t, e.Start(context.Background(), []merge.SourceClip{"a.mov"}))
			var ta *merge.TrackAllocationError
			if !errors.As(res.Err, &ta) {
				t.Fatalf("err = %v, want TrackAllocationError", res.Err)
			}
			if ta.Kind != kind {
				t.Errorf("kind = %s, want %s", ta.Kind, kind)
			}
			if b.sessionsCreated != 0 {
				t.Errorf("export attempted after track allocation failure")
			}
		})
	}
}

func TestMerge_CompositionCreationFailure(t *testing.T) {
	b := &fakeBackend{
		assets:  map[merge.SourceClip]*merge.MediaAsset{"a.mov": videoAudio("a.mov", time.Second, 10, 10)},
		compErr: errors.New("out of memory"),
	}
	e := newTestEngine(t, b)

	res := waitResult(t, e.Start(context.Background(), []merge.SourceClip{"a.mov"}))
	var ta *merge.TrackAllocationError
	if !errors.As(res.Err, &ta) || ta.Kind != merge.TrackVideo {
		t.Fatalf("err = %v, want video TrackAllocationError", res.Err)
	}
}

func TestMerge_VideoInsertionFailure(t *testing.T) {
	zero := videoAudio("empty.mov", 0, 10, 10)
	b := &fakeBackend{assets: map[merge.SourceClip]*merge.MediaAsset{"empty.mov": zero}}
	e := newTestEngine(t, b)

	res := waitResult(t, e.Start(context.Background(), []merge.SourceClip{"empty.mov"}))
	var vi *merge.VideoInsertionError
	if !errors.As(res.Err, &vi) {
		t.Fatalf("err = %v, want VideoInsertionError", res.Err)
	}
	if !errors.Is(res.Err, timeline.ErrNonPositiveDuration) {
		t.Errorf("err does not wrap timeline cause: %v", res.Err)
	}
}

func TestMerge_AudioInsertionFailure(t *testing.T) {
	for _, tc := range []struct {
		name  string
		asset *merge.MediaAsset
	}{
		{name: "with audio", asset: videoAudio("a.mov", time.Second, 10, 10)},
		{name: "silence", asset: videoOnly("a.mov", time.Second, 10, 10)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBackend{
				assets:      map[merge.SourceClip]*merge.MediaAsset{"a.mov": tc.asset},
				rejectAudio: true,
			}
			e := newTestEngine(t, b)

			res := waitResult(t, e.Start(context.Background(), []merge.SourceClip{"a.mov"}))
			var ai *merge.AudioInsertionError
			if !errors.As(res.Err, &ai) {
				t.Fatalf("err = %v, want AudioInsertionError", res.Err)
			}
			if b.sessionsCreated != 0 {
				t.Errorf("export attempted after audio insertion failure")
			}
		})
	}
}

func TestMerge_ExportSessionCreationFailure(t *testing.T) {
	b := &fakeBackend{
		assets:     map[merge.SourceClip]*merge.MediaAsset{"a.mov": videoAudio("a.mov", time.Second, 10, 10)},
		sessionErr: errors.New("encoder unavailable"),
	}
	e := newTestEngine(t, b)

	task := e.Start(context.Background(), []merge.SourceClip{"a.mov"})

	// Creation failures are reported before Start returns.
	res, ok := task.Result()
	if !ok {
		t.Fatal("result not available synchronously")
	}
	var ec *merge.ExportSessionCreationError
	if !errors.As(res.Err, &ec) {
		t.Fatalf("err = %v, want ExportSessionCreationError", res.Err)
	}
}

func TestMerge_TerminalStatuses(t *testing.T) {
	cause := errors.New("disk full")
	tests := []struct {
		name     string
		status   merge.ExportStatus
		err      error
		wantPath bool
		check    func(t *testing.T, err error)
	}{
		{name: "completed", status: merge.StatusCompleted, wantPath: true},
		{
			name: "failed", status: merge.StatusFailed, err: cause,
			check: func(t *testing.T, err error) {
				var ef *merge.ExportFailureError
				if !errors.As(err, &ef) || ef.Status != merge.StatusFailed {
					t.Fatalf("err = %v, want failed ExportFailureError", err)
				}
				if !errors.Is(err, cause) {
					t.Errorf("err does not wrap cause")
				}
			},
		},
		{
			name: "cancelled without cause", status: merge.StatusCancelled,
			check: func(t *testing.T, err error) {
				if !merge.IsCancelled(err) {
					t.Fatalf("err = %v, want cancelled ExportFailureError", err)
				}
			},
		},
		{
			name: "unrecognized", status: merge.StatusExporting,
			check: func(t *testing.T, err error) {
				var ue *merge.UnknownExportStatusError
				if !errors.As(err, &ue) {
					t.Fatalf("err = %v, want UnknownExportStatusError", err)
				}
				if ue.Status != merge.StatusExporting {
					t.Errorf("status = %s, want exporting", ue.Status)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBackend{
				assets:  map[merge.SourceClip]*merge.MediaAsset{"a.mov": videoAudio("a.mov", time.Second, 10, 10)},
				session: &fakeSession{status: tc.status, err: tc.err},
			}
			e := newTestEngine(t, b)

			calls := make(chan merge.Result, 4)
			e.Merge(context.Background(), []merge.SourceClip{"a.mov"}, func(r merge.Result) {
				calls <- r
			})

			var res merge.Result
			select {
			case res = <-calls:
			case <-time.After(5 * time.Second):
				t.Fatal("callback never fired")
			}
			select {
			case extra := <-calls:
				t.Fatalf("callback fired twice: %+v", extra)
			case <-time.After(50 * time.Millisecond):
			}

			if tc.wantPath {
				if res.Err != nil || res.OutputPath == "" {
					t.Fatalf("result = %+v, want output and no error", res)
				}
				return
			}
			if res.OutputPath != "" {
				t.Errorf("output path = %q on failure", res.OutputPath)
			}
			tc.check(t, res.Err)
		})
	}
}

func TestMerge_CallbackFiresOnSetupFailure(t *testing.T) {
	e := newTestEngine(t, &fakeBackend{})

	var calls atomic.Int32
	done := make(chan struct{})
	e.Merge(context.Background(), nil, func(r merge.Result) {
		if calls.Add(1) == 1 {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired")
	}
	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("callback fired %d times, want 1", n)
	}
}

func TestMerge_Cancel(t *testing.T) {
	session := &fakeSession{block: true}
	b := &fakeBackend{
		assets:  map[merge.SourceClip]*merge.MediaAsset{"a.mov": videoAudio("a.mov", time.Second, 10, 10)},
		session: session,
	}
	e := newTestEngine(t, b)

	task := e.Start(context.Background(), []merge.SourceClip{"a.mov"})
	if got := task.Status(); got != merge.StatusExporting {
		t.Fatalf("status = %s, want exporting", got)
	}
	task.Cancel()

	res := waitResult(t, task)
	if !merge.IsCancelled(res.Err) {
		t.Fatalf("err = %v, want cancelled", res.Err)
	}
	if got := task.Status(); got != merge.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}
}

func TestMerge_ParentContextCancels(t *testing.T) {
	b := &fakeBackend{
		assets:  map[merge.SourceClip]*merge.MediaAsset{"a.mov": videoAudio("a.mov", time.Second, 10, 10)},
		session: &fakeSession{block: true},
	}
	e := newTestEngine(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	task := e.Start(ctx, []merge.SourceClip{"a.mov"})
	cancel()

	res := waitResult(t, task)
	if !merge.IsCancelled(res.Err) {
		t.Fatalf("err = %v, want cancelled", res.Err)
	}
}

func TestMerge_SessionPanicStillCompletes(t *testing.T) {
	b := &fakeBackend{
		assets:  map[merge.SourceClip]*merge.MediaAsset{"a.mov": videoAudio("a.mov", time.Second, 10, 10)},
		session: &fakeSession{doPanic: true},
	}
	e := newTestEngine(t, b)

	res := waitResult(t, e.Start(context.Background(), []merge.SourceClip{"a.mov"}))
	var ef *merge.ExportFailureError
	if !errors.As(res.Err, &ef) {
		t.Fatalf("err = %v, want ExportFailureError", res.Err)
	}
}

func TestMerge_ProgressForwarded(t *testing.T) {
	b := &fakeBackend{
		assets:  map[merge.SourceClip]*merge.MediaAsset{"a.mov": videoAudio("a.mov", time.Second, 10, 10)},
		session: &fakeSession{status: merge.StatusCompleted, progress: []float64{0.25, 0.5, 1}},
	}
	e := newTestEngine(t, b)

	var mu sync.Mutex
	var got []float64
	_, err := e.Run(context.Background(), []merge.SourceClip{"a.mov"}, merge.WithProgress(func(f float64) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[2] != 1 {
		t.Errorf("progress = %v, want [0.25 0.5 1]", got)
	}
}

func TestMerge_ConcurrentMergesUseDistinctOutputs(t *testing.T) {
	assets := map[merge.SourceClip]*merge.MediaAsset{"a.mov": videoAudio("a.mov", time.Second, 10, 10)}
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	const n = 8
	paths := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := merge.NewEngine(&fakeBackend{assets: assets}, merge.Options{TempDir: dir, Logger: logger})
			p, err := e.Run(context.Background(), []merge.SourceClip{"a.mov"})
			if err != nil {
				t.Errorf("merge failed: %v", err)
				return
			}
			paths <- p
		}()
	}
	wg.Wait()
	close(paths)

	seen := make(map[string]bool)
	for p := range paths {
		if filepath.Dir(p) != dir {
			t.Errorf("output %q not in temp dir %q", p, dir)
		}
		if seen[p] {
			t.Errorf("duplicate output path %q", p)
		}
		seen[p] = true
	}
}

func TestMerge_CancelledBeforeExport(t *testing.T) {
	b := &fakeBackend{
		assets:  map[merge.SourceClip]*merge.MediaAsset{"a.mov": videoAudio("a.mov", time.Second, 10, 10)},
		session: &fakeSession{status: merge.StatusCompleted},
	}
	e := newTestEngine(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := waitResult(t, e.Start(ctx, []merge.SourceClip{"a.mov"}))
	if !merge.IsCancelled(res.Err) {
		t.Fatalf("err = %v, want cancelled", res.Err)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("err = %v, want it to wrap context.Canceled", res.Err)
	}
	if code := merge.ErrorCode(res.Err); code != merge.CodeExportFailure {
		t.Errorf("code = %s, want %s", code, merge.CodeExportFailure)
	}
	if b.sessionsCreated != 0 {
		t.Errorf("sessions created = %d, want 0", b.sessionsCreated)
	}
}

// cancellingBackend cancels the merge while the first clip is resolving.
type cancellingBackend struct {
	*fakeBackend
	cancel context.CancelFunc
}

func (b *cancellingBackend) ResolveAsset(ctx context.Context, clip merge.SourceClip) (*merge.MediaAsset, error) {
	b.cancel()
	return nil, ctx.Err()
}

func TestMerge_CancelledWhileResolving(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := &cancellingBackend{
		fakeBackend: &fakeBackend{session: &fakeSession{status: merge.StatusCompleted}},
		cancel:      cancel,
	}
	e := newTestEngine(t, b)

	res := waitResult(t, e.Start(ctx, []merge.SourceClip{"a.mov", "b.mov"}))
	var missing *merge.MissingVideoStreamError
	if errors.As(res.Err, &missing) {
		t.Fatalf("err = %v, cancellation reported as missing video", res.Err)
	}
	if !merge.IsCancelled(res.Err) {
		t.Errorf("err = %v, want cancelled", res.Err)
	}
}
