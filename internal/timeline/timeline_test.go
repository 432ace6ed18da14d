package timeline

import (
	"errors"
	"testing"
	"time"

	"github.com/heimdex/heimdex-merger/internal/merge"
)

func TestAddTrack_SequentialIDs(t *testing.T) {
	c := New()
	v, err := c.AddTrack(merge.TrackVideo)
	if err != nil {
		t.Fatalf("AddTrack(video) error = %v", err)
	}
	a, err := c.AddTrack(merge.TrackAudio)
	if err != nil {
		t.Fatalf("AddTrack(audio) error = %v", err)
	}
	if v.ID() != 1 || a.ID() != 2 {
		t.Errorf("ids = %d,%d, want 1,2", v.ID(), a.ID())
	}
	if _, err := c.AddTrack(merge.TrackKind(9)); err == nil {
		t.Error("AddTrack(unknown) expected error")
	}
}

func TestInsertTimeRange(t *testing.T) {
	video := &merge.VideoStream{Index: 0, Duration: 5 * time.Second}
	audio := &merge.AudioStream{Index: 1, Duration: 5 * time.Second}

	tests := []struct {
		name    string
		stream  merge.Stream
		src     merge.TimeRange
		at      time.Duration
		wantErr error
	}{
		{"ok", video, merge.TimeRange{Duration: 5 * time.Second}, 0, nil},
		{"nil stream", nil, merge.TimeRange{Duration: time.Second}, 0, ErrNoStream},
		{"kind mismatch", audio, merge.TimeRange{Duration: time.Second}, 0, ErrKindMismatch},
		{"zero duration", video, merge.TimeRange{}, 0, ErrNonPositiveDuration},
		{"negative start", video, merge.TimeRange{Start: -time.Second, Duration: time.Second}, 0, ErrOutOfRange},
		{"start past stream", video, merge.TimeRange{Start: 5 * time.Second, Duration: time.Second}, 0, ErrOutOfRange},
		{"gap", video, merge.TimeRange{Duration: time.Second}, time.Second, ErrNotContiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			tr, _ := c.AddTrack(merge.TrackVideo)
			err := tr.InsertTimeRange(tt.src, tt.stream, "clip.mov", tt.at)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("InsertTimeRange() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("InsertTimeRange() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTrack_AppendAndSilence(t *testing.T) {
	c := New()
	tr, _ := c.AddTrack(merge.TrackAudio)
	track := tr.(*Track)

	a := &merge.AudioStream{Index: 1, Duration: 2 * time.Second}
	if err := track.InsertTimeRange(merge.TimeRange{Duration: 2 * time.Second}, a, "a.mov", 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := track.InsertEmptyTimeRange(merge.TimeRange{Start: 2 * time.Second, Duration: 3 * time.Second}); err != nil {
		t.Fatalf("insert empty: %v", err)
	}
	if err := track.InsertEmptyTimeRange(merge.TimeRange{Start: time.Second, Duration: time.Second}); !errors.Is(err, ErrNotContiguous) {
		t.Errorf("overlapping empty range error = %v, want ErrNotContiguous", err)
	}
	if err := track.InsertEmptyTimeRange(merge.TimeRange{Start: 5 * time.Second}); !errors.Is(err, ErrNonPositiveDuration) {
		t.Errorf("zero empty range error = %v, want ErrNonPositiveDuration", err)
	}

	if got := track.Duration(); got != 5*time.Second {
		t.Errorf("Duration() = %s, want 5s", got)
	}
	segs := track.Segments()
	if len(segs) != 2 || segs[0].Empty || !segs[1].Empty {
		t.Fatalf("segments = %+v", segs)
	}
	if segs[0].StreamIndex != 1 {
		t.Errorf("stream index = %d, want 1", segs[0].StreamIndex)
	}
	if c.Duration() != 5*time.Second {
		t.Errorf("composition Duration() = %s, want 5s", c.Duration())
	}
}

func TestComposition_Sources(t *testing.T) {
	c := New()
	v, _ := c.AddTrack(merge.TrackVideo)
	a, _ := c.AddTrack(merge.TrackAudio)
	vs := &merge.VideoStream{Duration: time.Second}
	as := &merge.AudioStream{Duration: time.Second}

	v.InsertTimeRange(merge.TimeRange{Duration: time.Second}, vs, "b.mov", 0)
	a.InsertTimeRange(merge.TimeRange{Duration: time.Second}, as, "b.mov", 0)
	v.InsertTimeRange(merge.TimeRange{Duration: time.Second}, vs, "a.mov", time.Second)
	a.InsertEmptyTimeRange(merge.TimeRange{Start: time.Second, Duration: time.Second})
	v.InsertTimeRange(merge.TimeRange{Duration: time.Second}, vs, "b.mov", 2*time.Second)

	got := c.Sources()
	if len(got) != 2 || got[0] != "b.mov" || got[1] != "a.mov" {
		t.Errorf("Sources() = %v, want [b.mov a.mov]", got)
	}
	if len(c.TracksOf(merge.TrackVideo)) != 1 || len(c.TracksOf(merge.TrackAudio)) != 1 {
		t.Errorf("TracksOf() counts wrong")
	}
}
