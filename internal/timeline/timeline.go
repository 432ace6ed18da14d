// Package timeline is an in-memory multi-track composition. Tracks are
// append-only sequences of segments, so a track never has gaps or overlaps.
package timeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/heimdex/heimdex-merger/internal/merge"
)

var (
	ErrNonPositiveDuration = errors.New("segment duration must be positive")
	ErrNotContiguous       = errors.New("insertion point is not the end of the track")
	ErrKindMismatch        = errors.New("stream kind does not match track kind")
	ErrOutOfRange          = errors.New("source range starts outside the stream")
	ErrNoStream            = errors.New("no source stream")
)

// Segment is one span of a track. An empty segment (Empty == true) carries no
// source and renders as black on video tracks and silence on audio tracks.
type Segment struct {
	Target      merge.TimeRange
	Source      merge.SourceClip
	SourceRange merge.TimeRange
	StreamIndex int
	Empty       bool
}

type Composition struct {
	mu     sync.Mutex
	tracks []*Track
	nextID int
}

func New() *Composition {
	return &Composition{nextID: 1}
}

func (c *Composition) AddTrack(kind merge.TrackKind) (merge.Track, error) {
	if kind != merge.TrackVideo && kind != merge.TrackAudio {
		return nil, fmt.Errorf("unsupported track kind %s", kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t := &Track{id: c.nextID, kind: kind}
	c.nextID++
	c.tracks = append(c.tracks, t)
	return t, nil
}

// Tracks returns the tracks in creation order.
func (c *Composition) Tracks() []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Track, len(c.tracks))
	copy(out, c.tracks)
	return out
}

// TracksOf returns the tracks of the given kind in creation order.
func (c *Composition) TracksOf(kind merge.TrackKind) []*Track {
	var out []*Track
	for _, t := range c.Tracks() {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Duration is the length of the longest track.
func (c *Composition) Duration() time.Duration {
	var d time.Duration
	for _, t := range c.Tracks() {
		if td := t.Duration(); td > d {
			d = td
		}
	}
	return d
}

// Sources returns the distinct source locators referenced by the composition,
// in order of first use.
func (c *Composition) Sources() []merge.SourceClip {
	seen := make(map[merge.SourceClip]bool)
	var out []merge.SourceClip
	for _, t := range c.Tracks() {
		for _, s := range t.Segments() {
			if s.Empty || seen[s.Source] {
				continue
			}
			seen[s.Source] = true
			out = append(out, s.Source)
		}
	}
	return out
}

type Track struct {
	id   int
	kind merge.TrackKind

	mu       sync.Mutex
	segments []Segment
}

func (t *Track) ID() int { return t.id }
func (t *Track) Kind() merge.TrackKind { return t.kind }

func (t *Track) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.end()
}

func (t *Track) end() time.Duration {
	if len(t.segments) == 0 {
		return 0
	}
	return t.segments[len(t.segments)-1].Target.End()
}

// Segments returns a copy of the track's segments.
func (t *Track) Segments() []Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

func (t *Track) InsertTimeRange(src merge.TimeRange, stream merge.Stream, locator merge.SourceClip, at time.Duration) error {
	if stream == nil {
		return ErrNoStream
	}
	if stream.Kind() != t.kind {
		return fmt.Errorf("%w: %s stream into %s track", ErrKindMismatch, stream.Kind(), t.kind)
	}
	if src.Duration <= 0 {
		return ErrNonPositiveDuration
	}
	if src.Start < 0 {
		return ErrOutOfRange
	}
	if sd := stream.StreamDuration(); sd > 0 && src.Start >= sd {
		return fmt.Errorf("%w: start %s, stream length %s", ErrOutOfRange, src.Start, sd)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if at != t.end() {
		return fmt.Errorf("%w: at %s, track ends at %s", ErrNotContiguous, at, t.end())
	}

	t.segments = append(t.segments, Segment{
		Target:      merge.TimeRange{Start: at, Duration: src.Duration},
		Source:      locator,
		SourceRange: src,
		StreamIndex: stream.StreamIndex(),
	})
	return nil
}

func (t *Track) InsertEmptyTimeRange(r merge.TimeRange) error {
	if r.Duration <= 0 {
		return ErrNonPositiveDuration
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Start != t.end() {
		return fmt.Errorf("%w: at %s, track ends at %s", ErrNotContiguous, r.Start, t.end())
	}

	t.segments = append(t.segments, Segment{Target: r, Empty: true})
	return nil
}
