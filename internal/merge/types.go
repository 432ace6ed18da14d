// Package merge concatenates an ordered list of clips into a single movie.
// It builds a two-track composition (video + audio) through a Backend, plans
// one render instruction per clip and hands the result to an asynchronous
// export session whose outcome is delivered exactly once.
package merge

import (
	"context"
	"fmt"
	"time"
)

// DefaultFrameRate is the output frame rate of every render plan.
const DefaultFrameRate = 30

// SourceClip is an opaque locator (path or URI) for one input clip.
type SourceClip string

// TrackKind identifies the media type carried by a composition track.
type TrackKind int

const (
	TrackVideo TrackKind = iota
	TrackAudio
)

func (k TrackKind) String() string {
	switch k {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	default:
		return fmt.Sprintf("track(%d)", int(k))
	}
}

// Stream is implemented by VideoStream and AudioStream.
type Stream interface {
	Kind() TrackKind
	StreamIndex() int
	StreamDuration() time.Duration
}

type VideoStream struct {
	Index     int
	Duration  time.Duration
	Width     int
	Height    int
	Codec     string
	FrameRate float64
}

func (v *VideoStream) Kind() TrackKind { return TrackVideo }
func (v *VideoStream) StreamIndex() int { return v.Index }
func (v *VideoStream) StreamDuration() time.Duration { return v.Duration }
func (v *VideoStream) NaturalSize() Size { return Size{Width: v.Width, Height: v.Height} }

type AudioStream struct {
	Index      int
	Duration   time.Duration
	Codec      string
	SampleRate int
	Channels   int
}

func (a *AudioStream) Kind() TrackKind { return TrackAudio }
func (a *AudioStream) StreamIndex() int { return a.Index }
func (a *AudioStream) StreamDuration() time.Duration { return a.Duration }

// MediaAsset is a resolved SourceClip. Video is nil when the asset has no
// usable video stream; Audio is nil for video-only clips.
type MediaAsset struct {
	Locator  SourceClip
	Duration time.Duration
	Video    *VideoStream
	Audio    *AudioStream
}

// TimeRange is a half-open span [Start, Start+Duration).
type TimeRange struct {
	Start    time.Duration
	Duration time.Duration
}

func (r TimeRange) End() time.Duration {
	return r.Start + r.Duration
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start, r.End())
}

// Size is a frame size in pixels.
type Size struct {
	Width  int
	Height int
}

func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// Max returns the per-dimension maximum of s and o. Width and height are
// taken independently, so mixed aspect ratios can produce a size neither
// clip has.
func (s Size) Max(o Size) Size {
	out := s
	if o.Width > out.Width {
		out.Width = o.Width
	}
	if o.Height > out.Height {
		out.Height = o.Height
	}
	return out
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// RenderInstruction declares which composition layer is rendered during a
// time range of the output.
type RenderInstruction struct {
	TimeRange TimeRange
	Layer     int
}

// RenderPlan is the full layout handed to the exporter.
type RenderPlan struct {
	FrameRate    int
	RenderSize   Size
	Instructions []RenderInstruction
}

// FrameDuration returns the duration of one output frame.
func (p RenderPlan) FrameDuration() time.Duration {
	if p.FrameRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(p.FrameRate)
}

// Composition is a mutable multi-track timeline owned by a single merge.
type Composition interface {
	AddTrack(kind TrackKind) (Track, error)
	Duration() time.Duration
}

// Track is one track of a Composition.
type Track interface {
	ID() int
	Kind() TrackKind
	// InsertTimeRange inserts src (a range of stream) at position at.
	InsertTimeRange(src TimeRange, stream Stream, locator SourceClip, at time.Duration) error
	// InsertEmptyTimeRange inserts an empty span; on audio tracks this is silence.
	InsertEmptyTimeRange(r TimeRange) error
	Duration() time.Duration
}

// ExportTarget describes where and how the export writes its output.
type ExportTarget struct {
	Path      string
	Container string
	Preset    string
	// Progress, when set, receives values in [0, 1] while exporting.
	Progress ProgressFunc
}

type ProgressFunc func(fraction float64)

// ExportSession is a single-use export of a composition. Run blocks until the
// export reaches a terminal status; cancelling ctx asks it to stop and should
// surface as StatusCancelled.
type ExportSession interface {
	Run(ctx context.Context) (ExportStatus, error)
}

// Backend is the media capability the engine drives. Implementations bind to
// a concrete multimedia toolchain.
type Backend interface {
	ResolveAsset(ctx context.Context, clip SourceClip) (*MediaAsset, error)
	NewComposition() (Composition, error)
	NewExportSession(comp Composition, plan RenderPlan, target ExportTarget) (ExportSession, error)
}
