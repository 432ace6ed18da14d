package merge

import (
	"context"
	"time"
)

// Build is the immutable result of folding the clip list into a composition.
type Build struct {
	Composition  Composition
	VideoTrack   Track
	AudioTrack   Track
	Instructions []RenderInstruction
	RenderSize   Size
	Duration     time.Duration
}

// appendState is the accumulator threaded through the clip fold. Each step
// returns a fresh value; instructions are copied, never shared.
type appendState struct {
	cursor       time.Duration
	size         Size
	instructions []RenderInstruction
}

// newComposition allocates an empty composition with one video and one audio
// track.
func newComposition(backend Backend) (Composition, Track, Track, error) {
	comp, err := backend.NewComposition()
	if err != nil {
		return nil, nil, nil, &TrackAllocationError{Kind: TrackVideo, Err: err}
	}

	video, err := comp.AddTrack(TrackVideo)
	if err != nil || video == nil {
		return nil, nil, nil, &TrackAllocationError{Kind: TrackVideo, Err: err}
	}

	audio, err := comp.AddTrack(TrackAudio)
	if err != nil || audio == nil {
		return nil, nil, nil, &TrackAllocationError{Kind: TrackAudio, Err: err}
	}

	return comp, video, audio, nil
}

// BuildComposition resolves every clip in order and appends it to a fresh
// composition. Any failure aborts the whole build and no partial result is
// returned.
func BuildComposition(ctx context.Context, backend Backend, clips []SourceClip) (*Build, error) {
	if len(clips) == 0 {
		return nil, ErrNoClips
	}

	comp, video, audio, err := newComposition(backend)
	if err != nil {
		return nil, err
	}

	var st appendState
	for _, clip := range clips {
		if err := ctx.Err(); err != nil {
			return nil, cancelledError(err)
		}
		st, err = appendClip(ctx, backend, video, audio, st, clip)
		if err != nil {
			return nil, err
		}
	}

	return &Build{
		Composition:  comp,
		VideoTrack:   video,
		AudioTrack:   audio,
		Instructions: st.instructions,
		RenderSize:   st.size,
		Duration:     st.cursor,
	}, nil
}

func appendClip(ctx context.Context, backend Backend, video, audio Track, st appendState, clip SourceClip) (appendState, error) {
	asset, err := backend.ResolveAsset(ctx, clip)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return st, cancelledError(cerr)
		}
		return st, &MissingVideoStreamError{Clip: clip, Err: err}
	}
	if asset == nil || asset.Video == nil {
		return st, &MissingVideoStreamError{Clip: clip}
	}

	d := asset.Duration
	full := TimeRange{Start: 0, Duration: d}

	if err := video.InsertTimeRange(full, asset.Video, clip, st.cursor); err != nil {
		return st, &VideoInsertionError{Clip: clip, Err: err}
	}

	if asset.Audio != nil {
		err = audio.InsertTimeRange(full, asset.Audio, clip, st.cursor)
	} else {
		err = audio.InsertEmptyTimeRange(TimeRange{Start: st.cursor, Duration: d})
	}
	if err != nil {
		return st, &AudioInsertionError{Clip: clip, Err: err}
	}

	next := appendState{
		cursor: st.cursor + d,
		instructions: append(st.instructions[:len(st.instructions):len(st.instructions)], RenderInstruction{
			TimeRange: TimeRange{Start: st.cursor, Duration: d},
			Layer:     video.ID(),
		}),
	}

	natural := asset.Video.NaturalSize()
	if len(st.instructions) == 0 {
		next.size = natural
	} else {
		next.size = st.size.Max(natural)
	}

	return next, nil
}

// cancelledError reports a merge whose context ended before the export began.
func cancelledError(cause error) error {
	return &ExportFailureError{Status: StatusCancelled, Cause: cause}
}

// PlanLayout assembles the render plan for a finished build.
func PlanLayout(instructions []RenderInstruction, size Size) RenderPlan {
	out := make([]RenderInstruction, len(instructions))
	copy(out, instructions)
	return RenderPlan{
		FrameRate:    DefaultFrameRate,
		RenderSize:   size,
		Instructions: out,
	}
}
