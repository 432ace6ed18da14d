package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte span of a merge output.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

func (r Range) Header(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange reads a single-span Range header against a file of the given
// size. A missing header yields ok == false and no error. Only the first span
// of a multi-range request is honoured.
func ParseRange(header string, size int64) (r Range, ok bool, err error) {
	if header == "" {
		return Range{}, false, nil
	}
	ranges, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return Range{}, false, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(ranges, ","); multi {
		ranges = first
	}
	from, to, found := strings.Cut(strings.TrimSpace(ranges), "-")
	if !found {
		return Range{}, false, ErrInvalidRange
	}

	if from == "" {
		n, perr := strconv.ParseInt(to, 10, 64)
		if perr != nil || n <= 0 {
			return Range{}, false, ErrInvalidRange
		}
		if size == 0 {
			return Range{}, false, ErrUnsatisfiable
		}
		return Range{Start: max(size-n, 0), End: size - 1}, true, nil
	}

	start, perr := strconv.ParseInt(from, 10, 64)
	if perr != nil || start < 0 {
		return Range{}, false, ErrInvalidRange
	}
	end := size - 1
	if to != "" {
		if end, perr = strconv.ParseInt(to, 10, 64); perr != nil {
			return Range{}, false, ErrInvalidRange
		}
	}
	if start >= size || start > end {
		return Range{}, false, ErrUnsatisfiable
	}
	return Range{Start: start, End: min(end, size-1)}, true, nil
}
