package ffmpeg

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/heimdex/heimdex-merger/internal/merge"
)

var ErrEmptyLocator = errors.New("empty clip locator")

// InputPath turns a clip locator into the path handed to ffprobe and ffmpeg.
// file URLs are percent-decoded to a local path; anything else is passed
// through unchanged.
func InputPath(clip merge.SourceClip) (string, error) {
	s := string(clip)
	if s == "" {
		return "", ErrEmptyLocator
	}
	if !strings.HasPrefix(strings.ToLower(s), "file:") {
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid clip locator %q: %w", s, err)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("clip locator %q points to remote host %s", s, u.Host)
	}
	if u.Path == "" {
		return "", fmt.Errorf("clip locator %q has no path", s)
	}
	return u.Path, nil
}
