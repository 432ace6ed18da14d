// Package playback streams finished merge artifacts over HTTP with byte-range
// support so previews can seek.
package playback

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var artifactTypes = map[string]string{
	".mov": "video/quicktime",
	".mp4": "video/mp4",
	".m4v": "video/x-m4v",
	".edl": "text/plain; charset=utf-8",
}

// ArtifactServer is what the API needs to hand a file to a client.
type ArtifactServer interface {
	ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{logger: logger}
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := artifactTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// ServeFile writes filePath to w, honouring Range. A missing file answers 404
// and is not reported as an error.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	f, err := os.Open(filePath)
	if os.IsNotExist(err) {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	if info.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	size := info.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType(filePath))
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	h.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": filepath.Base(filePath)}))

	span, partial, err := ParseRange(r.Header.Get("Range"), size)
	switch err {
	case nil:
	case ErrInvalidRange:
		// Malformed ranges are ignored and the whole file is sent.
		partial = false
	case ErrUnsatisfiable:
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	default:
		return err
	}

	status, length := http.StatusOK, size
	if partial {
		if _, err := f.Seek(span.Start, io.SeekStart); err != nil {
			return fmt.Errorf("seek artifact: %w", err)
		}
		status, length = http.StatusPartialContent, span.Length()
		h.Set("Content-Range", span.Header(size))
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.CopyN(w, f, length); err != nil {
		s.logger.Debug("artifact stream ended early", "path", filepath.Base(filePath), "error", err)
	}
	return nil
}
