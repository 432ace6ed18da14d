package library

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UploadError is a non-2xx response from the library endpoint.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("library upload failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports server errors (5xx). Client errors are permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

type uploadResponse struct {
	ID string `json:"id"`
}

// HTTPLibrary uploads outputs to a remote library with bearer auth. The local
// file is left in place.
type HTTPLibrary struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPLibrary(baseURL, token string, logger *slog.Logger) *HTTPLibrary {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPLibrary{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
		logger: logger.With("component", "library"),
	}
}

func (l *HTTPLibrary) SetDeviceID(id string) {
	l.deviceID = id
}

func (l *HTTPLibrary) Save(ctx context.Context, path, name string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open output: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat output: %w", err)
	}

	ext := filepath.Ext(path)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ext)
	}

	endpoint := l.baseURL + "/api/library/videos?name=" + url.QueryEscape(name+ext)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, f)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	contentType := contentTypeFor(ext)
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+l.token)
	req.Header.Set("X-Heimdex-Request-Id", uuid.NewString())
	if l.deviceID != "" {
		req.Header.Set("X-Heimdex-Device-Id", l.deviceID)
	}

	l.logger.Info("uploading merge to library", "url", endpoint, "bytes", info.Size())

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UploadError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result uploadResponse
	if err := json.Unmarshal(respBody, &result); err != nil || result.ID == "" {
		return "", fmt.Errorf("library upload: malformed response %q", truncate(string(respBody), 200))
	}

	l.logger.Info("library upload succeeded", "library_id", result.ID)
	return result.ID, nil
}

// Go's builtin table has no video types; the system one may be missing.
var videoTypes = map[string]string{
	".mov": "video/quicktime",
	".mp4": "video/mp4",
	".m4v": "video/x-m4v",
}

func contentTypeFor(ext string) string {
	if ct, ok := videoTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
