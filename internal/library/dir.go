package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/heimdex/heimdex-merger/internal/export"
)

// DirLibrary moves outputs into a folder, never overwriting existing files.
type DirLibrary struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex
}

func NewDirLibrary(dir string, logger *slog.Logger) (*DirLibrary, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("library dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	if err := export.ValidateDir(abs); err != nil {
		return nil, fmt.Errorf("library dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirLibrary{dir: abs, logger: logger.With("component", "library")}, nil
}

func (l *DirLibrary) Dir() string {
	return l.dir
}

func (l *DirLibrary) Save(ctx context.Context, path, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := filepath.Ext(path)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ext)
	}

	// Serialise name selection and the move so two saves cannot pick the
	// same free name.
	l.mu.Lock()
	defer l.mu.Unlock()

	dest, err := export.UniqueFileName(l.dir, name, ext)
	if err != nil {
		return "", err
	}

	if err := moveFile(path, dest); err != nil {
		return "", fmt.Errorf("save to library: %w", err)
	}

	l.logger.Info("saved merge to library", "path", dest)
	return dest, nil
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
