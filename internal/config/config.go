// Package config loads heimdex-merger settings. Values come from defaults,
// then an optional TOML file, then HEIMDEX_MERGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultPort          = 8788
	DefaultLogLevel      = "info"
	DefaultDataDir       = ".heimdex-merger"
	DefaultPollInterval  = 2 * time.Second
	DefaultFFmpegPath    = "ffmpeg"
	DefaultFFprobePath   = "ffprobe"
	DefaultConfigFile    = "config.toml"
	DBFilename           = "merger.db"
	LockFilename         = "merger.lock"
	defaultTempDirSuffix = "heimdex-merger"
)

const (
	EnvConfig        = "HEIMDEX_MERGER_CONFIG"
	EnvPort          = "HEIMDEX_MERGER_PORT"
	EnvLogLevel      = "HEIMDEX_MERGER_LOG_LEVEL"
	EnvDataDir       = "HEIMDEX_MERGER_DATA_DIR"
	EnvTempDir       = "HEIMDEX_MERGER_TEMP_DIR"
	EnvFFmpegPath    = "HEIMDEX_MERGER_FFMPEG"
	EnvFFprobePath   = "HEIMDEX_MERGER_FFPROBE"
	EnvLibraryDir    = "HEIMDEX_MERGER_LIBRARY_DIR"
	EnvLibraryURL    = "HEIMDEX_MERGER_LIBRARY_URL"
	EnvLibraryToken  = "HEIMDEX_MERGER_LIBRARY_TOKEN"
	EnvPollInterval  = "HEIMDEX_MERGER_POLL_INTERVAL"
	EnvExportTimeout = "HEIMDEX_MERGER_EXPORT_TIMEOUT"
	EnvWriteEDL      = "HEIMDEX_MERGER_WRITE_EDL"
)

// Config is what the binary reads at startup.
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	LockPath() string
	TempDir() string
	FFmpegPath() string
	FFprobePath() string
	LibraryDir() string
	LibraryURL() string
	LibraryToken() string
	PollInterval() time.Duration
	ExportTimeout() time.Duration
	WriteEDL() bool
	// Source is the config file that was read, or "" when none existed.
	Source() string
}

// file mirrors the TOML layout. Durations are strings like "2s" or "30m".
type file struct {
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`
	DataDir  string `toml:"data_dir"`
	TempDir  string `toml:"temp_dir"`

	FFmpeg struct {
		FFmpegPath    string `toml:"ffmpeg_path"`
		FFprobePath   string `toml:"ffprobe_path"`
		ExportTimeout string `toml:"export_timeout"`
	} `toml:"ffmpeg"`

	Library struct {
		Dir   string `toml:"dir"`
		URL   string `toml:"url"`
		Token string `toml:"token"`
	} `toml:"library"`

	Jobs struct {
		PollInterval string `toml:"poll_interval"`
		WriteEDL     *bool  `toml:"write_edl"`
	} `toml:"jobs"`
}

// Settings is the resolved configuration.
type Settings struct {
	port          int
	logLevel      string
	dataDir       string
	tempDir       string
	ffmpegPath    string
	ffprobePath   string
	libraryDir    string
	libraryURL    string
	libraryToken  string
	pollInterval  time.Duration
	exportTimeout time.Duration
	writeEDL      bool
	source        string
}

func defaults() *Settings {
	return &Settings{
		port:         DefaultPort,
		logLevel:     DefaultLogLevel,
		dataDir:      defaultDataDir(),
		tempDir:      filepath.Join(os.TempDir(), defaultTempDirSuffix),
		ffmpegPath:   DefaultFFmpegPath,
		ffprobePath:  DefaultFFprobePath,
		pollInterval: DefaultPollInterval,
		writeEDL:     true,
	}
}

// Load resolves settings. path may be empty, in which case
// HEIMDEX_MERGER_CONFIG and then <data dir>/config.toml are tried. An
// explicitly named file that does not exist is an error.
func Load(path string) (*Settings, error) {
	s := defaults()
	if dd := os.Getenv(EnvDataDir); dd != "" {
		s.dataDir = dd
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfig)
		explicit = path != ""
	}
	if !explicit {
		path = filepath.Join(s.dataDir, DefaultConfigFile)
	}

	if err := s.applyFile(path, explicit); err != nil {
		return nil, err
	}
	if err := s.applyEnv(); err != nil {
		return nil, err
	}
	if err := s.normalize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyFile(path string, required bool) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", expanded, err)
	}
	s.source = expanded

	if f.Port != 0 {
		s.port = f.Port
	}
	setString(&s.logLevel, f.LogLevel)
	setString(&s.dataDir, f.DataDir)
	setString(&s.tempDir, f.TempDir)
	setString(&s.ffmpegPath, f.FFmpeg.FFmpegPath)
	setString(&s.ffprobePath, f.FFmpeg.FFprobePath)
	setString(&s.libraryDir, f.Library.Dir)
	setString(&s.libraryURL, f.Library.URL)
	setString(&s.libraryToken, f.Library.Token)
	if f.Jobs.WriteEDL != nil {
		s.writeEDL = *f.Jobs.WriteEDL
	}
	if err := setDuration(&s.pollInterval, f.Jobs.PollInterval, "jobs.poll_interval"); err != nil {
		return err
	}
	return setDuration(&s.exportTimeout, f.FFmpeg.ExportTimeout, "ffmpeg.export_timeout")
}

func (s *Settings) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		s.port = port
	}
	setString(&s.logLevel, os.Getenv(EnvLogLevel))
	setString(&s.dataDir, os.Getenv(EnvDataDir))
	setString(&s.tempDir, os.Getenv(EnvTempDir))
	setString(&s.ffmpegPath, os.Getenv(EnvFFmpegPath))
	setString(&s.ffprobePath, os.Getenv(EnvFFprobePath))
	setString(&s.libraryDir, os.Getenv(EnvLibraryDir))
	setString(&s.libraryURL, os.Getenv(EnvLibraryURL))
	setString(&s.libraryToken, os.Getenv(EnvLibraryToken))
	if v := os.Getenv(EnvWriteEDL); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWriteEDL, err)
		}
		s.writeEDL = b
	}
	if err := setDuration(&s.pollInterval, os.Getenv(EnvPollInterval), EnvPollInterval); err != nil {
		return err
	}
	return setDuration(&s.exportTimeout, os.Getenv(EnvExportTimeout), EnvExportTimeout)
}

func (s *Settings) normalize() error {
	if s.port < 1 || s.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", s.port)
	}
	if s.pollInterval <= 0 {
		return fmt.Errorf("invalid poll interval %s: must be positive", s.pollInterval)
	}
	if s.exportTimeout < 0 {
		return fmt.Errorf("invalid export timeout %s: must not be negative", s.exportTimeout)
	}
	if s.libraryDir != "" && s.libraryURL != "" {
		return errors.New("library dir and library url are mutually exclusive")
	}

	for _, p := range []*string{&s.dataDir, &s.tempDir, &s.libraryDir} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	s.libraryURL = strings.TrimRight(s.libraryURL, "/")
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, name string) error {
	if v = strings.TrimSpace(v); v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

// ExpandPath resolves a leading ~ and makes the path absolute. Empty stays
// empty.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, p[1:])
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", p, err)
	}
	return abs, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func (s *Settings) Port() int                    { return s.port }
func (s *Settings) LogLevel() string             { return s.logLevel }
func (s *Settings) DataDir() string              { return s.dataDir }
func (s *Settings) DBPath() string               { return filepath.Join(s.dataDir, DBFilename) }
func (s *Settings) LockPath() string             { return filepath.Join(s.dataDir, LockFilename) }
func (s *Settings) TempDir() string              { return s.tempDir }
func (s *Settings) FFmpegPath() string           { return s.ffmpegPath }
func (s *Settings) FFprobePath() string          { return s.ffprobePath }
func (s *Settings) LibraryDir() string           { return s.libraryDir }
func (s *Settings) LibraryURL() string           { return s.libraryURL }
func (s *Settings) LibraryToken() string         { return s.libraryToken }
func (s *Settings) PollInterval() time.Duration  { return s.pollInterval }
func (s *Settings) ExportTimeout() time.Duration { return s.exportTimeout }
func (s *Settings) WriteEDL() bool               { return s.writeEDL }
func (s *Settings) Source() string               { return s.source }

// Version information, set at build time via ldflags.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
