package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds the settings hackops reads from its TOML file.
type Config struct {
	APIURL             string
	DataDir            string
	PollInterval       time.Duration
	ProbeInterval      time.Duration
	ProbePath          string
	OutboxMaxAttempts  int
	QueueOfflineWrites bool
	LogLevel           string
	Theme              string
	MetricsAddr        string
}

const (
	defaultConfigPath        = "~/.config/hackops/config.toml"
	defaultDataDir           = "~/.local/share/hackops"
	defaultAPIURL            = "http://127.0.0.1:3000"
	defaultPollSeconds       = 15
	defaultProbeSeconds      = 5
	defaultProbePath         = "/api/health"
	defaultOutboxMaxAttempts = 5
	defaultLogLevel          = "info"
)

// Defaults returns the configuration used when no file exists.
func Defaults() Config {
	return Config{
		APIURL:             defaultAPIURL,
		DataDir:            mustExpand(defaultDataDir),
		PollInterval:       defaultPollSeconds * time.Second,
		ProbeInterval:      defaultProbeSeconds * time.Second,
		ProbePath:          defaultProbePath,
		OutboxMaxAttempts:  defaultOutboxMaxAttempts,
		QueueOfflineWrites: true,
		LogLevel:           defaultLogLevel,
	}
}

// Load locates and parses the hackops config, falling back to defaults when missing.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Defaults()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		APIURL             string `toml:"api_url"`
		DataDir            string `toml:"data_dir"`
		PollSeconds        int    `toml:"poll_seconds"`
		ProbeSeconds       int    `toml:"probe_seconds"`
		ProbePath          string `toml:"probe_path"`
		OutboxMaxAttempts  int    `toml:"outbox_max_attempts"`
		QueueOfflineWrites *bool  `toml:"queue_offline_writes"`
		LogLevel           string `toml:"log_level"`
		Theme              string `toml:"theme"`
		MetricsAddr        string `toml:"metrics_addr"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.APIURL); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(raw.DataDir); v != "" {
		cfg.DataDir = mustExpand(v)
	}
	if raw.PollSeconds > 0 {
		cfg.PollInterval = time.Duration(raw.PollSeconds) * time.Second
	}
	if raw.ProbeSeconds > 0 {
		cfg.ProbeInterval = time.Duration(raw.ProbeSeconds) * time.Second
	}
	if v := strings.TrimSpace(raw.ProbePath); v != "" {
		if !strings.HasPrefix(v, "/") {
			v = "/" + v
		}
		cfg.ProbePath = v
	}
	if raw.OutboxMaxAttempts > 0 {
		cfg.OutboxMaxAttempts = raw.OutboxMaxAttempts
	}
	if raw.QueueOfflineWrites != nil {
		cfg.QueueOfflineWrites = *raw.QueueOfflineWrites
	}
	if v := strings.ToLower(strings.TrimSpace(raw.LogLevel)); v != "" {
		cfg.LogLevel = v
	}
	cfg.Theme = strings.TrimSpace(raw.Theme)
	cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)

	return cfg, nil
}

// DatabasePath returns the client-local SQLite file.
func (c Config) DatabasePath() string {
	return filepath.Join(c.dataDir(), "hackops.db")
}

// LogPath returns the file logs are written to while the dashboard runs.
func (c Config) LogPath() string {
	return filepath.Join(c.dataDir(), "hackops.log")
}

// PrefsPath returns the dashboard preferences file.
func (c Config) PrefsPath() string {
	return filepath.Join(c.dataDir(), "prefs.toml")
}

func (c Config) dataDir() string {
	if strings.TrimSpace(c.DataDir) == "" {
		return mustExpand(defaultDataDir)
	}
	return c.DataDir
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
