// Package config loads mergemon's settings from an optional TOML file
// and applies command-line overrides on top.
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

// Config is the full tuning surface of the monitor. Interval fields are
// seconds; zero disables the corresponding mechanism where documented.
type Config struct {
	// Tempdirs are the package manager's temporary directories to
	// watch (without the "portage/" suffix).
	Tempdirs []string `toml:"tempdirs"`

	// InactivityTimeout is how long a window may stay silent before it
	// is shifted off the screen. 0 keeps every window visible forever.
	InactivityTimeout float64 `toml:"inactivity_timeout"`
	// LockCheckInterval spaces the advisory-lock probes on inactive
	// windows (or all windows when inactivity detection is off).
	LockCheckInterval float64 `toml:"lock_check_interval"`
	// RescanInterval spaces the directory scans that catch builds the
	// filesystem watch missed. 0 disables rescanning.
	RescanInterval float64 `toml:"rescan_interval"`
	// PullInterval forces a read of every log even without events.
	// 0 disables forced pulls.
	PullInterval float64 `toml:"pull_interval"`
	// WaitTimeout bounds the event wait and thus the spacing of timer
	// ticks.
	WaitTimeout float64 `toml:"wait_timeout"`

	VisualBell  bool `toml:"visual_bell"`
	AudibleBell bool `toml:"audible_bell"`

	// WatchFetch enables the auxiliary fetch-log window.
	WatchFetch bool   `toml:"watch_fetch"`
	FetchLog   string `toml:"fetch_log"`

	// OmitRunning skips the startup scan for already-running builds.
	OmitRunning bool `toml:"omit_running"`

	// Strict makes unsupported escape sequences and color-pair
	// exhaustion fatal instead of best-effort.
	Strict bool `toml:"strict"`

	// MaxColorPairs bounds the (fg, bg) combinations rendered before
	// degradation to the default pair.
	MaxColorPairs int `toml:"max_color_pairs"`
}

const defaultConfigPath = "~/.config/mergemon/config.toml"

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Tempdirs:          []string{defaultTempdir()},
		InactivityTimeout: 30,
		LockCheckInterval: 15,
		RescanInterval:    45,
		PullInterval:      10,
		WaitTimeout:       2,
		AudibleBell:       true,
		WatchFetch:        true,
		FetchLog:          "/var/log/emerge-fetch.log",
		MaxColorPairs:     256,
	}
}

func defaultTempdir() string {
	if d := strings.TrimSpace(os.Getenv("PORTAGE_TMPDIR")); d != "" {
		return d
	}
	return "/var/tmp"
}

// Load reads the config file at path (or the default location when
// empty), falling back to defaults when the file is missing.
func Load(path string) (Config, error) {
	cfg := Default()

	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg.Normalize()
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(bytes, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return cfg.Normalize()
}

// Normalize expands paths and clamps nonsense values. It runs after
// both file loading and flag overrides.
func (c Config) Normalize() (Config, error) {
	if len(c.Tempdirs) == 0 {
		c.Tempdirs = []string{defaultTempdir()}
	}
	for i, d := range c.Tempdirs {
		expanded, err := expandPath(d)
		if err != nil {
			return Config{}, fmt.Errorf("tempdir %q: %w", d, err)
		}
		c.Tempdirs[i] = expanded
	}
	if c.MaxColorPairs < 1 {
		c.MaxColorPairs = 1
	}
	return c, nil
}

// Duration accessors; a zero interval stays zero (disabled).

func (c Config) Inactivity() time.Duration  { return secs(c.InactivityTimeout) }
func (c Config) LockCheck() time.Duration   { return secs(c.LockCheckInterval) }
func (c Config) RescanEvery() time.Duration { return secs(c.RescanInterval) }
func (c Config) Pull() time.Duration        { return secs(c.PullInterval) }

// Wait returns the bounded event-wait timeout, never zero: the timer
// tick must keep firing even if the watch goes quiet.
func (c Config) Wait() time.Duration {
	if d := secs(c.WaitTimeout); d > 0 {
		return d
	}
	return 2 * time.Second
}

func secs(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
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
