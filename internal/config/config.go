package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

const appName = "meetscribe"

type Config struct {
	Hotkey       string          `json:"hotkey"`
	HotkeyDarwin string          `json:"hotkey_darwin"`
	LogLevel     string          `json:"log_level"` // zerolog level name
	Audio        AudioConfig     `json:"audio"`
	Recording    RecordingConfig `json:"recording"`
	Streaming    StreamingConfig `json:"streaming"`
}

type AudioConfig struct {
	Backend        string `json:"backend"` // "" picks the platform default
	Device         string `json:"device"`  // index selector, "" or "0" for default
	PollIntervalMS int    `json:"poll_interval_ms"`

	// Used by fixed-format backends only.
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

type RecordingConfig struct {
	Dir             string `json:"dir"` // "" uses RecordingsPath()
	DrainIntervalMS int    `json:"drain_interval_ms"`
	ChunkSeconds    int    `json:"chunk_seconds"` // 0 keeps one file per meeting
}

type StreamingConfig struct {
	Enabled          bool   `json:"enabled"`
	URL              string `json:"url"`
	Token            string `json:"token"` // falls back to $DEEPGRAM_API_KEY
	Model            string `json:"model"`
	Language         string `json:"language"`
	Diarize          bool   `json:"diarize"`
	InterimResults   bool   `json:"interim_results"`
	TargetSampleRate int    `json:"target_sample_rate"`
	KeepAliveSeconds int    `json:"keepalive_seconds"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Hotkey:       "Ctrl+Shift+R",
		HotkeyDarwin: "Cmd+Shift+R",
		LogLevel:     "info",
		Audio: AudioConfig{
			PollIntervalMS: 10,
			SampleRate:     48000,
			Channels:       2,
			Encoding:       "pcm16le",
		},
		Recording: RecordingConfig{
			DrainIntervalMS: 500,
		},
		Streaming: StreamingConfig{
			URL:              "wss://api.deepgram.com/v1/listen",
			Model:            "nova-2-meeting",
			Diarize:          true,
			InterimResults:   true,
			TargetSampleRate: 16000,
			KeepAliveSeconds: 8,
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFile(configPath())
}

// LoadFile reads path over the defaults. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	return c.SaveFile(configPath())
}

func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// may hold a streaming token
	return os.WriteFile(path, data, 0600)
}

// Validate rejects settings that would fail later at runtime.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	switch {
	case c.Audio.PollIntervalMS < 0:
		return fmt.Errorf("invalid audio.poll_interval_ms %d", c.Audio.PollIntervalMS)
	case c.Audio.SampleRate < 0 || c.Audio.Channels < 0:
		return fmt.Errorf("invalid audio format %d Hz / %d channels", c.Audio.SampleRate, c.Audio.Channels)
	case c.Recording.DrainIntervalMS < 0:
		return fmt.Errorf("invalid recording.drain_interval_ms %d", c.Recording.DrainIntervalMS)
	case c.Recording.ChunkSeconds < 0:
		return fmt.Errorf("invalid recording.chunk_seconds %d", c.Recording.ChunkSeconds)
	case c.Streaming.TargetSampleRate < 0 || c.Streaming.KeepAliveSeconds < 0:
		return fmt.Errorf("invalid streaming settings")
	}
	return nil
}

// Level is the parsed log level, info when unset.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// PlatformHotkey returns the appropriate hotkey for the current platform
func (c *Config) PlatformHotkey() string {
	if runtime.GOOS == "darwin" && c.HotkeyDarwin != "" {
		return c.HotkeyDarwin
	}
	return c.Hotkey
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Audio.PollIntervalMS) * time.Millisecond
}

func (c *Config) DrainInterval() time.Duration {
	if c.Recording.DrainIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Recording.DrainIntervalMS) * time.Millisecond
}

func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.Streaming.KeepAliveSeconds) * time.Second
}

// RecordingsDir is where meeting WAV files are written.
func (c *Config) RecordingsDir() string {
	if c.Recording.Dir != "" {
		return c.Recording.Dir
	}
	return RecordingsPath()
}

// StreamToken returns the configured token or $DEEPGRAM_API_KEY.
func (c *Config) StreamToken() string {
	if c.Streaming.Token != "" {
		return c.Streaming.Token
	}
	return os.Getenv("DEEPGRAM_API_KEY")
}

// Path returns the config file location.
func Path() string {
	return configPath()
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, appName, "config.json")
}

// RecordingsPath returns the platform-specific recordings directory path
func RecordingsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, appName, "recordings")
}
