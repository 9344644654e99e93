package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the co-pilot backend.
type Config struct {
	Backend BackendConfig
	Audio   AudioConfig
	Score   ScoreConfig
	Sync    SyncConfig
	Notes   NotesConfig
	Call    CallConfig
}

type BackendConfig struct {
	APIKey     string
	APIBaseURL string
}

type AudioConfig struct {
	RecorderCommand string
	LoopbackFormat  string
	LoopbackDevice  string
	MicFormat       string
	MicDevice       string
	SampleRate      int
	Channels        int
	MeterInterval   time.Duration
	ChunkInterval   time.Duration
}

type ScoreConfig struct {
	Path                 string
	HeavyHitterThreshold float64
}

type SyncConfig struct {
	PollInterval time.Duration
	AmmoWindow   int
}

type NotesConfig struct {
	Dir          string
	DebounceWait time.Duration
}

type CallConfig struct {
	TeamID       string
	CloserID     string
	ErrorDisplay time.Duration
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	defaultScore := filepath.Join(home, ".config", "callpilot", "ammo.rules")
	scorePath := strings.TrimSpace(os.Getenv("CALLPILOT_AMMO_RULES_FILE"))
	if scorePath == "" {
		scorePath = defaultScore
	}

	cfg := Config{
		Backend: BackendConfig{
			APIKey:     strings.TrimSpace(os.Getenv("CALLPILOT_API_KEY")),
			APIBaseURL: envOrDefault("CALLPILOT_API_BASE", "https://api.callpilot.dev/v1"),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("CALLPILOT_FFMPEG_COMMAND", "ffmpeg"),
			LoopbackFormat:  envOrDefault("CALLPILOT_LOOPBACK_FORMAT", "pulse"),
			LoopbackDevice:  envOrDefault("CALLPILOT_LOOPBACK_DEVICE", "@DEFAULT_MONITOR@"),
			MicFormat:       envOrDefault("CALLPILOT_MIC_FORMAT", "pulse"),
			MicDevice:       envOrDefault("CALLPILOT_MIC_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("CALLPILOT_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("CALLPILOT_CHANNELS", 1),
			MeterInterval:   envMillis("CALLPILOT_METER_INTERVAL_MS", 50),
			ChunkInterval:   envMillis("CALLPILOT_CHUNK_INTERVAL_MS", 100),
		},
		Score: ScoreConfig{
			Path:                 scorePath,
			HeavyHitterThreshold: envOrDefaultFloat("CALLPILOT_HEAVY_HITTER_THRESHOLD", 5),
		},
		Sync: SyncConfig{
			PollInterval: envMillis("CALLPILOT_POLL_INTERVAL_MS", 2000),
			AmmoWindow:   envOrDefaultInt("CALLPILOT_AMMO_WINDOW", 12),
		},
		Notes: NotesConfig{
			Dir:          envOrDefault("CALLPILOT_NOTES_DIR", filepath.Join(home, ".local", "share", "callpilot", "notes")),
			DebounceWait: envMillis("CALLPILOT_NOTES_DEBOUNCE_MS", 2000),
		},
		Call: CallConfig{
			TeamID:       strings.TrimSpace(os.Getenv("CALLPILOT_TEAM_ID")),
			CloserID:     strings.TrimSpace(os.Getenv("CALLPILOT_CLOSER_ID")),
			ErrorDisplay: envMillis("CALLPILOT_ERROR_DISPLAY_MS", 5000),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.MeterInterval <= 0 {
		cfg.Audio.MeterInterval = 50 * time.Millisecond
	}
	if cfg.Audio.ChunkInterval <= 0 {
		cfg.Audio.ChunkInterval = 100 * time.Millisecond
	}
	if cfg.Sync.PollInterval <= 0 {
		cfg.Sync.PollInterval = 2 * time.Second
	}
	if cfg.Sync.AmmoWindow < 10 || cfg.Sync.AmmoWindow > 15 {
		cfg.Sync.AmmoWindow = 12
	}
	if cfg.Notes.DebounceWait <= 0 {
		cfg.Notes.DebounceWait = 2 * time.Second
	}
	if cfg.Call.ErrorDisplay <= 0 {
		cfg.Call.ErrorDisplay = 5 * time.Second
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envMillis(key string, fallback int) time.Duration {
	ms := envOrDefaultInt(key, fallback)
	if ms < 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}
