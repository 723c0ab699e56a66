package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the tutoring voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// EngineMode selects the local engine wiring: auto, local, or mock.
	EngineMode string

	OllamaURL         string
	OllamaModel       string
	CompletionTimeout time.Duration

	TTSPython             string
	TTSWorkerScript       string
	TTSModelName          string
	TTSDefaultSpeaker     string
	TTSFallbackSampleRate int

	STTWhisperCLI string
	STTModelPath  string
	STTLanguage   string
	STTThreads    int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "tutoria"),
		AllowAnyOrigin:   false,
		EngineMode:       envOrDefault("ENGINE_MODE", "auto"),
		OllamaURL:        envOrDefault("OLLAMA_URL", "http://127.0.0.1:11434"),
		// Small local model; the endpoint also accepts OpenAI-compatible servers.
		OllamaModel:     envOrDefault("OLLAMA_MODEL", "llama3.2:3b"),
		TTSPython:       trimSpaceEnv("TTS_PYTHON"),
		TTSWorkerScript: envOrDefault("TTS_WORKER_SCRIPT", "scripts/tts_worker.py"),
		// Multi-speaker English model so the persona speaker is selectable.
		TTSModelName:          envOrDefault("TTS_MODEL_NAME", "tts_models/en/vctk/vits"),
		TTSDefaultSpeaker:     envOrDefault("TTS_DEFAULT_SPEAKER", "p335"),
		TTSFallbackSampleRate: 22050,
		STTWhisperCLI:         envOrDefault("STT_WHISPER_CLI", "whisper-cli"),
		STTModelPath:          envOrDefault("STT_MODEL_PATH", ".models/whisper/ggml-base.en.bin"),
		STTLanguage:           envOrDefault("STT_LANGUAGE", "en"),
		STTThreads:            0,
		DatabaseURL:           trimSpaceEnv("DATABASE_URL"),
		ShutdownTimeout:       15 * time.Second,
		CompletionTimeout:     120 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSFallbackSampleRate, err = intFromEnv("TTS_FALLBACK_SAMPLE_RATE", cfg.TTSFallbackSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.STTThreads, err = intFromEnv("STT_THREADS", cfg.STTThreads)
	if err != nil {
		return Config{}, err
	}

	if cfg.CompletionTimeout <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_TIMEOUT must be positive")
	}
	if cfg.TTSFallbackSampleRate <= 0 {
		return Config{}, fmt.Errorf("TTS_FALLBACK_SAMPLE_RATE must be positive")
	}
	if cfg.STTThreads < 0 {
		return Config{}, fmt.Errorf("STT_THREADS must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.EngineMode)) {
	case "auto", "local", "mock":
	default:
		return Config{}, fmt.Errorf("invalid ENGINE_MODE: %q (expected auto|local|mock)", cfg.EngineMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimSpaceEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimSpaceEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
