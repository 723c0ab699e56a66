package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/aldurante/tutoria/internal/config"
	"github.com/aldurante/tutoria/internal/httpapi"
	"github.com/aldurante/tutoria/internal/observability"
	"github.com/aldurante/tutoria/internal/ollama"
	"github.com/aldurante/tutoria/internal/progress"
	"github.com/aldurante/tutoria/internal/tutor"
	"github.com/aldurante/tutoria/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := progress.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("progress store init failed: %v", err)
	}
	defer store.Close()

	completions := ollama.NewClient(ollama.Config{
		Endpoint: cfg.OllamaURL,
		Model:    cfg.OllamaModel,
		Timeout:  cfg.CompletionTimeout,
	})

	var (
		synthesizer voice.Synthesizer
		recognizer  voice.Recognizer
	)

	mode := strings.ToLower(strings.TrimSpace(cfg.EngineMode))
	if mode == "auto" {
		if localEnginesPresent(cfg) {
			mode = "local"
		} else {
			mode = "mock"
			log.Printf("local engine tooling not found; falling back to mock engines")
		}
	}

	switch mode {
	case "local":
		synth := voice.NewSynthesizer(voice.SynthConfig{
			Python:             cfg.TTSPython,
			WorkerScript:       cfg.TTSWorkerScript,
			ModelName:          cfg.TTSModelName,
			FallbackSampleRate: cfg.TTSFallbackSampleRate,
		})
		synth.SetLoadObserver(func(result string) {
			metrics.EngineLoads.WithLabelValues("synthesis", result).Inc()
		})
		defer synth.Close()

		recog := voice.NewRecognizer(voice.RecognizerConfig{
			CLI:       cfg.STTWhisperCLI,
			ModelPath: cfg.STTModelPath,
			Language:  cfg.STTLanguage,
			Threads:   cfg.STTThreads,
		})
		recog.SetLoadObserver(func(result string) {
			metrics.EngineLoads.WithLabelValues("recognition", result).Inc()
		})

		synthesizer = synth
		recognizer = recog
		log.Printf("engines: local (tts worker + whisper.cpp), lazy load on first use")
	case "mock":
		synthesizer = voice.NewMockSynthesizer()
		recognizer = voice.NewMockRecognizer()
		log.Printf("engines: mock")
	default:
		log.Fatalf("invalid ENGINE_MODE: %q", cfg.EngineMode)
	}

	orchestrator := tutor.New(completions, synthesizer, recognizer, cfg.TTSDefaultSpeaker)

	api := httpapi.New(cfg, orchestrator, store, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// localEnginesPresent checks cheaply whether the local engine tooling looks
// usable, without loading any model.
func localEnginesPresent(cfg config.Config) bool {
	cli := strings.TrimSpace(cfg.STTWhisperCLI)
	if cli == "" {
		cli = "whisper-cli"
	}
	if _, err := exec.LookPath(cli); err != nil {
		return false
	}
	script := strings.TrimSpace(cfg.TTSWorkerScript)
	if script == "" {
		return false
	}
	if !filepath.IsAbs(script) {
		if wd, err := os.Getwd(); err == nil {
			script = filepath.Join(wd, script)
		}
	}
	if _, err := os.Stat(script); err != nil {
		return false
	}
	return true
}
