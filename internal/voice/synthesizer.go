package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SynthConfig configures the local synthesis engine. The model itself lives
// in a Python worker process that loads it once and answers JSON-line
// requests on stdin/stdout.
type SynthConfig struct {
	Python             string
	WorkerScript       string
	ModelName          string
	FallbackSampleRate int
}

type ttsEngine interface {
	synthesize(ctx context.Context, text, voiceID string) (SynthesisResult, error)
	Close() error
}

// SpeechSynthesizer owns the lazy, process-wide synthesis engine handle.
// The handle is constructed at most once; a failed construction leaves the
// slot empty so a later call can retry.
type SpeechSynthesizer struct {
	cfg  SynthConfig
	load func() (ttsEngine, error)

	mu     sync.Mutex
	engine ttsEngine
	onLoad func(result string)
}

func NewSynthesizer(cfg SynthConfig) *SpeechSynthesizer {
	s := &SpeechSynthesizer{cfg: cfg}
	s.load = func() (ttsEngine, error) {
		return startSynthWorker(cfg)
	}
	return s
}

// newSynthesizerWithLoader injects a fake engine loader for tests.
func newSynthesizerWithLoader(cfg SynthConfig, load func() (ttsEngine, error)) *SpeechSynthesizer {
	return &SpeechSynthesizer{cfg: cfg, load: load}
}

// SetLoadObserver registers a callback fired once per construction attempt
// with "ok" or "error". Must be called before first use.
func (s *SpeechSynthesizer) SetLoadObserver(fn func(result string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLoad = fn
}

// handle returns the shared engine, constructing it under the lock on first
// use. Concurrent first callers block here and all observe the single
// constructed instance.
func (s *SpeechSynthesizer) handle() (ttsEngine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return s.engine, nil
	}
	eng, err := s.load()
	if err != nil {
		if s.onLoad != nil {
			s.onLoad("error")
		}
		return nil, &EngineUnavailableError{Engine: "synthesis", Err: err}
	}
	if s.onLoad != nil {
		s.onLoad("ok")
	}
	s.engine = eng
	return eng, nil
}

func (s *SpeechSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (SynthesisResult, error) {
	eng, err := s.handle()
	if err != nil {
		return SynthesisResult{}, err
	}
	res, err := eng.synthesize(ctx, text, voiceID)
	if err != nil {
		return SynthesisResult{}, &EngineUnavailableError{Engine: "synthesis", Err: err}
	}
	if res.SampleRate <= 0 {
		res.SampleRate = s.fallbackSampleRate()
	}
	return res, nil
}

func (s *SpeechSynthesizer) fallbackSampleRate() int {
	if s.cfg.FallbackSampleRate > 0 {
		return s.cfg.FallbackSampleRate
	}
	return DefaultSampleRate
}

// Close shuts down the worker process if one was ever constructed.
func (s *SpeechSynthesizer) Close() error {
	s.mu.Lock()
	eng := s.engine
	s.engine = nil
	s.mu.Unlock()
	if eng == nil {
		return nil
	}
	return eng.Close()
}

// synthWorker drives the Python TTS worker. Requests are single-flight
// under mu: the loaded model is not reentrant, and the JSON-line protocol
// pairs exactly one response with one request.
type synthWorker struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	closed bool
}

type synthWorkerRequest struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Speaker string `json:"speaker,omitempty"`
}

type synthWorkerResponse struct {
	ID            string `json:"id"`
	OK            bool   `json:"ok"`
	SampleRate    int    `json:"sample_rate"`
	SamplesBase64 string `json:"samples_base64"`
	Error         string `json:"error"`
}

func startSynthWorker(cfg SynthConfig) (*synthWorker, error) {
	py := strings.TrimSpace(cfg.Python)
	if py == "" {
		for _, candidate := range []string{".venv/bin/python3", ".venv/bin/python", "python3"} {
			if p, err := exec.LookPath(candidate); err == nil && strings.TrimSpace(p) != "" {
				py = p
				break
			}
		}
	}
	if py == "" {
		return nil, fmt.Errorf("TTS_PYTHON not set and python3 not found on PATH")
	}

	script := strings.TrimSpace(cfg.WorkerScript)
	if script == "" {
		script = "scripts/tts_worker.py"
	}
	if !filepath.IsAbs(script) {
		if wd, err := os.Getwd(); err == nil {
			script = filepath.Join(wd, script)
		}
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("tts worker script not found: %s", script)
	}

	cmd := exec.Command(py, "-u", script)
	if model := strings.TrimSpace(cfg.ModelName); model != "" {
		cmd.Env = append(os.Environ(), "TTS_MODEL_NAME="+model)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	w := &synthWorker{cmd: cmd, stdin: stdin, dec: json.NewDecoder(stdout)}

	// Cheap warmup so missing weights and broken installs surface on load,
	// not on the first user request.
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	if _, err := w.synthesize(ctx, "warmup", ""); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("tts worker failed to start: %s", msg)
	}
	return w, nil
}

func (w *synthWorker) synthesize(ctx context.Context, text, voiceID string) (SynthesisResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return SynthesisResult{}, fmt.Errorf("tts worker closed")
	}
	if err := ctx.Err(); err != nil {
		return SynthesisResult{}, err
	}

	id := fmt.Sprintf("req-%d", time.Now().UnixNano())
	line, _ := json.Marshal(synthWorkerRequest{ID: id, Text: text, Speaker: voiceID})
	line = append(line, '\n')
	if _, err := w.stdin.Write(line); err != nil {
		return SynthesisResult{}, err
	}

	var resp synthWorkerResponse
	if err := w.dec.Decode(&resp); err != nil {
		return SynthesisResult{}, err
	}
	if resp.ID != id {
		return SynthesisResult{}, fmt.Errorf("tts worker out-of-sync (got %q, expected %q)", resp.ID, id)
	}
	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "unknown tts worker error"
		}
		return SynthesisResult{}, fmt.Errorf("%s", msg)
	}

	samples, err := decodeFloat32Base64(resp.SamplesBase64)
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("decode samples_base64: %w", err)
	}
	return SynthesisResult{Samples: samples, SampleRate: resp.SampleRate}, nil
}

func (w *synthWorker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	stdin := w.stdin
	cmd := w.cmd
	w.stdin = nil
	w.cmd = nil
	w.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}

// decodeFloat32Base64 decodes little-endian float32 samples from base64.
func decodeFloat32Base64(s string) ([]float32, error) {
	if strings.TrimSpace(s) == "" {
		return []float32{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("sample payload not float32 aligned (%d bytes)", len(raw))
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}
