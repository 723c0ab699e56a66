package voice

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// RecognizerConfig configures the whisper.cpp recognition engine. Language
// is fixed for the process; no auto-detection is attempted.
type RecognizerConfig struct {
	CLI       string
	ModelPath string
	Language  string
	Threads   int
}

type sttEngine interface {
	transcribe(ctx context.Context, wavBytes []byte) (string, error)
}

// SpeechRecognizer owns the lazy recognition engine handle with the same
// construction discipline as SpeechSynthesizer: one construction under
// concurrent first use, retry after a failed load.
type SpeechRecognizer struct {
	cfg  RecognizerConfig
	load func() (sttEngine, error)

	mu     sync.Mutex
	engine sttEngine
	onLoad func(result string)
}

func NewRecognizer(cfg RecognizerConfig) *SpeechRecognizer {
	r := &SpeechRecognizer{cfg: cfg}
	r.load = func() (sttEngine, error) {
		return newWhisperCLI(cfg)
	}
	return r
}

func newRecognizerWithLoader(cfg RecognizerConfig, load func() (sttEngine, error)) *SpeechRecognizer {
	return &SpeechRecognizer{cfg: cfg, load: load}
}

// SetLoadObserver registers a callback fired once per construction attempt
// with "ok" or "error". Must be called before first use.
func (r *SpeechRecognizer) SetLoadObserver(fn func(result string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLoad = fn
}

func (r *SpeechRecognizer) handle() (sttEngine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine != nil {
		return r.engine, nil
	}
	eng, err := r.load()
	if err != nil {
		if r.onLoad != nil {
			r.onLoad("error")
		}
		return nil, &EngineUnavailableError{Engine: "recognition", Err: err}
	}
	if r.onLoad != nil {
		r.onLoad("ok")
	}
	r.engine = eng
	return eng, nil
}

func (r *SpeechRecognizer) Transcribe(ctx context.Context, wavBytes []byte) (TranscriptionResult, error) {
	eng, err := r.handle()
	if err != nil {
		return TranscriptionResult{}, err
	}
	text, err := eng.transcribe(ctx, wavBytes)
	if err != nil {
		return TranscriptionResult{}, &EngineUnavailableError{Engine: "recognition", Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = NoSpeechSentinel
	}
	return TranscriptionResult{Text: text}, nil
}

// whisperCLI shells out to whisper.cpp. Construction validates the CLI and
// model up front so a broken install fails the load, not the first call.
type whisperCLI struct {
	cliPath   string
	modelPath string
	language  string
	threads   int

	// The CLI loads the full model per invocation; serialize calls so
	// concurrent requests do not stack model allocations.
	mu sync.Mutex
}

func newWhisperCLI(cfg RecognizerConfig) (*whisperCLI, error) {
	cli := strings.TrimSpace(cfg.CLI)
	if cli == "" {
		cli = "whisper-cli"
	}
	cliPath, err := exec.LookPath(cli)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp CLI not found (%s)", cli)
	}

	modelPath := strings.TrimSpace(cfg.ModelPath)
	if modelPath == "" {
		return nil, fmt.Errorf("STT_MODEL_PATH is required")
	}
	if !filepath.IsAbs(modelPath) {
		if wd, err := os.Getwd(); err == nil {
			modelPath = filepath.Join(wd, modelPath)
		}
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper.cpp model not found: %s", modelPath)
	}

	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = "en"
	}

	return &whisperCLI{
		cliPath:   cliPath,
		modelPath: modelPath,
		language:  language,
		threads:   cfg.Threads,
	}, nil
}

func (w *whisperCLI) transcribe(ctx context.Context, wavBytes []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Scoped per-call workspace: whisper.cpp wants a file path, and the
	// deferred removal guarantees cleanup on every exit path.
	tmpDir, err := os.MkdirTemp("", "tutoria-whisper-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "audio.wav")
	if err := os.WriteFile(wavPath, wavBytes, 0o600); err != nil {
		return "", err
	}
	outPrefix := filepath.Join(tmpDir, "out")

	args := []string{
		"-m", w.modelPath,
		"-f", wavPath,
		"-l", w.language,
		"-otxt",
		"-of", outPrefix,
		"-nt",
	}
	if w.threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.threads))
	}

	cmd := exec.CommandContext(ctx, w.cliPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		// whisper.cpp can be extremely chatty; keep errors readable.
		if len(detail) > 8<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(8<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("whisper.cpp failed: %s", detail)
	}

	b, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
