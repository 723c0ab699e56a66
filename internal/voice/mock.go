package voice

import (
	"context"
	"strings"
	"sync"
)

// MockSynthesizer returns a fixed sample buffer without loading any model.
// Used as the fallback provider when no TTS worker is configured, and by
// tests.
type MockSynthesizer struct {
	mu    sync.Mutex
	Calls int
}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (m *MockSynthesizer) Synthesize(_ context.Context, text, _ string) (SynthesisResult, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	// One short ramp per input rune keeps output length proportional to text.
	n := len([]rune(strings.TrimSpace(text)))
	if n == 0 {
		n = 1
	}
	samples := make([]float32, n*4)
	for i := range samples {
		samples[i] = float32(i%8)/16 - 0.25
	}
	return SynthesisResult{Samples: samples, SampleRate: DefaultSampleRate}, nil
}

func (m *MockSynthesizer) Close() error { return nil }

// MockRecognizer echoes a canned transcript.
type MockRecognizer struct {
	mu    sync.Mutex
	Calls int
	Text  string
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{Text: "simulated voice input"}
}

func (m *MockRecognizer) Transcribe(_ context.Context, wavBytes []byte) (TranscriptionResult, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if len(wavBytes) == 0 {
		return TranscriptionResult{Text: NoSpeechSentinel}, nil
	}
	return TranscriptionResult{Text: m.Text}, nil
}
