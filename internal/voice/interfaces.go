package voice

import "context"

// DefaultSampleRate is used when the synthesis engine does not report an
// output rate. It matches the Coqui English models the service defaults
// to; other model families may need an explicit TTS_FALLBACK_SAMPLE_RATE.
const DefaultSampleRate = 22050

// NoSpeechSentinel replaces empty or whitespace-only recognition output so
// callers never have to special-case emptiness.
const NoSpeechSentinel = "no words recognized"

// SynthesisResult is the float sample buffer produced by one synthesis
// call. It is owned by the caller and consumed once by the WAV encoder.
type SynthesisResult struct {
	Samples    []float32
	SampleRate int
}

// TranscriptionResult carries recognized text, never empty (see
// NoSpeechSentinel).
type TranscriptionResult struct {
	Text string
}

// Synthesizer turns text into a float sample buffer.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (SynthesisResult, error)
}

// Recognizer turns a WAV byte buffer into text.
type Recognizer interface {
	Transcribe(ctx context.Context, wavBytes []byte) (TranscriptionResult, error)
}
