package tutor

import (
	"context"
	"strings"

	"github.com/aldurante/tutoria/internal/audio"
	"github.com/aldurante/tutoria/internal/ollama"
	"github.com/aldurante/tutoria/internal/voice"
)

// CompletionClient is the slice of the remote chat service the orchestrator
// needs.
type CompletionClient interface {
	Complete(ctx context.Context, subject ollama.Subject, userMessage string) (string, error)
}

// ChatReply is the JSON payload for a completed chat turn.
type ChatReply struct {
	Reply string `json:"reply"`
}

// Transcript is the JSON payload for a completed transcription.
type Transcript struct {
	Text string `json:"text"`
}

// Orchestrator is the single request-handling surface: it validates inputs,
// dispatches to exactly one engine, and shapes the result. It holds no
// business state; the shared engine singletons live behind the injected
// interfaces.
type Orchestrator struct {
	completions  CompletionClient
	synthesizer  voice.Synthesizer
	recognizer   voice.Recognizer
	defaultVoice string
}

// New builds an orchestrator. defaultVoice is the product-level persona
// speaker used when a synthesis caller supplies no voice selector; it is
// deliberately applied here rather than relying on the engine's own
// default.
func New(completions CompletionClient, synthesizer voice.Synthesizer, recognizer voice.Recognizer, defaultVoice string) *Orchestrator {
	return &Orchestrator{
		completions:  completions,
		synthesizer:  synthesizer,
		recognizer:   recognizer,
		defaultVoice: strings.TrimSpace(defaultVoice),
	}
}

func (o *Orchestrator) HandleChat(ctx context.Context, subject ollama.Subject, message string) (ChatReply, error) {
	if strings.TrimSpace(message) == "" {
		return ChatReply{}, &InvalidRequestError{Field: "message", Reason: "is required"}
	}
	reply, err := o.completions.Complete(ctx, subject, message)
	if err != nil {
		return ChatReply{}, err
	}
	return ChatReply{Reply: reply}, nil
}

// HandleSynthesis synthesizes text and returns a complete WAV byte buffer.
func (o *Orchestrator) HandleSynthesis(ctx context.Context, text, voiceID string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &InvalidRequestError{Field: "text", Reason: "is required"}
	}
	if strings.TrimSpace(voiceID) == "" {
		voiceID = o.defaultVoice
	}
	res, err := o.synthesizer.Synthesize(ctx, text, voiceID)
	if err != nil {
		return nil, err
	}
	return audio.EncodeWAV(res.Samples, res.SampleRate)
}

func (o *Orchestrator) HandleTranscription(ctx context.Context, audioBytes []byte) (Transcript, error) {
	if len(audioBytes) == 0 {
		return Transcript{}, &InvalidRequestError{Field: "audio", Reason: "body is empty"}
	}
	res, err := o.recognizer.Transcribe(ctx, audioBytes)
	if err != nil {
		return Transcript{}, err
	}
	return Transcript{Text: res.Text}, nil
}
