package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Subject selects the tutoring persona for a chat turn.
type Subject string

const (
	SubjectMath    Subject = "math"
	SubjectEnglish Subject = "english"
)

const (
	mathPersona = "You are a very friendly math tutor for kids aged 2-12. " +
		"Explain concepts with very simple words, short sentences, and fun examples. " +
		"Speak like you are talking directly to the child."
	englishPersona = "You are a very friendly English tutor for kids aged 2-12. " +
		"Help with reading, simple grammar, vocabulary, and speaking practice. " +
		"Use very simple words and short sentences."
)

// SystemPrompt returns the persona instruction for a subject. Unrecognized
// subjects fall back to the math persona.
func SystemPrompt(subject Subject) string {
	if Subject(strings.ToLower(string(subject))) == SubjectEnglish {
		return englishPersona
	}
	return mathPersona
}

// Config holds connection settings for the completion endpoint.
type Config struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// Client issues synchronous chat-completion requests against an
// Ollama-compatible endpoint.
type Client struct {
	endpoint string
	model    string
	client   *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		model:    strings.TrimSpace(cfg.Model),
		client:   &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

// chatResponse tolerates the two reply shapes seen in the wild: a direct
// message object (Ollama) or an OpenAI-style choices list.
type chatResponse struct {
	Message chatMessage `json:"message"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (r chatResponse) replyText() string {
	if s := strings.TrimSpace(r.Message.Content); s != "" {
		return s
	}
	if len(r.Choices) > 0 {
		return strings.TrimSpace(r.Choices[0].Message.Content)
	}
	return ""
}

// Complete sends one two-message exchange (subject persona + user message)
// and returns the assistant's reply text.
func (c *Client) Complete(ctx context.Context, subject Subject, userMessage string) (string, error) {
	payload := chatRequest{
		Model:  c.model,
		Stream: false,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt(subject)},
			{Role: "user", Content: userMessage},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return "", &UnreachableError{Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", &UnreachableError{Err: err}
	}
	if res.StatusCode != http.StatusOK {
		return "", &StatusError{Status: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &EmptyReplyError{Raw: string(raw)}
	}
	reply := decoded.replyText()
	if reply == "" {
		return "", &EmptyReplyError{Raw: string(raw)}
	}
	return reply, nil
}
