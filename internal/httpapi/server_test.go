package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aldurante/tutoria/internal/audio"
	"github.com/aldurante/tutoria/internal/config"
	"github.com/aldurante/tutoria/internal/observability"
	"github.com/aldurante/tutoria/internal/ollama"
	"github.com/aldurante/tutoria/internal/progress"
	"github.com/aldurante/tutoria/internal/tutor"
	"github.com/aldurante/tutoria/internal/voice"
)

// One shared instance: the prometheus default registry rejects duplicate
// collector registration across tests.
var testMetrics = observability.NewMetrics("tutoria_test")

// stubOrchestrator is shared with the websocket tests, where the handler
// goroutine reads it concurrently; all field access goes through mu.
type stubOrchestrator struct {
	mu         sync.Mutex
	chatReply  tutor.ChatReply
	chatErr    error
	wav        []byte
	wavErr     error
	transcript tutor.Transcript
	transErr   error

	lastSubject ollama.Subject
	lastMessage string
	audioLen    int
}

func (s *stubOrchestrator) HandleChat(_ context.Context, subject ollama.Subject, message string) (tutor.ChatReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSubject = subject
	s.lastMessage = message
	return s.chatReply, s.chatErr
}

func (s *stubOrchestrator) HandleSynthesis(context.Context, string, string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wav, s.wavErr
}

func (s *stubOrchestrator) HandleTranscription(_ context.Context, audioBytes []byte) (tutor.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioLen = len(audioBytes)
	return s.transcript, s.transErr
}

func (s *stubOrchestrator) setChat(reply tutor.ChatReply, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatReply = reply
	s.chatErr = err
}

func (s *stubOrchestrator) chatSeen() (ollama.Subject, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSubject, s.lastMessage
}

func (s *stubOrchestrator) audioSeen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioLen
}

func newTestServer(t *testing.T, o Orchestrator, store progress.Store) *httptest.Server {
	t.Helper()
	if store == nil {
		store = progress.NewInMemoryStore()
	}
	cfg := config.Config{EngineMode: "mock"}
	srv := httptest.NewServer(New(cfg, o, store, testMetrics).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestChatEndpoint(t *testing.T) {
	o := &stubOrchestrator{chatReply: tutor.ChatReply{Reply: "Four!"}}
	srv := newTestServer(t, o, nil)

	resp := postJSON(t, srv.URL+"/v1/tutor/chat", map[string]string{
		"subject": "math",
		"message": "what is 2+2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["reply"] != "Four!" {
		t.Fatalf("reply = %v", body["reply"])
	}
	if subject, message := o.chatSeen(); subject != ollama.SubjectMath || message != "what is 2+2" {
		t.Fatalf("orchestrator saw (%q, %q)", subject, message)
	}
}

func TestChatInvalidRequest(t *testing.T) {
	o := &stubOrchestrator{chatErr: &tutor.InvalidRequestError{Field: "message", Reason: "is required"}}
	srv := newTestServer(t, o, nil)

	resp := postJSON(t, srv.URL+"/v1/tutor/chat", map[string]string{"subject": "math"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != "invalid_request" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestChatUpstreamErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode string
		wantKey  string
	}{
		{
			name:     "unreachable",
			err:      &ollama.UnreachableError{Err: errors.New("connection refused")},
			wantCode: "upstream_unreachable",
			wantKey:  "error",
		},
		{
			name:     "bad status",
			err:      &ollama.StatusError{Status: 500, Body: "model crashed"},
			wantCode: "upstream_error",
			wantKey:  "status",
		},
		{
			name:     "empty reply",
			err:      &ollama.EmptyReplyError{Raw: "{}"},
			wantCode: "upstream_empty_reply",
			wantKey:  "raw",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := &stubOrchestrator{chatErr: tc.err}
			srv := newTestServer(t, o, nil)

			resp := postJSON(t, srv.URL+"/v1/tutor/chat", map[string]string{"subject": "math", "message": "hi"})
			if resp.StatusCode != http.StatusBadGateway {
				t.Fatalf("status = %d, want 502", resp.StatusCode)
			}
			body := decodeBody(t, resp)
			if body["code"] != tc.wantCode {
				t.Fatalf("code = %v, want %s", body["code"], tc.wantCode)
			}
			if body["detail"] == nil || body["detail"] == "" {
				t.Fatalf("missing detail in %v", body)
			}
			if _, ok := body[tc.wantKey]; !ok {
				t.Fatalf("missing diagnostic key %q in %v", tc.wantKey, body)
			}
		})
	}
}

func TestSynthesisEndpointReturnsWAV(t *testing.T) {
	wav, err := audio.EncodeWAV([]float32{0, 0.25, -0.25}, 22050)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	o := &stubOrchestrator{wav: wav}
	srv := newTestServer(t, o, nil)

	resp := postJSON(t, srv.URL+"/v1/tutor/tts", map[string]string{"text": "hello"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("Content-Type = %q, want audio/wav", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "tutor_tts.wav") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	var got bytes.Buffer
	if _, err := got.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(got.Bytes(), wav) {
		t.Fatalf("body does not match encoded WAV (%d vs %d bytes)", got.Len(), len(wav))
	}
}

func TestSynthesisEngineUnavailable(t *testing.T) {
	o := &stubOrchestrator{wavErr: &voice.EngineUnavailableError{
		Engine: "synthesis",
		Err:    errors.New("worker failed to start"),
	}}
	srv := newTestServer(t, o, nil)

	resp := postJSON(t, srv.URL+"/v1/tutor/tts", map[string]string{"text": "hello"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != "engine_unavailable" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestTranscriptionEndpoint(t *testing.T) {
	o := &stubOrchestrator{transcript: tutor.Transcript{Text: "seven times eight"}}
	srv := newTestServer(t, o, nil)

	resp, err := http.Post(srv.URL+"/v1/tutor/transcribe", "audio/wav", bytes.NewReader([]byte{1, 2, 3, 4}))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["text"] != "seven times eight" {
		t.Fatalf("text = %v", body["text"])
	}
	if got := o.audioSeen(); got != 4 {
		t.Fatalf("orchestrator received %d bytes, want 4", got)
	}
}

func TestTranscriptionEmptyBody(t *testing.T) {
	o := &stubOrchestrator{transErr: &tutor.InvalidRequestError{Field: "audio", Reason: "body is empty"}}
	srv := newTestServer(t, o, nil)

	resp, err := http.Post(srv.URL+"/v1/tutor/transcribe", "audio/wav", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != "invalid_request" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestTranscriptionBodyTooLarge(t *testing.T) {
	o := &stubOrchestrator{transcript: tutor.Transcript{Text: "unused"}}
	srv := newTestServer(t, o, nil)

	oversize := bytes.Repeat([]byte{0xAB}, maxAudioBody+1)
	resp, err := http.Post(srv.URL+"/v1/tutor/transcribe", "audio/wav", bytes.NewReader(oversize))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != "audio_too_large" {
		t.Fatalf("code = %v", body["code"])
	}
	if got := o.audioSeen(); got != 0 {
		t.Fatalf("orchestrator received %d bytes for a rejected upload", got)
	}
}

func TestRecordAnswerAndDashboard(t *testing.T) {
	store := progress.NewInMemoryStore()
	childID := store.AddChild("parent-1", "Ada")
	srv := newTestServer(t, &stubOrchestrator{}, store)

	for _, correct := range []bool{true, true, false} {
		resp := postJSON(t, srv.URL+"/v1/progress/answers", map[string]any{
			"child_id":    childID,
			"subject_key": "math",
			"correct":     correct,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/v1/progress/dashboard?parent_id=parent-1")
	if err != nil {
		t.Fatalf("GET dashboard: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var dash struct {
		Children []progress.ChildProgress `json:"children"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dash); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	resp.Body.Close()

	if len(dash.Children) != 1 {
		t.Fatalf("children = %d, want 1", len(dash.Children))
	}
	child := dash.Children[0]
	if child.Name != "Ada" || len(child.Subjects) != 1 {
		t.Fatalf("unexpected child row: %+v", child)
	}
	math := child.Subjects[0]
	if math.Answered != 3 || math.Correct != 2 {
		t.Fatalf("tally = %d/%d, want 2/3", math.Correct, math.Answered)
	}
}

func TestRecordAnswerUnknownChild(t *testing.T) {
	srv := newTestServer(t, &stubOrchestrator{}, nil)

	resp := postJSON(t, srv.URL+"/v1/progress/answers", map[string]any{
		"child_id":    "nope",
		"subject_key": "math",
		"correct":     true,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != "child_not_found" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestRecordAnswerMissingCorrect(t *testing.T) {
	srv := newTestServer(t, &stubOrchestrator{}, nil)

	resp := postJSON(t, srv.URL+"/v1/progress/answers", map[string]any{
		"child_id":    "c1",
		"subject_key": "math",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDashboardRequiresParentID(t *testing.T) {
	srv := newTestServer(t, &stubOrchestrator{}, nil)

	resp, err := http.Get(srv.URL + "/v1/progress/dashboard")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &stubOrchestrator{}, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
