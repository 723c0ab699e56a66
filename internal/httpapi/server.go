package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/aldurante/tutoria/internal/config"
	"github.com/aldurante/tutoria/internal/observability"
	"github.com/aldurante/tutoria/internal/ollama"
	"github.com/aldurante/tutoria/internal/progress"
	"github.com/aldurante/tutoria/internal/tutor"
	"github.com/aldurante/tutoria/internal/voice"
)

// maxAudioBody caps inbound transcription payloads.
const maxAudioBody = 32 << 20

// Orchestrator is the tutoring surface the server dispatches to.
type Orchestrator interface {
	HandleChat(ctx context.Context, subject ollama.Subject, message string) (tutor.ChatReply, error)
	HandleSynthesis(ctx context.Context, text, voiceID string) ([]byte, error)
	HandleTranscription(ctx context.Context, audioBytes []byte) (tutor.Transcript, error)
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	store        progress.Store
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, store progress.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up; other websites must
				// not be able to drive a child's tutoring session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/tutor/chat", s.handleChat)
	r.Get("/v1/tutor/chat/ws", s.handleChatWS)
	r.Post("/v1/tutor/tts", s.handleSynthesis)
	r.Post("/v1/tutor/transcribe", s.handleTranscription)

	r.Post("/v1/progress/answers", s.handleRecordAnswer)
	r.Get("/v1/progress/dashboard", s.handleDashboard)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"engine_mode": s.cfg.EngineMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

type chatRequest struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.metrics.Requests.WithLabelValues("chat", "invalid").Inc()
		respondDetail(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	reply, err := s.orchestrator.HandleChat(r.Context(), ollama.Subject(req.Subject), req.Message)
	if err != nil {
		s.respondMappedError(w, "chat", err)
		return
	}
	s.metrics.Requests.WithLabelValues("chat", "ok").Inc()
	respondJSON(w, http.StatusOK, reply)
}

type synthesisRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

func (s *Server) handleSynthesis(w http.ResponseWriter, r *http.Request) {
	var req synthesisRequest
	if err := decodeJSON(r, &req); err != nil {
		s.metrics.Requests.WithLabelValues("synthesis", "invalid").Inc()
		respondDetail(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	started := time.Now()
	wav, err := s.orchestrator.HandleSynthesis(r.Context(), req.Text, req.VoiceID)
	if err != nil {
		s.respondMappedError(w, "synthesis", err)
		return
	}
	s.metrics.Requests.WithLabelValues("synthesis", "ok").Inc()
	s.metrics.ObserveInference("synthesis", time.Since(started))

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `inline; filename="tutor_tts.wav"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (s *Server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	// Read one byte past the cap so truncation is detectable and oversize
	// uploads are rejected rather than transcribed clipped.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBody+1))
	if err != nil {
		s.metrics.Requests.WithLabelValues("transcription", "invalid").Inc()
		respondDetail(w, http.StatusBadRequest, "invalid_request", "failed to read audio body", nil)
		return
	}
	defer r.Body.Close()
	if len(body) > maxAudioBody {
		s.metrics.Requests.WithLabelValues("transcription", "invalid").Inc()
		respondDetail(w, http.StatusRequestEntityTooLarge, "audio_too_large", "audio body exceeds the 32 MiB limit", nil)
		return
	}

	started := time.Now()
	transcript, err := s.orchestrator.HandleTranscription(r.Context(), body)
	if err != nil {
		s.respondMappedError(w, "transcription", err)
		return
	}
	s.metrics.Requests.WithLabelValues("transcription", "ok").Inc()
	s.metrics.ObserveInference("transcription", time.Since(started))
	respondJSON(w, http.StatusOK, transcript)
}

type recordAnswerRequest struct {
	ChildID    string `json:"child_id"`
	SubjectKey string `json:"subject_key"`
	Correct    *bool  `json:"correct"`
}

func (s *Server) handleRecordAnswer(w http.ResponseWriter, r *http.Request) {
	var req recordAnswerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondDetail(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.ChildID) == "" || strings.TrimSpace(req.SubjectKey) == "" || req.Correct == nil {
		respondDetail(w, http.StatusBadRequest, "invalid_request", "child_id, subject_key, correct are required", nil)
		return
	}

	tally, err := s.store.RecordAnswer(r.Context(), req.ChildID, req.SubjectKey, *req.Correct)
	switch {
	case errors.Is(err, progress.ErrChildNotFound):
		respondDetail(w, http.StatusNotFound, "child_not_found", "child does not exist", nil)
		return
	case errors.Is(err, progress.ErrSubjectNotFound):
		respondDetail(w, http.StatusNotFound, "subject_not_found", "subject not found", nil)
		return
	case err != nil:
		respondDetail(w, http.StatusInternalServerError, "store_error", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, tally)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	parentID := strings.TrimSpace(r.URL.Query().Get("parent_id"))
	if parentID == "" {
		respondDetail(w, http.StatusBadRequest, "invalid_request", "query parameter parent_id is required", nil)
		return
	}
	children, err := s.store.Dashboard(r.Context(), parentID)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "store_error", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"children": children})
}

// respondMappedError translates the error taxonomy into the single
// {detail, code, ...diagnostics} response shape. Nothing escapes unmapped.
func (s *Server) respondMappedError(w http.ResponseWriter, operation string, err error) {
	var (
		invalid     *tutor.InvalidRequestError
		engine      *voice.EngineUnavailableError
		unreachable *ollama.UnreachableError
		status      *ollama.StatusError
		empty       *ollama.EmptyReplyError
	)
	switch {
	case errors.As(err, &invalid):
		s.metrics.Requests.WithLabelValues(operation, "invalid").Inc()
		respondDetail(w, http.StatusBadRequest, "invalid_request", invalid.Error(), nil)
	case errors.As(err, &unreachable):
		s.metrics.Requests.WithLabelValues(operation, "error").Inc()
		s.metrics.UpstreamErrors.WithLabelValues("unreachable").Inc()
		respondDetail(w, http.StatusBadGateway, "upstream_unreachable", "failed to reach completion service", map[string]any{
			"error": unreachable.Err.Error(),
		})
	case errors.As(err, &status):
		s.metrics.Requests.WithLabelValues(operation, "error").Inc()
		s.metrics.UpstreamErrors.WithLabelValues("status").Inc()
		respondDetail(w, http.StatusBadGateway, "upstream_error", "completion service returned an error", map[string]any{
			"status": status.Status,
			"body":   status.Body,
		})
	case errors.As(err, &empty):
		s.metrics.Requests.WithLabelValues(operation, "error").Inc()
		s.metrics.UpstreamErrors.WithLabelValues("empty_reply").Inc()
		respondDetail(w, http.StatusBadGateway, "upstream_empty_reply", "no content from model", map[string]any{
			"raw": empty.Raw,
		})
	case errors.As(err, &engine):
		s.metrics.Requests.WithLabelValues(operation, "error").Inc()
		respondDetail(w, http.StatusServiceUnavailable, "engine_unavailable", engine.Error(), nil)
	default:
		s.metrics.Requests.WithLabelValues(operation, "error").Inc()
		respondDetail(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondDetail(w http.ResponseWriter, status int, code, detail string, extra map[string]any) {
	body := map[string]any{
		"detail": detail,
		"code":   code,
	}
	for k, v := range extra {
		body[k] = v
	}
	respondJSON(w, status, body)
}
