package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aldurante/tutoria/internal/ollama"
	"github.com/aldurante/tutoria/internal/tutor"
	"github.com/aldurante/tutoria/internal/voice"
)

const (
	wsReadLimit    = 1 << 20
	wsIdleDeadline = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

type wsChatTurn struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type wsReply struct {
	Type  string `json:"type"`
	Reply string `json:"reply"`
}

type wsError struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// handleChatWS serves interactive chat turns over one persistent
// connection. Each inbound frame is an independent {subject, message} turn;
// turn errors come back as error frames rather than closing the socket.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleDeadline))
		return nil
	})

	for {
		var turn wsChatTurn
		if err := conn.ReadJSON(&turn); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.metrics.WSMessages.WithLabelValues("inbound", "malformed").Inc()
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleDeadline))
		s.metrics.WSMessages.WithLabelValues("inbound", "chat_turn").Inc()

		reply, err := s.orchestrator.HandleChat(r.Context(), ollama.Subject(turn.Subject), turn.Message)
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err != nil {
			code := wsErrorCode(err)
			s.metrics.WSMessages.WithLabelValues("outbound", "error").Inc()
			if writeErr := conn.WriteJSON(wsError{Type: "error", Code: code, Detail: err.Error()}); writeErr != nil {
				return
			}
			continue
		}
		s.metrics.WSMessages.WithLabelValues("outbound", "reply").Inc()
		if err := conn.WriteJSON(wsReply{Type: "reply", Reply: reply.Reply}); err != nil {
			return
		}
	}
}

func wsErrorCode(err error) string {
	var (
		invalid     *tutor.InvalidRequestError
		engine      *voice.EngineUnavailableError
		unreachable *ollama.UnreachableError
		status      *ollama.StatusError
		empty       *ollama.EmptyReplyError
	)
	switch {
	case errors.As(err, &invalid):
		return "invalid_request"
	case errors.As(err, &unreachable):
		return "upstream_unreachable"
	case errors.As(err, &status):
		return "upstream_error"
	case errors.As(err, &empty):
		return "upstream_empty_reply"
	case errors.As(err, &engine):
		return "engine_unavailable"
	default:
		return "internal"
	}
}
