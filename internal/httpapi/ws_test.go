package httpapi

import (
	"errors"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/aldurante/tutoria/internal/ollama"
	"github.com/aldurante/tutoria/internal/tutor"
)

func dialChatWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/v1/tutor/chat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestChatWSRoundTrip(t *testing.T) {
	o := &stubOrchestrator{chatReply: tutor.ChatReply{Reply: "Nine minus four is five!"}}
	srv := newTestServer(t, o, nil)
	conn := dialChatWS(t, srv.URL)

	if err := conn.WriteJSON(wsChatTurn{Subject: "math", Message: "what is 9-4"}); err != nil {
		t.Fatalf("write turn: %v", err)
	}
	var reply wsReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Type != "reply" || reply.Reply != "Nine minus four is five!" {
		t.Fatalf("reply frame = %+v", reply)
	}
	if subject, _ := o.chatSeen(); subject != ollama.SubjectMath {
		t.Fatalf("subject = %q, want math", subject)
	}
}

func TestChatWSErrorFrameKeepsConnection(t *testing.T) {
	o := &stubOrchestrator{chatErr: &tutor.InvalidRequestError{Field: "message", Reason: "is required"}}
	srv := newTestServer(t, o, nil)
	conn := dialChatWS(t, srv.URL)

	if err := conn.WriteJSON(wsChatTurn{Subject: "math"}); err != nil {
		t.Fatalf("write turn: %v", err)
	}
	var frame wsError
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if frame.Type != "error" || frame.Code != "invalid_request" {
		t.Fatalf("error frame = %+v", frame)
	}

	// The socket must survive a failed turn.
	o.setChat(tutor.ChatReply{Reply: "ok"}, nil)
	if err := conn.WriteJSON(wsChatTurn{Subject: "math", Message: "hi"}); err != nil {
		t.Fatalf("write second turn: %v", err)
	}
	var reply wsReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read second reply: %v", err)
	}
	if reply.Reply != "ok" {
		t.Fatalf("second reply = %+v", reply)
	}
}

func TestWSErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&tutor.InvalidRequestError{Field: "message", Reason: "is required"}, "invalid_request"},
		{&ollama.UnreachableError{Err: errors.New("refused")}, "upstream_unreachable"},
		{&ollama.StatusError{Status: 500, Body: "boom"}, "upstream_error"},
		{&ollama.EmptyReplyError{Raw: "{}"}, "upstream_empty_reply"},
		{errors.New("anything else"), "internal"},
	}
	for _, tc := range cases {
		if got := wsErrorCode(tc.err); got != tc.want {
			t.Errorf("wsErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
