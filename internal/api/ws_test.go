package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/coder/websocket"
)

func dialChatSocket(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chat/ws/sessions/" + sessionID + "/chat"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, frame string) wsReply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var reply wsReply
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return reply
}

func TestChatSocketRoundTrip(t *testing.T) {
	svc := &stubService{
		submitFn: func(sessionID int64, content string) (*domain.Turn, error) {
			if content == "" {
				return nil, domain.ErrEmptyMessage
			}
			return &domain.Turn{ID: 2, SessionID: sessionID, Role: domain.RoleAssistant, Content: "안녕하세요"}, nil
		},
	}
	sockets := NewSocketRegistry()
	srv := httptest.NewServer(newTestRouter(svc, nil, sockets))
	defer srv.Close()

	conn := dialChatSocket(t, srv, "4")

	if reply := exchange(t, conn, `{"type":"ping"}`); reply.Type != "pong" {
		t.Errorf("Expected pong, got %+v", reply)
	}

	reply := exchange(t, conn, `{"type":"message","content":"안녕"}`)
	if reply.Type != "reply" {
		t.Fatalf("Expected reply, got %+v", reply)
	}
	turn, ok := reply.Turn.(map[string]interface{})
	if !ok || turn["content"] != "안녕하세요" {
		t.Errorf("Unexpected turn: %+v", reply.Turn)
	}

	reply = exchange(t, conn, `{"type":"message","content":""}`)
	if reply.Type != "error" || reply.Status != 400 {
		t.Errorf("Expected validation error frame, got %+v", reply)
	}

	if sockets.Len() != 1 {
		t.Errorf("Expected one registered socket, got %d", sockets.Len())
	}
	sockets.CloseSession(4)
	if sockets.Len() != 0 {
		t.Errorf("Expected socket to be removed, got %d", sockets.Len())
	}
}

func TestChatSocketUnknownSession(t *testing.T) {
	svc := &stubService{statusErr: domain.ErrSessionNotFound}
	srv := httptest.NewServer(newTestRouter(svc, nil, NewSocketRegistry()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chat/ws/sessions/9/chat"
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown session")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Errorf("Expected 404 response, got %+v", resp)
	}
}
