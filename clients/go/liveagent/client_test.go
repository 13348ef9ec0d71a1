package liveagent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestClient(t *testing.T, r http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "nonce-123")
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestCreateSessionSendsNonceAndGreeting(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/liveagent/session/create", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-WP-Nonce"); got != "nonce-123" {
			t.Errorf("nonce header = %q, want nonce-123", got)
		}
		var req CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.InitialMessage != "hello" {
			t.Errorf("initial_message = %q, want hello", req.InitialMessage)
		}
		writeJSON(w, http.StatusOK, `{"success":true,"session_id":42,"status":"pending"}`)
	})
	c := newTestClient(t, r)

	resp, err := c.CreateSession(context.Background(), "hello")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if resp.SessionID != "42" {
		t.Fatalf("session id = %q, want 42", resp.SessionID)
	}
	if resp.Status != StatusPending {
		t.Fatalf("status = %q, want pending", resp.Status)
	}
}

func TestCustomNonceHeader(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/liveagent/status/agent-online", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Chat-Token"); got != "nonce-123" {
			t.Errorf("X-Chat-Token = %q", got)
		}
		writeJSON(w, http.StatusOK, `{"online":true}`)
	})
	c := newTestClient(t, r)
	c.NonceHeader = "X-Chat-Token"

	online, err := c.AgentOnline(context.Background())
	if err != nil {
		t.Fatalf("AgentOnline: %v", err)
	}
	if !online {
		t.Fatal("expected agent online")
	}
}

func TestPollEncodesCursorAndDecodesStringIDs(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/liveagent/status/poll", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("session_id") != "abc" || q.Get("last_message_id") != "3" {
			t.Errorf("unexpected query %v", q)
		}
		writeJSON(w, http.StatusOK, `{
			"success": true,
			"session_status": "active",
			"agent_typing": true,
			"new_messages": [
				{"id": "5", "sender": "agent", "body": "Hi there", "created_at": "2025-03-01 10:00:00"},
				{"id": 7, "sender": "agent", "body": "How can I help?", "created_at": "2025-03-01T10:00:05Z"}
			]
		}`)
	})
	c := newTestClient(t, r)

	resp, err := c.Poll(context.Background(), "abc", 3)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if resp.SessionStatus != StatusActive || !resp.AgentTyping {
		t.Fatalf("unexpected poll response %+v", resp)
	}
	if len(resp.NewMessages) != 2 {
		t.Fatalf("messages = %d, want 2", len(resp.NewMessages))
	}
	if resp.NewMessages[0].ID != 5 || resp.NewMessages[1].ID != 7 {
		t.Fatalf("ids = %d,%d, want 5,7", resp.NewMessages[0].ID, resp.NewMessages[1].ID)
	}
	if resp.NewMessages[0].CreatedAt.Year() != 2025 {
		t.Fatalf("mysql datetime not parsed: %v", resp.NewMessages[0].CreatedAt)
	}
}

func TestSendMessageRejectedIsProtocolError(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/liveagent/message/send", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":false,"message":"Session is closed"}`)
	})
	c := newTestClient(t, r)

	_, err := c.SendMessage(context.Background(), "abc", "hi")
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %T (%v)", err, err)
	}
	if pe.Message != "Session is closed" {
		t.Fatalf("message = %q", pe.Message)
	}
}

func TestSendMessageDecodesStoredMessage(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/liveagent/message/send", func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.SessionID != "abc" || req.Message != "hi" {
			t.Errorf("unexpected request %+v", req)
		}
		writeJSON(w, http.StatusOK, `{"success":true,"message":{"id":12,"sender":"user","body":"hi"}}`)
	})
	c := newTestClient(t, r)

	msg, err := c.SendMessage(context.Background(), "abc", "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID != 12 || msg.Body != "hi" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestNon2xxIsTransportError(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/liveagent/session/close", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, `{"code":"rest_cookie_invalid_nonce","message":"Cookie check failed"}`)
	})
	c := newTestClient(t, r)

	err := c.CloseSession(context.Background(), "abc")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T (%v)", err, err)
	}
	if te.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", te.StatusCode)
	}
	if !strings.Contains(te.Error(), "Cookie check failed") {
		t.Fatalf("error %q lacks server reason", te.Error())
	}
	if IsProtocolError(err) {
		t.Fatal("transport error must not be a protocol error")
	}
}

func TestUnreachableServerIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL, "")

	_, err := c.Poll(context.Background(), "abc", 0)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T (%v)", err, err)
	}
}

func TestUploadFileSendsMultipart(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/liveagent/file/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("session_id"); got != "abc" {
			t.Errorf("session_id = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			if hdr.Filename != "receipt.txt" || string(data) != "paid" {
				t.Errorf("unexpected file %q %q", hdr.Filename, data)
			}
		}
		writeJSON(w, http.StatusOK, `{"success":true,"message":{"id":"20","sender":"user","attachment":{"url":"https://example.com/receipt.txt","name":"receipt.txt"}}}`)
	})
	c := newTestClient(t, r)

	msg, err := c.UploadFile(context.Background(), "abc", "receipt.txt", strings.NewReader("paid"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if msg.ID != 20 || msg.Attachment == nil || msg.Attachment.Name != "receipt.txt" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestTypingAndMarkReadPayloads(t *testing.T) {
	var typing TypingRequest
	var read MarkReadRequest
	r := chi.NewRouter()
	r.Post("/liveagent/status/typing", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&typing)
		writeJSON(w, http.StatusOK, `{"success":true}`)
	})
	r.Post("/liveagent/message/mark-read", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&read)
		writeJSON(w, http.StatusOK, `{"success":true}`)
	})
	c := newTestClient(t, r)
	ctx := context.Background()

	if err := c.SetTyping(ctx, "abc", true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if err := c.MarkRead(ctx, "abc"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if typing.SessionID != "abc" || !typing.IsTyping || typing.UserType != SenderUser {
		t.Fatalf("unexpected typing payload %+v", typing)
	}
	if read.SessionID != "abc" || read.UserType != SenderUser {
		t.Fatalf("unexpected mark-read payload %+v", read)
	}
}
