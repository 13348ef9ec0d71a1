// Package liveagent is a client for the live chat session protocol: a REST
// client, a local session store, a status poller and the session lifecycle
// controller that ties them together.
package liveagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/liveagent/internal/metrics"
)

// DefaultNonceHeader carries the anti-forgery token on every request.
const DefaultNonceHeader = "X-WP-Nonce"

// Endpoint paths, relative to the client's BaseURL.
const (
	pathCreateSession = "/liveagent/session/create"
	pathPoll          = "/liveagent/status/poll"
	pathSendMessage   = "/liveagent/message/send"
	pathCloseSession  = "/liveagent/session/close"
	pathAgentOnline   = "/liveagent/status/agent-online"
	pathTyping        = "/liveagent/status/typing"
	pathMarkRead      = "/liveagent/message/mark-read"
	pathUpload        = "/liveagent/file/upload"
)

// Client is a live chat REST client.
type Client struct {
	BaseURL     string
	Nonce       string
	NonceHeader string
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// NewClient creates a new client for the site at baseURL (e.g. https://example.com/wp-json).
func NewClient(baseURL, nonce string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Nonce:       nonce,
		NonceHeader: DefaultNonceHeader,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		Logger:      zerolog.Nop(),
	}
}

// envelope holds the fields every response shares.
type envelope struct {
	Success bool            `json:"success"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// rejection builds the ProtocolError for a success=false body.
func (e envelope) rejection(op string) *ProtocolError {
	msg := e.Error
	var s string
	if len(e.Message) > 0 && json.Unmarshal(e.Message, &s) == nil && s != "" {
		msg = s
	}
	return &ProtocolError{Op: op, Message: msg}
}

// doRequest performs an HTTP request and returns the body of a 2xx response.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Nonce != "" {
		header := c.NonceHeader
		if header == "" {
			header = DefaultNonceHeader
		}
		req.Header.Set(header, c.Nonce)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	metrics.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env envelope
		_ = json.Unmarshal(respBody, &env)
		reason := env.rejection(op).Message
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(reason)}
	}

	c.Logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("live chat request completed")

	return respBody, nil
}

// postJSON sends v as a JSON body and decodes the response into out.
func (c *Client) postJSON(ctx context.Context, op, path string, v, out interface{}) error {
	reqBody, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	respBody, err := c.doRequest(ctx, op, http.MethodPost, path, bytes.NewReader(reqBody), "application/json")
	if err != nil {
		return err
	}
	return decode(op, respBody, out)
}

// decode unmarshals a 2xx body, mapping success=false to a ProtocolError.
func decode(op string, body []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("invalid response body: %w", err)}
	}
	if !env.Success {
		return env.rejection(op)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("invalid response body: %w", err)}
	}
	return nil
}

// CreateSessionRequest is the request body for opening a session.
type CreateSessionRequest struct {
	InitialMessage string `json:"initial_message"`
}

// CreateSessionResponse is the response from opening a session.
type CreateSessionResponse struct {
	Success   bool      `json:"success"`
	SessionID SessionID `json:"session_id"`
	Status    Status    `json:"status"`
}

// CreateSession opens a new session carrying the visitor's first message.
func (c *Client) CreateSession(ctx context.Context, initialMessage string) (*CreateSessionResponse, error) {
	var resp CreateSessionResponse
	if err := c.postJSON(ctx, "create_session", pathCreateSession, CreateSessionRequest{InitialMessage: initialMessage}, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, &ProtocolError{Op: "create_session", Message: "response carried no session id"}
	}
	return &resp, nil
}

// PollResponse is the response from the status poll.
type PollResponse struct {
	Success       bool      `json:"success"`
	SessionStatus Status    `json:"session_status"`
	NewMessages   []Message `json:"new_messages"`
	AgentTyping   bool      `json:"agent_typing"`
}

// Poll fetches the session status and every message after lastMessageID.
func (c *Client) Poll(ctx context.Context, sessionID SessionID, lastMessageID MessageID) (*PollResponse, error) {
	q := url.Values{}
	q.Set("session_id", string(sessionID))
	q.Set("last_message_id", strconv.FormatInt(int64(lastMessageID), 10))

	respBody, err := c.doRequest(ctx, "poll", http.MethodGet, pathPoll+"?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}

	var resp PollResponse
	if err := decode("poll", respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	SessionID SessionID `json:"session_id"`
	Message   string    `json:"message"`
}

// messageResponse is shared by send and upload: on success message is an object.
type messageResponse struct {
	Success bool    `json:"success"`
	Message Message `json:"message"`
}

// SendMessage posts a visitor message and returns the stored copy.
func (c *Client) SendMessage(ctx context.Context, sessionID SessionID, text string) (*Message, error) {
	var resp messageResponse
	if err := c.postJSON(ctx, "send_message", pathSendMessage, SendMessageRequest{SessionID: sessionID, Message: text}, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// CloseSession asks the server to close a session.
func (c *Client) CloseSession(ctx context.Context, sessionID SessionID) error {
	return c.postJSON(ctx, "close_session", pathCloseSession, map[string]SessionID{"session_id": sessionID}, nil)
}

// AgentOnline reports whether any agent is available to take a chat.
func (c *Client) AgentOnline(ctx context.Context) (bool, error) {
	respBody, err := c.doRequest(ctx, "agent_online", http.MethodGet, pathAgentOnline, nil, "")
	if err != nil {
		return false, err
	}

	var resp struct {
		Online bool `json:"online"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return false, &TransportError{Op: "agent_online", Err: fmt.Errorf("invalid response body: %w", err)}
	}
	return resp.Online, nil
}

// TypingRequest is the request body for the typing indicator.
type TypingRequest struct {
	SessionID SessionID `json:"session_id"`
	IsTyping  bool      `json:"is_typing"`
	UserType  Sender    `json:"user_type"`
}

// SetTyping reports whether the visitor is typing.
func (c *Client) SetTyping(ctx context.Context, sessionID SessionID, typing bool) error {
	return c.postJSON(ctx, "typing", pathTyping, TypingRequest{SessionID: sessionID, IsTyping: typing, UserType: SenderUser}, nil)
}

// MarkReadRequest is the request body for marking messages read.
type MarkReadRequest struct {
	SessionID SessionID `json:"session_id"`
	UserType  Sender    `json:"user_type"`
}

// MarkRead marks the agent's messages as read by the visitor.
func (c *Client) MarkRead(ctx context.Context, sessionID SessionID) error {
	return c.postJSON(ctx, "mark_read", pathMarkRead, MarkReadRequest{SessionID: sessionID, UserType: SenderUser}, nil)
}

// UploadFile sends an attachment as multipart form data.
func (c *Client) UploadFile(ctx context.Context, sessionID SessionID, name string, r io.Reader) (*Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("session_id", string(sessionID)); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("upload: read file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	respBody, err := c.doRequest(ctx, "upload", http.MethodPost, pathUpload, &buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var resp messageResponse
	if err := decode("upload", respBody, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}
