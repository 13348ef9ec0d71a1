package liveagent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the server-side lifecycle status of a chat session.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusDeclined Status = "declined"
	StatusClosed   Status = "closed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusDeclined
}

// State is the controller's view of the conversation.
type State string

const (
	StateIdle     State = "idle"
	StatePending  State = "pending"
	StateActive   State = "active"
	StateClosed   State = "closed"
	StateDeclined State = "declined"
)

// stateFor maps a server status to the matching controller state.
func stateFor(s Status) (State, bool) {
	switch s {
	case StatusPending:
		return StatePending, true
	case StatusActive:
		return StateActive, true
	case StatusClosed:
		return StateClosed, true
	case StatusDeclined:
		return StateDeclined, true
	}
	return "", false
}

// polling reports whether the poller should be running in this state.
func (s State) polling() bool {
	return s == StatePending || s == StateActive
}

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// SessionID is the opaque, server-assigned session identifier.
// It decodes from either a JSON string or a JSON number.
type SessionID string

func (id *SessionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = SessionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	*id = SessionID(n.String())
	return nil
}

// MessageID is the server-assigned, monotonically increasing message id.
// PHP backends emit it as a number or as a numeric string; both decode.
type MessageID int64

func (id *MessageID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("message id %q: %w", s, err)
	}
	*id = MessageID(n)
	return nil
}

// mysqlDateTime is the layout WordPress uses for DATETIME columns.
const mysqlDateTime = "2006-01-02 15:04:05"

// Timestamp accepts RFC 3339 and MySQL datetime strings.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, mysqlDateTime} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Attachment references an uploaded file.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message is a single chat utterance.
type Message struct {
	ID         MessageID   `json:"id"`
	Sender     Sender      `json:"sender"`
	Body       string      `json:"body"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  Timestamp   `json:"created_at"`

	// ProvisionalID is set on messages rendered before the server confirmed them.
	ProvisionalID string `json:"-"`
}

// Provisional reports whether the message still awaits server confirmation.
func (m Message) Provisional() bool {
	return m.ProvisionalID != "" && m.ID == 0
}

// Record is the locally persisted view of the current session.
type Record struct {
	SessionID     SessionID `json:"sessionId"`
	Status        Status    `json:"status"`
	LastMessageID MessageID `json:"lastMessageId"`
	Timestamp     int64     `json:"timestamp"` // Unix ms
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State         State     `json:"state"`
	SessionID     SessionID `json:"session_id,omitempty"`
	LastMessageID MessageID `json:"last_message_id"`
	Polling       bool      `json:"polling"`
	Suspended     bool      `json:"suspended"`
}
