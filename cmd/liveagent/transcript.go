package main

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
)

// transcript renders controller events as terminal lines.
type transcript struct {
	mu          sync.Mutex
	out         io.Writer
	agentTyping bool

	// onAgentMessage runs after an agent message is printed.
	onAgentMessage func()
}

func newTranscript(out io.Writer) *transcript {
	return &transcript{out: out}
}

func (t *transcript) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

// notice prints a client-side status line.
func (t *transcript) notice(format string, args ...any) {
	t.printf("-- "+format, args...)
}

func (t *transcript) OnStateChange(from, to liveagent.State) {
	switch to {
	case liveagent.StatePending:
		t.notice("Waiting for an agent to accept your chat... (/cancel to withdraw)")
	case liveagent.StateActive:
		if from == liveagent.StatePending {
			t.notice("An agent has joined the chat.")
		} else {
			t.notice("Chat resumed.")
		}
	case liveagent.StateDeclined:
		t.notice("No agent could take your chat. Type /start to try again.")
	case liveagent.StateClosed:
		t.notice("The chat has ended. Type /start to begin a new one.")
	case liveagent.StateIdle:
		if from == liveagent.StatePending {
			t.notice("Chat request cancelled.")
		}
	}
}

func (t *transcript) OnMessage(msg liveagent.Message) {
	at := msg.CreatedAt.Time
	if at.IsZero() {
		at = time.Now()
	}

	who := "you"
	if msg.Sender == liveagent.SenderAgent {
		who = "agent"
		t.mu.Lock()
		t.agentTyping = false
		t.mu.Unlock()
	}

	body := msg.Body
	if msg.Attachment != nil {
		body = fmt.Sprintf("[file] %s", msg.Attachment.Name)
		if msg.Attachment.URL != "" {
			body += " " + msg.Attachment.URL
		}
	}
	t.printf("[%s] %s: %s", at.Local().Format("15:04"), who, body)

	if msg.Sender == liveagent.SenderAgent && t.onAgentMessage != nil {
		t.onAgentMessage()
	}
}

func (t *transcript) OnMessageConfirmed(string, liveagent.Message) {}

func (t *transcript) OnMessageFailed(_ string, err error) {
	t.notice("Your last message was not delivered: %s", describe(err))
}

func (t *transcript) OnTyping(typing bool) {
	t.mu.Lock()
	changed := typing && !t.agentTyping
	t.agentTyping = typing
	t.mu.Unlock()

	if changed {
		t.notice("agent is typing...")
	}
}

func (t *transcript) OnError(err error) {
	switch {
	case errors.Is(err, liveagent.ErrConnectivity):
		t.notice("Lost connection to the chat server. Type /start to reconnect.")
	default:
		t.notice("%s", describe(err))
	}
}

// describe turns client errors into short user-facing text.
func describe(err error) string {
	var pe *liveagent.ProtocolError
	var te *liveagent.TransportError
	switch {
	case errors.As(err, &pe) && pe.Message != "":
		return pe.Message
	case errors.As(err, &te) && te.StatusCode != 0:
		return fmt.Sprintf("server returned HTTP %d", te.StatusCode)
	case errors.As(err, &te):
		return "the chat server could not be reached"
	default:
		return err.Error()
	}
}
