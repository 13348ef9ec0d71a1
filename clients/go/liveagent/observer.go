package liveagent

// Observer receives controller events. Methods are called outside the
// controller's lock and may arrive from the poller's goroutine, so
// implementations must be safe for concurrent use.
type Observer interface {
	OnStateChange(from, to State)
	// OnMessage delivers a message to render. Provisional messages carry a
	// ProvisionalID and are later confirmed or failed.
	OnMessage(msg Message)
	OnMessageConfirmed(provisionalID string, msg Message)
	OnMessageFailed(provisionalID string, err error)
	OnTyping(agentTyping bool)
	OnError(err error)
}

// Hooks adapts plain functions to Observer. Nil fields are ignored.
type Hooks struct {
	StateChange      func(from, to State)
	Message          func(msg Message)
	MessageConfirmed func(provisionalID string, msg Message)
	MessageFailed    func(provisionalID string, err error)
	Typing           func(agentTyping bool)
	Error            func(err error)
}

func (h Hooks) OnStateChange(from, to State) {
	if h.StateChange != nil {
		h.StateChange(from, to)
	}
}

func (h Hooks) OnMessage(msg Message) {
	if h.Message != nil {
		h.Message(msg)
	}
}

func (h Hooks) OnMessageConfirmed(provisionalID string, msg Message) {
	if h.MessageConfirmed != nil {
		h.MessageConfirmed(provisionalID, msg)
	}
}

func (h Hooks) OnMessageFailed(provisionalID string, err error) {
	if h.MessageFailed != nil {
		h.MessageFailed(provisionalID, err)
	}
}

func (h Hooks) OnTyping(agentTyping bool) {
	if h.Typing != nil {
		h.Typing(agentTyping)
	}
}

func (h Hooks) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}
