package liveagent

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/liveagent/internal/metrics"
)

const (
	// DefaultGreeting is the initial message sent when a session is created.
	DefaultGreeting = "Hi! I'd like to chat with an agent."
	// DefaultTypingThrottle suppresses repeats of the same typing state.
	DefaultTypingThrottle = 3 * time.Second
)

// API is the subset of the REST surface the controller drives. *Client implements it.
type API interface {
	CreateSession(ctx context.Context, initialMessage string) (*CreateSessionResponse, error)
	Poll(ctx context.Context, sessionID SessionID, lastMessageID MessageID) (*PollResponse, error)
	SendMessage(ctx context.Context, sessionID SessionID, text string) (*Message, error)
	CloseSession(ctx context.Context, sessionID SessionID) error
	AgentOnline(ctx context.Context) (bool, error)
	SetTyping(ctx context.Context, sessionID SessionID, typing bool) error
	MarkRead(ctx context.Context, sessionID SessionID) error
	UploadFile(ctx context.Context, sessionID SessionID, name string, r io.Reader) (*Message, error)
}

// Config tunes a Controller.
type Config struct {
	Greeting        string
	PollInterval    time.Duration
	MaxPollFailures int
	TypingThrottle  time.Duration
	Logger          zerolog.Logger
}

// Controller owns the single live chat session of a client. Construct one per
// process and share it; it is safe for concurrent use.
//
// Lock order is storeMu, then mu, then the poller's own lock.
type Controller struct {
	api      API
	store    *SessionStore
	observer Observer
	poller   *Poller
	greeting string
	throttle time.Duration
	logger   zerolog.Logger

	// storeMu serialises record writes so a save for an ended session can
	// never land after the clear that ended it.
	storeMu sync.Mutex

	mu            sync.Mutex
	state         State
	sessionID     SessionID
	lastMessageID MessageID
	confirmed     map[MessageID]struct{} // ids rendered via send, above the watermark
	held          map[MessageID]Message  // visitor echoes seen while a send was in flight
	sending       int
	gen           uint64
	starting      bool
	closing       bool
	typingSent    bool
	typingValue   bool
	typingAt      time.Time
}

// NewController creates an idle controller.
func NewController(api API, store *SessionStore, observer Observer, cfg Config) *Controller {
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.TypingThrottle <= 0 {
		cfg.TypingThrottle = DefaultTypingThrottle
	}
	if observer == nil {
		observer = Hooks{}
	}

	c := &Controller{
		api:       api,
		store:     store,
		observer:  observer,
		greeting:  cfg.Greeting,
		throttle:  cfg.TypingThrottle,
		logger:    cfg.Logger,
		state:     StateIdle,
		confirmed: make(map[MessageID]struct{}),
		held:      make(map[MessageID]Message),
	}
	c.poller = NewPoller(c.pollOnce, PollerConfig{
		Interval:    cfg.PollInterval,
		MaxFailures: cfg.MaxPollFailures,
		Logger:      cfg.Logger,
		OnFatal:     c.observer.OnError,
		OnRejected:  c.observer.OnError,
	})
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current state, session and poll cursor.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		State:         c.state,
		SessionID:     c.sessionID,
		LastMessageID: c.lastMessageID,
	}
	c.mu.Unlock()
	snap.Polling = c.poller.Running()
	snap.Suspended = c.poller.Suspended()
	return snap
}

// Store returns the local session store.
func (c *Controller) Store() *SessionStore {
	return c.store
}

// Start resumes the locally recorded session or creates a new one.
// It is a no-op while a session is pending or active.
func (c *Controller) Start(ctx context.Context) error {
	var events []func()

	c.mu.Lock()
	if c.starting || c.closing {
		c.mu.Unlock()
		return nil
	}
	if c.state.polling() {
		c.mu.Unlock()
		// Polling may have given up on connectivity; pick it back up.
		c.poller.Start()
		return nil
	}
	if c.state != StateIdle {
		c.resetLocked(&events)
	}
	c.starting = true
	c.mu.Unlock()
	dispatch(events)
	events = nil

	if rec, ok := c.store.Load(ctx); ok && !rec.Status.Terminal() {
		if st, ok := stateFor(rec.Status); ok {
			c.mu.Lock()
			c.starting = false
			c.adoptLocked(rec.SessionID, rec.LastMessageID)
			c.setStateLocked(st, &events)
			c.mu.Unlock()

			c.logger.Info().
				Str("session_id", string(rec.SessionID)).
				Int64("last_message_id", int64(rec.LastMessageID)).
				Msg("resumed session from local record")
			c.poller.Start()
			dispatch(events)
			return nil
		}
	}

	resp, err := c.api.CreateSession(ctx, c.greeting)
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		c.logger.Error().Err(err).Msg("failed to create session")
		c.observer.OnError(fmt.Errorf("start chat: %w", err))
		return err
	}

	st, ok := stateFor(resp.Status)
	if !ok {
		st = StatePending
	}

	c.mu.Lock()
	c.starting = false
	c.adoptLocked(resp.SessionID, 0)
	c.setStateLocked(st, &events)
	rec, gen := c.recordLocked(), c.gen
	c.mu.Unlock()

	c.logger.Info().Str("session_id", string(resp.SessionID)).Str("status", string(resp.Status)).Msg("session created")
	if st.polling() {
		c.persist(ctx, gen, rec)
		c.poller.Start()
	} else {
		c.purge(ctx, gen)
	}
	dispatch(events)
	return nil
}

// Send delivers a visitor message. The message is rendered provisionally
// before the request and then confirmed or failed.
func (c *Controller) Send(ctx context.Context, text string) (*Message, error) {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if c.state != StateActive || c.closing {
		c.mu.Unlock()
		return nil, ErrInactiveSession
	}
	if text == "" {
		c.mu.Unlock()
		return nil, ErrEmptyMessage
	}
	gen, id := c.gen, c.sessionID
	c.sending++
	c.mu.Unlock()

	provisional := c.provisional(Message{Body: text})
	msg, err := c.api.SendMessage(ctx, id, text)
	return c.settle(gen, provisional, msg, err)
}

// SendFile uploads an attachment into the active session.
func (c *Controller) SendFile(ctx context.Context, name string, r io.Reader) (*Message, error) {
	c.mu.Lock()
	if c.state != StateActive || c.closing {
		c.mu.Unlock()
		return nil, ErrInactiveSession
	}
	gen, id := c.gen, c.sessionID
	c.sending++
	c.mu.Unlock()

	provisional := c.provisional(Message{Attachment: &Attachment{Name: name}})
	msg, err := c.api.UploadFile(ctx, id, name, r)
	return c.settle(gen, provisional, msg, err)
}

// provisional renders a not-yet-confirmed visitor message.
func (c *Controller) provisional(msg Message) Message {
	msg.Sender = SenderUser
	msg.CreatedAt = Timestamp{Time: time.Now()}
	msg.ProvisionalID = ulid.Make().String()
	c.observer.OnMessage(msg)
	return msg
}

// settle confirms or rolls back a provisional message.
func (c *Controller) settle(gen uint64, provisional Message, msg *Message, err error) (*Message, error) {
	if err != nil {
		c.mu.Lock()
		c.sending--
		flush := c.releaseHeldLocked()
		c.mu.Unlock()

		metrics.MessagesSent.WithLabelValues("failed").Inc()
		c.logger.Warn().Err(err).Str("provisional_id", provisional.ProvisionalID).Msg("message not delivered")
		c.observer.OnMessageFailed(provisional.ProvisionalID, err)
		dispatch(flush)
		return nil, err
	}

	if msg.Sender == "" {
		msg.Sender = SenderUser
	}
	if msg.Body == "" && msg.Attachment == nil {
		msg.Body = provisional.Body
	}
	msg.ProvisionalID = provisional.ProvisionalID

	c.mu.Lock()
	c.sending--
	if gen != c.gen {
		flush := c.releaseHeldLocked()
		c.mu.Unlock()
		c.logger.Debug().Str("provisional_id", provisional.ProvisionalID).Msg("discarding send response for ended session")
		dispatch(flush)
		return msg, nil
	}
	if _, echoed := c.held[msg.ID]; echoed {
		delete(c.held, msg.ID)
	} else if msg.ID > c.lastMessageID {
		c.confirmed[msg.ID] = struct{}{}
	}
	flush := c.releaseHeldLocked()
	c.mu.Unlock()

	metrics.MessagesSent.WithLabelValues("confirmed").Inc()
	c.observer.OnMessageConfirmed(provisional.ProvisionalID, *msg)
	dispatch(flush)
	return msg, nil
}

// releaseHeldLocked renders the held visitor messages no send claimed, once
// nothing is in flight.
func (c *Controller) releaseHeldLocked() []func() {
	if c.sending > 0 || len(c.held) == 0 {
		return nil
	}
	msgs := make([]Message, 0, len(c.held))
	for _, m := range c.held {
		msgs = append(msgs, m)
	}
	c.held = make(map[MessageID]Message)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })

	events := make([]func(), 0, len(msgs))
	for _, m := range msgs {
		msg := m
		metrics.MessagesReceived.Inc()
		events = append(events, func() { c.observer.OnMessage(msg) })
	}
	return events
}

// Cancel withdraws a pending chat request and returns to idle, whatever the
// server answers.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	if c.state != StatePending {
		c.mu.Unlock()
		return ErrNotPending
	}
	id, gen := c.beginCloseLocked()
	c.mu.Unlock()

	c.closeRemote(ctx, id, gen)

	var events []func()
	c.mu.Lock()
	c.closing = false
	c.resetLocked(&events)
	c.mu.Unlock()
	dispatch(events)
	return nil
}

// End closes the active chat. Local teardown does not wait on the server's
// verdict.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrInactiveSession
	}
	id, gen := c.beginCloseLocked()
	c.mu.Unlock()

	c.closeRemote(ctx, id, gen)

	var events []func()
	c.mu.Lock()
	c.closing = false
	c.setStateLocked(StateClosed, &events)
	c.mu.Unlock()
	dispatch(events)
	return nil
}

func (c *Controller) beginCloseLocked() (SessionID, uint64) {
	c.closing = true
	c.gen++
	c.poller.Stop()
	return c.sessionID, c.gen
}

func (c *Controller) closeRemote(ctx context.Context, id SessionID, gen uint64) {
	if err := c.api.CloseSession(ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("session_id", string(id)).Msg("close request failed; tearing down locally")
	}
	c.purge(ctx, gen)
}

// persist saves rec unless the session moved past gen.
func (c *Controller) persist(ctx context.Context, gen uint64, rec Record) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	if !c.current(gen) {
		c.logger.Debug().Str("session_id", string(rec.SessionID)).Msg("skipping record save for ended session")
		return
	}
	c.store.Save(ctx, rec)
}

// purge clears the record unless a newer session has replaced it.
func (c *Controller) purge(ctx context.Context, gen uint64) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	if !c.current(gen) {
		return
	}
	c.store.Clear(ctx)
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// Stop halts polling without ending the session. The local record is kept,
// so a later Start, in this process or the next, resumes it.
func (c *Controller) Stop() {
	c.poller.Stop()
}

// Suspend pauses polling of an active session, e.g. while the UI is hidden.
func (c *Controller) Suspend() {
	if c.State() == StateActive {
		c.poller.Suspend()
	}
}

// Resume restarts polling paused by Suspend.
func (c *Controller) Resume() {
	if c.State() == StateActive {
		c.poller.Resume()
	}
}

// AgentOnline reports whether an agent can take a chat.
func (c *Controller) AgentOnline(ctx context.Context) (bool, error) {
	return c.api.AgentOnline(ctx)
}

// SetTyping tells the agent whether the visitor is typing. Repeating the same
// value within the throttle window is not re-sent.
func (c *Controller) SetTyping(ctx context.Context, typing bool) error {
	c.mu.Lock()
	if c.state != StateActive || c.closing {
		c.mu.Unlock()
		return ErrInactiveSession
	}
	if c.typingSent && c.typingValue == typing && time.Since(c.typingAt) < c.throttle {
		c.mu.Unlock()
		return nil
	}
	c.typingSent, c.typingValue, c.typingAt = true, typing, time.Now()
	id := c.sessionID
	c.mu.Unlock()

	return c.api.SetTyping(ctx, id, typing)
}

// MarkRead marks the agent's messages as read.
func (c *Controller) MarkRead(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive || c.closing {
		c.mu.Unlock()
		return ErrInactiveSession
	}
	id := c.sessionID
	c.mu.Unlock()

	return c.api.MarkRead(ctx, id)
}

// pollOnce is the poller's PollFunc.
func (c *Controller) pollOnce(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.polling() || c.closing {
		c.mu.Unlock()
		return nil
	}
	gen, id, last := c.gen, c.sessionID, c.lastMessageID
	c.mu.Unlock()

	resp, err := c.api.Poll(ctx, id, last)
	if err != nil {
		return err
	}
	c.apply(context.WithoutCancel(ctx), gen, resp)
	return nil
}

// apply folds a poll response into the session.
func (c *Controller) apply(ctx context.Context, gen uint64, resp *PollResponse) {
	var events []func()

	c.mu.Lock()
	if gen != c.gen || !c.state.polling() {
		c.mu.Unlock()
		c.logger.Debug().Msg("discarding stale poll response")
		return
	}

	next, known := stateFor(resp.SessionStatus)
	changed := known && next != c.state
	terminal := changed && resp.SessionStatus.Terminal()
	if changed && !terminal {
		c.setStateLocked(next, &events)
	}

	msgs := make([]Message, len(resp.NewMessages))
	copy(msgs, resp.NewMessages)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })

	advanced := false
	for _, m := range msgs {
		if m.ID <= c.lastMessageID {
			continue
		}
		c.lastMessageID = m.ID
		advanced = true
		if _, seen := c.confirmed[m.ID]; seen {
			continue
		}
		if m.Sender == SenderUser && c.sending > 0 {
			// Possibly the echo of a send still awaiting its response.
			c.held[m.ID] = m
			continue
		}
		msg := m
		metrics.MessagesReceived.Inc()
		events = append(events, func() { c.observer.OnMessage(msg) })
	}
	for id := range c.confirmed {
		if id <= c.lastMessageID {
			delete(c.confirmed, id)
		}
	}

	typing := resp.AgentTyping
	events = append(events, func() { c.observer.OnTyping(typing) })

	if terminal {
		c.gen++
		c.held = make(map[MessageID]Message)
		c.setStateLocked(next, &events)
	}
	rec, saveGen := c.recordLocked(), c.gen
	c.mu.Unlock()

	switch {
	case terminal:
		c.poller.Stop()
		c.purge(ctx, saveGen)
	case changed || advanced:
		c.persist(ctx, saveGen, rec)
	}
	dispatch(events)
}

func (c *Controller) adoptLocked(id SessionID, last MessageID) {
	c.gen++
	c.sessionID = id
	c.lastMessageID = last
	c.confirmed = make(map[MessageID]struct{})
	c.held = make(map[MessageID]Message)
	c.typingSent = false
}

func (c *Controller) resetLocked(events *[]func()) {
	c.gen++
	c.sessionID = ""
	c.lastMessageID = 0
	c.confirmed = make(map[MessageID]struct{})
	c.held = make(map[MessageID]Message)
	c.typingSent = false
	c.setStateLocked(StateIdle, events)
}

func (c *Controller) setStateLocked(to State, events *[]func()) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	c.logger.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("session_id", string(c.sessionID)).
		Msg("session state changed")
	*events = append(*events, func() { c.observer.OnStateChange(from, to) })
}

func (c *Controller) recordLocked() Record {
	return Record{
		SessionID:     c.sessionID,
		Status:        Status(c.state),
		LastMessageID: c.lastMessageID,
	}
}

func dispatch(events []func()) {
	for _, fn := range events {
		fn()
	}
}
