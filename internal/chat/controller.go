package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// Options tunes a Controller or Projector. Zero values pick defaults.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
	// AllowAfterComplete lets an investors conversation keep accepting turns
	// after matches were found.
	AllowAfterComplete bool
	NewCorrelation     func() string
	NewEngineSession   func() string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewCorrelation == nil {
		o.NewCorrelation = uuid.NewString
	}
	if o.NewEngineSession == nil {
		o.NewEngineSession = shortuuid.New
	}
	return o
}

// TurnResult describes a turn that was applied to the open conversation.
type TurnResult struct {
	Reply Message
	State State
	// EngineErr is set when Reply is the synthetic apology.
	EngineErr error
	// PersistErr is set when the durable copy could not be written. The
	// in-memory conversation is kept either way.
	PersistErr error
}

// Controller owns the open conversation. Its lock is never held across a
// network call; every call captures the handle first and checks on return
// whether the conversation was replaced in the meantime.
type Controller struct {
	records RecordStore
	engine  Engine
	opts    Options
	logger  *slog.Logger

	// slot serializes persistence writes.
	slot chan struct{}

	mu        sync.Mutex
	observer  Observer
	handle    Handle
	state     State
	complete  bool
	messages  []Message
	metadata  Metadata
	title     string
	createdAt time.Time
	updatedAt time.Time
	track     *track
	loading   string
	seq       uint64
	applied   map[string]uint64
	deleted   map[string]bool
}

// track is the persistence bookkeeping of one conversation attempt. It
// outlives the attempt so queued writes of an abandoned conversation still
// land on the right record.
type track struct {
	correlation string
	kind        Kind
	id          string
	applied     uint64
}

func NewController(kind Kind, records RecordStore, engine Engine, opts Options) (*Controller, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown chat kind %q", ErrInvalid, kind)
	}
	opts = opts.withDefaults()
	c := &Controller{
		records: records,
		engine:  engine,
		opts:    opts,
		logger:  opts.Logger.With("component", "controller"),
		slot:    make(chan struct{}, 1),
		applied: make(map[string]uint64),
		deleted: make(map[string]bool),
	}
	c.resetLocked(kind)
	return c, nil
}

func (c *Controller) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// StartNew abandons the open conversation and starts an unsaved one.
func (c *Controller) StartNew(kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown chat kind %q", ErrInvalid, kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(kind)
	return nil
}

func (c *Controller) resetLocked(kind Kind) {
	correlation := c.opts.NewCorrelation()
	c.handle = Handle{
		Kind:          kind,
		Correlation:   correlation,
		EngineSession: c.opts.NewEngineSession(),
	}
	c.state = StateEmpty
	c.complete = false
	c.messages = []Message{{Role: RoleAI, Content: kind.Greeting()}}
	c.metadata = Metadata{}
	c.title = ""
	c.createdAt = time.Time{}
	c.updatedAt = time.Time{}
	c.track = &track{correlation: correlation, kind: kind}
	c.loading = ""
}

// Load replaces the open conversation with a stored one, fetching the
// message log when the summary lacks it.
func (c *Controller) Load(ctx context.Context, summary Summary) error {
	if summary.ID == "" {
		return fmt.Errorf("%w: summary has no id", ErrInvalid)
	}
	if !summary.Kind.Valid() {
		return fmt.Errorf("%w: unknown chat kind %q", ErrInvalid, summary.Kind)
	}

	c.mu.Lock()
	token := c.opts.NewCorrelation()
	c.loading = token
	c.mu.Unlock()

	session := &Session{
		ID:           summary.ID,
		Kind:         summary.Kind,
		Messages:     summary.Messages,
		Metadata:     summary.Metadata,
		Title:        summary.Title,
		MessageCount: summary.MessageCount,
		UpdatedAt:    summary.UpdatedAt,
	}
	if !summary.Full() {
		full, err := c.records.Get(ctx, summary.ID)
		if err != nil {
			c.mu.Lock()
			if c.loading == token {
				c.loading = ""
			}
			c.mu.Unlock()
			return fmt.Errorf("load chat %s: %w", summary.ID, err)
		}
		session = full
		if !session.Kind.Valid() {
			session.Kind = summary.Kind
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading != token {
		c.logger.Debug("discarding superseded load", "chat_id", summary.ID)
		return ErrStale
	}
	c.loading = ""
	if c.deleted[session.ID] {
		return fmt.Errorf("load chat %s: %w", session.ID, ErrNotFound)
	}

	c.handle = Handle{
		ID:            session.ID,
		Kind:          session.Kind,
		Correlation:   token,
		EngineSession: c.opts.NewEngineSession(),
	}
	c.messages = append([]Message{}, session.Messages...)
	c.metadata = session.Metadata.Clone()
	c.complete = session.Kind == KindInvestors && c.metadata.HasMatches()
	c.state = StateIdle
	if c.complete {
		c.state = StateComplete
	}
	c.title = session.Title
	c.createdAt = session.CreatedAt
	c.updatedAt = session.UpdatedAt
	c.track = &track{correlation: token, kind: session.Kind, id: session.ID}
	return nil
}

// SubmitTurn sends text to the assistant engine, appends both sides of the
// exchange and persists the whole session.
func (c *Controller) SubmitTurn(ctx context.Context, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalid)
	}

	c.mu.Lock()
	switch {
	case c.state == StateAwaitingReply:
		c.mu.Unlock()
		return nil, ErrBusy
	case c.state == StateComplete && !c.opts.AllowAfterComplete:
		c.mu.Unlock()
		return nil, ErrComplete
	}
	h := c.handle
	before := append([]Message(nil), c.messages...)
	question := Message{Role: RoleUser, Content: text}
	c.messages = append(c.messages, question)
	c.state = StateAwaitingReply
	c.mu.Unlock()

	reply, engineErr := c.engine.Reply(ctx, h.Kind, h.EngineSession, text)

	c.mu.Lock()
	if c.handle.Correlation != h.Correlation {
		if !c.adoptLocked(h, before) {
			c.mu.Unlock()
			c.logger.Info("discarding reply for replaced conversation", "correlation", h.Correlation)
			return nil, ErrStale
		}
		c.logger.Info("applying reply to reloaded copy of the same chat", "chat_id", h.ID)
		c.messages = append(c.messages, question)
	}

	var answer Message
	if engineErr != nil {
		c.logger.Warn("assistant engine call failed", "kind", h.Kind, "error", engineErr)
		answer = Message{Role: RoleAI, Content: apologyMessage}
	} else {
		answer = Message{Role: RoleAI, Content: reply.Content}
		c.metadata = c.metadata.Merge(reply.Metadata)
		if h.Kind == KindInvestors && (reply.Complete || c.metadata.HasMatches()) {
			c.complete = true
		}
	}
	c.messages = append(c.messages, answer)
	c.state = StateIdle
	if c.complete {
		c.state = StateComplete
	}

	c.seq++
	seq := c.seq
	t := c.track
	messages := append([]Message(nil), c.messages...)
	metadata := c.metadata.Clone()
	state := c.state
	c.mu.Unlock()

	persistErr := c.persist(ctx, t, seq, messages, metadata)
	return &TurnResult{
		Reply:      answer,
		State:      state,
		EngineErr:  engineErr,
		PersistErr: persistErr,
	}, nil
}

// adoptLocked reports whether a reply started under h can still be applied
// after the conversation was replaced: the open conversation must be a
// reload of the same saved session whose log still equals the one the turn
// was submitted against.
func (c *Controller) adoptLocked(h Handle, before []Message) bool {
	if h.ID == "" || c.handle.ID != h.ID || c.deleted[h.ID] {
		return false
	}
	if c.state == StateAwaitingReply || (c.state == StateComplete && !c.opts.AllowAfterComplete) {
		return false
	}
	if len(c.messages) != len(before) {
		return false
	}
	for i := range before {
		if c.messages[i] != before[i] {
			return false
		}
	}
	return true
}

// Invalidate resets the controller when id is the open session and drops any
// queued writes for it. It reports whether the open session was reset.
func (c *Controller) Invalidate(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted[id] = true
	if c.handle.ID != id {
		return false
	}
	c.resetLocked(c.handle.Kind)
	return true
}

func (c *Controller) Handle() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the open conversation.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Session{
		ID:           c.handle.ID,
		Kind:         c.handle.Kind,
		Messages:     append([]Message(nil), c.messages...),
		Metadata:     c.metadata.Clone(),
		Title:        c.title,
		MessageCount: len(c.messages),
		CreatedAt:    c.createdAt,
		UpdatedAt:    c.updatedAt,
	}
}
