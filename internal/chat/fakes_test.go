package chat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type fakeRecords struct {
	mu      sync.Mutex
	nextID  int
	now     time.Time
	chats   map[string]*Session
	order   []string
	stale   map[string]*Session // listed even after delete, like a lagging replica
	creates int
	updates int
	gets    int
	lists   int
	deletes int

	createErr error
	updateErr error
	getErr    error
	listErr   error

	// hooks run outside the lock before the call is applied
	beforeCreate func(n int)
	beforeUpdate func(n int)
	// afterList runs outside the lock once the listing is taken, like a
	// slow response.
	afterList func(ctx context.Context, n int)
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		now:   time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
		chats: make(map[string]*Session),
		stale: make(map[string]*Session),
	}
}

func (f *fakeRecords) Create(_ context.Context, kind Kind, messages []Message, metadata Metadata) (string, error) {
	f.mu.Lock()
	f.creates++
	n := f.creates
	hook := f.beforeCreate
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("chat-%d", f.nextID)
	f.chats[id] = &Session{
		ID:           id,
		Kind:         kind,
		Messages:     append([]Message(nil), messages...),
		Metadata:     metadata.Clone(),
		MessageCount: len(messages),
		CreatedAt:    f.now,
		UpdatedAt:    f.now,
		Title:        "chat " + id,
	}
	f.order = append([]string{id}, f.order...)
	return id, nil
}

func (f *fakeRecords) Update(_ context.Context, id string, messages []Message, metadata Metadata) error {
	f.mu.Lock()
	f.updates++
	n := f.updates
	hook := f.beforeUpdate
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	s, ok := f.chats[id]
	if !ok {
		return ErrNotFound
	}
	s.Messages = append([]Message(nil), messages...)
	s.Metadata = metadata.Clone()
	s.MessageCount = len(messages)
	return nil
}

func (f *fakeRecords) Get(_ context.Context, id string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	cp.Metadata = s.Metadata.Clone()
	return &cp, nil
}

func (f *fakeRecords) List(ctx context.Context, _ Kind) ([]Summary, error) {
	out, n, err := f.listing()
	f.mu.Lock()
	hook := f.afterList
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, n)
	}
	return out, err
}

func (f *fakeRecords) listing() ([]Summary, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.lists, f.listErr
	}
	out := []Summary{}
	for _, id := range f.order {
		s, ok := f.chats[id]
		if !ok {
			s, ok = f.stale[id]
		}
		if !ok {
			continue
		}
		out = append(out, Summary{
			ID:           s.ID,
			Kind:         s.Kind,
			Title:        s.Title,
			MessageCount: s.MessageCount,
			UpdatedAt:    s.UpdatedAt,
		})
	}
	return out, f.lists, nil
}

func (f *fakeRecords) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chats, id)
}

func (f *fakeRecords) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.chats, id)
	return nil
}

func (f *fakeRecords) put(s *Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[s.ID] = s
	f.order = append(f.order, s.ID)
}

func (f *fakeRecords) stored(id string) *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chats[id]
}

func (f *fakeRecords) counts() (creates, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.updates
}

type engineCall struct {
	kind    Kind
	session string
	message string
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []engineCall
	reply func(call engineCall) (*Reply, error)
}

func (f *fakeEngine) Reply(_ context.Context, kind Kind, session, message string) (*Reply, error) {
	call := engineCall{kind: kind, session: session, message: message}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	fn := f.reply
	f.mu.Unlock()
	if fn == nil {
		return &Reply{Content: "echo: " + message}, nil
	}
	return fn(call)
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeObserver struct {
	mu       sync.Mutex
	created  []string
	stale    []string
	failures []error
	vanished []string
	onVanish func(id string)
}

func (o *fakeObserver) SessionCreated(_ context.Context, _ Kind, id string, current bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if current {
		o.created = append(o.created, id)
	} else {
		o.stale = append(o.stale, id)
	}
}

func (o *fakeObserver) PersistFailed(_ Handle, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, err)
}

func (o *fakeObserver) SessionVanished(_ context.Context, id string) {
	o.mu.Lock()
	o.vanished = append(o.vanished, id)
	fn := o.onVanish
	o.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

type fakeView struct {
	mu       sync.Mutex
	neutral  int
	warnings []error
}

func (v *fakeView) ReturnToNeutral() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.neutral++
}

func (v *fakeView) Warn(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.warnings = append(v.warnings, err)
}

func (v *fakeView) neutralCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.neutral
}

func rawJSON(s string) []byte {
	return []byte(s)
}
