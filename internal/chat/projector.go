package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Projector is the session list of one kind. It never touches message
// content, only summaries.
type Projector struct {
	kind    Kind
	records RecordStore
	logger  *slog.Logger
	now     func() time.Time
	flight  singleflight.Group

	mu       sync.RWMutex
	observer ListObserver
	items    []Summary
	active   string
	loaded   bool
	// started numbers list requests, shown is the newest one applied.
	started uint64
	shown   uint64
	// tombstones hides deleted ids from refreshes that raced the delete.
	tombstones map[string]struct{}
}

func NewProjector(kind Kind, records RecordStore, opts Options) (*Projector, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown chat kind %q", ErrInvalid, kind)
	}
	opts = opts.withDefaults()
	return &Projector{
		kind:       kind,
		records:    records,
		logger:     opts.Logger.With("component", "projector", "kind", kind),
		now:        opts.Now,
		tombstones: make(map[string]struct{}),
	}, nil
}

func (p *Projector) Kind() Kind {
	return p.kind
}

func (p *Projector) SetObserver(o ListObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = o
}

const listKey = "list"

type listing struct {
	items []Summary
	gen   uint64
}

// Refresh replaces the local list with the server's. Concurrent calls share
// one request; a caller that gives up does not cancel it for the others.
func (p *Projector) Refresh(ctx context.Context) error {
	return p.refresh(ctx, false)
}

// Reload is Refresh with a request issued after the call, so the list
// reflects every write that completed before it.
func (p *Projector) Reload(ctx context.Context) error {
	return p.refresh(ctx, true)
}

func (p *Projector) refresh(ctx context.Context, fresh bool) error {
	if fresh {
		p.flight.Forget(listKey)
	}
	listCtx := context.WithoutCancel(ctx)
	ch := p.flight.DoChan(listKey, func() (any, error) {
		p.mu.Lock()
		p.started++
		gen := p.started
		p.mu.Unlock()
		items, err := p.records.List(listCtx, p.kind)
		return listing{items: items, gen: gen}, err
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return fmt.Errorf("refresh %s chats: %w: %w", p.kind, ErrUnavailable, ctx.Err())
	}
	if res.Err != nil {
		p.logger.Warn("failed to list chats", "error", res.Err)
		return fmt.Errorf("refresh %s chats: %w", p.kind, res.Err)
	}
	fetched := res.Val.(listing)

	p.mu.Lock()
	defer p.mu.Unlock()
	// A listing that started before the one already shown is older.
	if fetched.gen < p.shown {
		p.logger.Debug("dropping outdated chat list", "generation", fetched.gen, "shown", p.shown)
		return nil
	}
	p.shown = fetched.gen
	items := make([]Summary, 0, len(fetched.items))
	for _, s := range fetched.items {
		if s.Kind != p.kind {
			continue
		}
		if _, gone := p.tombstones[s.ID]; gone {
			continue
		}
		items = append(items, s)
	}
	p.items = items
	p.loaded = true
	return nil
}

// Loaded reports whether at least one refresh succeeded.
func (p *Projector) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loaded
}

func (p *Projector) Items() []Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Summary(nil), p.items...)
}

// Groups buckets the current list by recency relative to now.
func (p *Projector) Groups(now time.Time) []Group {
	return GroupByRecency(p.Items(), now)
}

// Delete removes the session server-side and then locally, without a
// refresh. Observers learn about every successful delete so they can reset
// the open conversation when it was the one deleted.
func (p *Projector) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty chat id", ErrInvalid)
	}
	if err := p.records.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete chat %s: %w", id, err)
	}

	p.mu.Lock()
	p.forgetLocked(id)
	observer := p.observer
	p.mu.Unlock()

	if observer != nil {
		observer.SessionDeleted(ctx, id)
	}
	return nil
}

// Forget drops id from the list without a network call.
func (p *Projector) Forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgetLocked(id)
}

func (p *Projector) forgetLocked(id string) {
	p.tombstones[id] = struct{}{}
	for i, s := range p.items {
		if s.ID == id {
			p.items = append(p.items[:i:i], p.items[i+1:]...)
			break
		}
	}
	if p.active == id {
		p.active = ""
	}
}

// Select returns the summary for id with its full message log. When the
// full record cannot be fetched the list summary is returned as is, unless
// the record is gone.
func (p *Projector) Select(ctx context.Context, id string) (Summary, error) {
	summary, ok := p.find(id)
	if !ok {
		return Summary{}, fmt.Errorf("select chat %s: %w", id, ErrNotFound)
	}
	if summary.Full() {
		return summary, nil
	}

	full, err := p.records.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		p.Forget(id)
		return Summary{}, fmt.Errorf("select chat %s: %w", id, err)
	case err != nil:
		p.logger.Warn("failed to fetch full chat, using summary", "chat_id", id, "error", err)
		return summary, nil
	}
	if full.Kind != p.kind {
		return Summary{}, fmt.Errorf("%w: chat %s is %s, not %s", ErrInvalid, id, full.Kind, p.kind)
	}
	return SummaryOf(full), nil
}

func (p *Projector) find(id string) (Summary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.items {
		if s.ID == id {
			return s, true
		}
	}
	return Summary{}, false
}

// SetActive highlights id; an empty id clears the highlight.
func (p *Projector) SetActive(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = id
}

func (p *Projector) Active() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}
