package chat

import (
	"context"
	"errors"
	"fmt"
)

// persist writes one snapshot of t. Writes are ordered by submission: they
// queue on the slot, and a write whose sequence number is not above the
// highest one already applied to the same record is acknowledged without a
// network call because a later snapshot already covers it.
func (c *Controller) persist(ctx context.Context, t *track, seq uint64, messages []Message, metadata Metadata) error {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
	defer func() { <-c.slot }()

	c.mu.Lock()
	id := t.id
	if c.superseded(t, id, seq) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var err error
	created := false
	if id == "" {
		id, err = c.records.Create(ctx, t.kind, messages, metadata)
		created = err == nil
	} else {
		err = c.records.Update(ctx, id, messages, metadata)
	}

	c.mu.Lock()
	current := c.track == t
	h := c.handle
	observer := c.observer
	if err != nil {
		c.mu.Unlock()
		return c.persistFailed(ctx, observer, h, t, id, current, err)
	}

	if created {
		t.id = id
	}
	if seq > t.applied {
		t.applied = seq
	}
	if seq > c.applied[id] {
		c.applied[id] = seq
	}
	// Bookkeeping follows the record, not the attempt: a reloaded copy of
	// the same session still learns about the write.
	if current || id == c.handle.ID {
		now := c.opts.Now()
		if created && current {
			c.handle.ID = id
			c.createdAt = now
		}
		c.updatedAt = now
	}
	c.mu.Unlock()

	if created {
		if !current {
			c.logger.Info("created chat for replaced conversation, not attaching id", "chat_id", id)
		}
		if observer != nil {
			observer.SessionCreated(ctx, t.kind, id, current)
		}
	}
	return nil
}

// superseded must be called with c.mu held.
func (c *Controller) superseded(t *track, id string, seq uint64) bool {
	if id != "" && c.deleted[id] {
		return true
	}
	if seq <= t.applied {
		return true
	}
	return id != "" && seq <= c.applied[id]
}

func (c *Controller) persistFailed(ctx context.Context, observer Observer, h Handle, t *track, id string, current bool, err error) error {
	c.logger.Warn("failed to persist chat", "chat_id", id, "kind", t.kind, "error", err)

	if errors.Is(err, ErrNotFound) && id != "" {
		c.mu.Lock()
		c.deleted[id] = true
		c.mu.Unlock()
		if current && observer != nil {
			observer.SessionVanished(ctx, id)
		}
		return err
	}
	if current && observer != nil {
		observer.PersistFailed(h, err)
	}
	return err
}
