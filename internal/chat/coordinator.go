package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// View is the surrounding screen the coordinator drives.
type View interface {
	// ReturnToNeutral leaves a conversation that no longer exists.
	ReturnToNeutral()
	// Warn surfaces a non-fatal problem, such as a failed save.
	Warn(err error)
}

// Coordinator mediates between the controller and the projector. Apart from
// the refresh counter it holds no state of its own.
type Coordinator struct {
	ctrl   *Controller
	proj   *Projector
	view   View
	logger *slog.Logger

	refreshes atomic.Uint64
}

func NewCoordinator(ctrl *Controller, proj *Projector, view View, logger *slog.Logger) (*Coordinator, error) {
	if kind := ctrl.Handle().Kind; kind != proj.Kind() {
		return nil, fmt.Errorf("%w: controller holds %s chats, list shows %s", ErrInvalid, kind, proj.Kind())
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		ctrl:   ctrl,
		proj:   proj,
		view:   view,
		logger: logger.With("component", "coordinator"),
	}
	ctrl.SetObserver(c)
	proj.SetObserver(c)
	return c, nil
}

func (c *Coordinator) Controller() *Controller { return c.ctrl }
func (c *Coordinator) Projector() *Projector   { return c.proj }

// RefreshCount is the number of list refreshes triggered by new sessions.
func (c *Coordinator) RefreshCount() uint64 {
	return c.refreshes.Load()
}

func (c *Coordinator) SessionCreated(ctx context.Context, kind Kind, id string, current bool) {
	if kind != c.proj.Kind() {
		return
	}
	c.refreshes.Add(1)
	if err := c.proj.Reload(ctx); err != nil {
		c.view.Warn(err)
	}
	if current {
		c.proj.SetActive(id)
	}
}

func (c *Coordinator) PersistFailed(h Handle, err error) {
	c.view.Warn(fmt.Errorf("chat not saved: %w", err))
}

func (c *Coordinator) SessionVanished(_ context.Context, id string) {
	c.logger.Info("chat was deleted elsewhere", "chat_id", id)
	c.proj.Forget(id)
	if c.ctrl.Invalidate(id) {
		c.view.ReturnToNeutral()
	}
}

func (c *Coordinator) SessionDeleted(_ context.Context, id string) {
	if c.ctrl.Invalidate(id) {
		c.view.ReturnToNeutral()
	}
}

// NewChat starts an unsaved conversation and clears the highlight.
func (c *Coordinator) NewChat() {
	if err := c.ctrl.StartNew(c.proj.Kind()); err != nil {
		c.logger.Error("failed to start chat", "error", err)
		return
	}
	c.proj.SetActive("")
}

// Select hands the chosen session from the list to the controller. A
// listed session that turns out to be gone is dropped like a deleted one.
func (c *Coordinator) Select(ctx context.Context, id string) error {
	_, listed := c.proj.find(id)
	summary, err := c.proj.Select(ctx, id)
	if err == nil {
		err = c.ctrl.Load(ctx, summary)
	}
	if listed && errors.Is(err, ErrNotFound) {
		c.SessionVanished(ctx, id)
		return err
	}
	if err != nil {
		return err
	}
	c.proj.SetActive(id)
	return nil
}

func (c *Coordinator) Delete(ctx context.Context, id string) error {
	return c.proj.Delete(ctx, id)
}

func (c *Coordinator) Submit(ctx context.Context, text string) (*TurnResult, error) {
	return c.ctrl.SubmitTurn(ctx, text)
}

func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.proj.Refresh(ctx)
}
