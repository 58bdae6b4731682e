package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		Logger: slog.New(slog.DiscardHandler),
		Now:    func() time.Time { return testNow },
	}
}

func newTestController(t *testing.T, kind Kind, records RecordStore, engine Engine) (*Controller, *fakeObserver) {
	t.Helper()
	return newTestControllerWith(t, kind, records, engine, testOptions())
}

func newTestControllerWith(t *testing.T, kind Kind, records RecordStore, engine Engine, opts Options) (*Controller, *fakeObserver) {
	t.Helper()
	c, err := NewController(kind, records, engine, opts)
	require.NoError(t, err)
	obs := &fakeObserver{}
	c.SetObserver(obs)
	return c, obs
}

func matchingReply() *Reply {
	md := Metadata{}
	_ = md.Set(KeyMatchedInvestors, []Investor{{Name: "Seedcamp", Sectors: []string{"fintech"}, TicketMin: 100000, TicketMax: 500000}})
	return &Reply{Content: "Here are your matches.", Complete: true, Metadata: md}
}

func TestNewControllerStartsWithGreeting(t *testing.T) {
	c, _ := newTestController(t, KindFinancial, newFakeRecords(), &fakeEngine{})

	snap := c.Snapshot()
	assert.Equal(t, StateEmpty, c.State())
	assert.False(t, c.Handle().Saved())
	assert.NotEmpty(t, c.Handle().Correlation)
	assert.NotEmpty(t, c.Handle().EngineSession)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, Message{Role: RoleAI, Content: financialGreeting}, snap.Messages[0])
}

func TestNewControllerRejectsUnknownKind(t *testing.T) {
	_, err := NewController(Kind("poetry"), newFakeRecords(), &fakeEngine{}, testOptions())
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestInvestorsConversationReachesComplete(t *testing.T) {
	records := newFakeRecords()
	engine := &fakeEngine{}
	engine.reply = func(call engineCall) (*Reply, error) {
		if call.message == "we need 300k" {
			return matchingReply(), nil
		}
		return &Reply{Content: "Tell me more about the raise."}, nil
	}
	c, obs := newTestController(t, KindInvestors, records, engine)
	ctx := context.Background()

	res, err := c.SubmitTurn(ctx, "  fintech for freelancers  ")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, res.State)
	assert.NoError(t, res.PersistErr)
	assert.Equal(t, "fintech for freelancers", engine.calls[0].message)

	h := c.Handle()
	require.True(t, h.Saved())
	assert.Equal(t, []string{h.ID}, obs.created)
	assert.Len(t, records.stored(h.ID).Messages, 3)

	res, err = c.SubmitTurn(ctx, "we need 300k")
	require.NoError(t, err)
	assert.Equal(t, StateComplete, res.State)
	assert.Equal(t, "Here are your matches.", res.Reply.Content)

	stored := records.stored(h.ID)
	require.Len(t, stored.Messages, 5)
	assert.True(t, stored.Metadata.HasMatches())
	creates, updates := records.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)

	_, err = c.SubmitTurn(ctx, "anything else?")
	assert.ErrorIs(t, err, ErrComplete)
	assert.Equal(t, 2, engine.callCount())
	assert.Len(t, c.Snapshot().Messages, 5)
}

func TestCompleteConversationAcceptsTurnsWhenAllowed(t *testing.T) {
	engine := &fakeEngine{reply: func(engineCall) (*Reply, error) { return matchingReply(), nil }}
	opts := testOptions()
	opts.AllowAfterComplete = true
	c, _ := newTestControllerWith(t, KindInvestors, newFakeRecords(), engine, opts)
	ctx := context.Background()

	_, err := c.SubmitTurn(ctx, "first")
	require.NoError(t, err)
	require.Equal(t, StateComplete, c.State())

	res, err := c.SubmitTurn(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, StateComplete, res.State)
	assert.Len(t, c.Snapshot().Messages, 5)
}

func TestFinancialConversationNeverLocks(t *testing.T) {
	engine := &fakeEngine{reply: func(engineCall) (*Reply, error) {
		md := Metadata{}
		_ = md.Set(KeyProjections, []Projection{{Month: 1, Revenue: 5000, TotalExpenses: 8000, Cash: 97000, Customers: 100}})
		return &Reply{Content: "Here is your model.", Complete: true, Metadata: md}, nil
	}}
	c, _ := newTestController(t, KindFinancial, newFakeRecords(), engine)

	res, err := c.SubmitTurn(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, res.State)
	assert.True(t, c.Snapshot().Metadata.HasProjections())
}

func TestSubmitTurnRejectsBlankInput(t *testing.T) {
	engine := &fakeEngine{}
	c, _ := newTestController(t, KindInvestors, newFakeRecords(), engine)

	_, err := c.SubmitTurn(context.Background(), " \n\t ")
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Zero(t, engine.callCount())
	assert.Equal(t, StateEmpty, c.State())
}

func TestSubmitTurnRejectsWhileAwaitingReply(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{reply: func(engineCall) (*Reply, error) {
		<-release
		return &Reply{Content: "ok"}, nil
	}}
	c, _ := newTestController(t, KindInvestors, newFakeRecords(), engine)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitTurn(ctx, "first")
		done <- err
	}()
	require.Eventually(t, func() bool { return c.State() == StateAwaitingReply }, time.Second, time.Millisecond)

	_, err := c.SubmitTurn(ctx, "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, engine.callCount())
}

func TestEngineFailureAppendsApology(t *testing.T) {
	records := newFakeRecords()
	engine := &fakeEngine{reply: func(engineCall) (*Reply, error) {
		return nil, fmt.Errorf("%w: connection refused", ErrUnavailable)
	}}
	c, _ := newTestController(t, KindInvestors, records, engine)

	res, err := c.SubmitTurn(context.Background(), "hello")
	require.NoError(t, err)
	assert.ErrorIs(t, res.EngineErr, ErrUnavailable)
	assert.Equal(t, apologyMessage, res.Reply.Content)
	assert.Equal(t, StateIdle, res.State)

	stored := records.stored(c.Handle().ID)
	require.NotNil(t, stored)
	assert.Equal(t, apologyMessage, stored.Messages[2].Content)
}

func TestMessagesSurvivePersistFailure(t *testing.T) {
	records := newFakeRecords()
	records.createErr = fmt.Errorf("%w: 503", ErrUnavailable)
	c, obs := newTestController(t, KindFinancial, records, &fakeEngine{})
	ctx := context.Background()

	res, err := c.SubmitTurn(ctx, "SaaS")
	require.NoError(t, err)
	assert.ErrorIs(t, res.PersistErr, ErrUnavailable)
	assert.False(t, c.Handle().Saved())
	assert.Len(t, c.Snapshot().Messages, 3)
	require.Len(t, obs.failures, 1)

	records.mu.Lock()
	records.createErr = nil
	records.mu.Unlock()

	res, err = c.SubmitTurn(ctx, "50 per month")
	require.NoError(t, err)
	require.NoError(t, res.PersistErr)
	h := c.Handle()
	require.True(t, h.Saved())
	assert.Len(t, records.stored(h.ID).Messages, 5)
	assert.Equal(t, testNow, c.Snapshot().CreatedAt)
}

func TestReplyForReplacedConversationIsDiscarded(t *testing.T) {
	records := newFakeRecords()
	release := make(chan struct{})
	engine := &fakeEngine{reply: func(engineCall) (*Reply, error) {
		<-release
		return matchingReply(), nil
	}}
	c, _ := newTestController(t, KindInvestors, records, engine)

	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitTurn(context.Background(), "fintech")
		done <- err
	}()
	require.Eventually(t, func() bool { return engine.callCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.StartNew(KindInvestors))
	close(release)

	assert.ErrorIs(t, <-done, ErrStale)
	snap := c.Snapshot()
	assert.Equal(t, StateEmpty, c.State())
	assert.Len(t, snap.Messages, 1)
	assert.Empty(t, snap.Metadata)
	creates, _ := records.counts()
	assert.Zero(t, creates)
}

func TestCreatedIDNotAttachedToReplacedConversation(t *testing.T) {
	records := newFakeRecords()
	started := make(chan struct{})
	release := make(chan struct{})
	records.beforeCreate = func(n int) {
		if n == 1 {
			close(started)
			<-release
		}
	}
	c, obs := newTestController(t, KindFinancial, records, &fakeEngine{})
	ctx := context.Background()

	done := make(chan *TurnResult, 1)
	go func() {
		res, _ := c.SubmitTurn(ctx, "abandoned")
		done <- res
	}()
	<-started
	require.NoError(t, c.StartNew(KindFinancial))
	close(release)

	res := <-done
	require.NotNil(t, res)
	assert.NoError(t, res.PersistErr)
	assert.False(t, c.Handle().Saved())
	assert.Equal(t, []string{"chat-1"}, obs.stale)
	assert.Empty(t, obs.created)
	require.NotNil(t, records.stored("chat-1"))

	_, err := c.SubmitTurn(ctx, "fresh start")
	require.NoError(t, err)
	assert.Equal(t, "chat-2", c.Handle().ID)
	assert.Equal(t, []string{"chat-2"}, obs.created)
	assert.Equal(t, "abandoned", records.stored("chat-1").Messages[1].Content)
}

func TestUpdatesLandInSubmissionOrder(t *testing.T) {
	records := newFakeRecords()
	started := make(chan struct{})
	release := make(chan struct{})
	records.beforeUpdate = func(n int) {
		if n == 1 {
			close(started)
			<-release
		}
	}
	c, _ := newTestController(t, KindFinancial, records, &fakeEngine{})
	ctx := context.Background()

	_, err := c.SubmitTurn(ctx, "SaaS")
	require.NoError(t, err)
	id := c.Handle().ID

	first := make(chan *TurnResult, 1)
	go func() {
		res, _ := c.SubmitTurn(ctx, "price is 50")
		first <- res
	}()
	<-started

	second := make(chan *TurnResult, 1)
	go func() {
		res, _ := c.SubmitTurn(ctx, "100 customers")
		second <- res
	}()
	require.Eventually(t, func() bool { return len(c.Snapshot().Messages) == 7 }, time.Second, time.Millisecond)
	close(release)

	r1, r2 := <-first, <-second
	require.NotNil(t, r1)
	require.NotNil(t, r2)
	assert.NoError(t, r1.PersistErr)
	assert.NoError(t, r2.PersistErr)

	assert.Equal(t, c.Snapshot().Messages, records.stored(id).Messages)
	_, updates := records.counts()
	assert.Equal(t, 2, updates)
}

func TestSupersededWriteIsAcknowledgedWithoutNetworkCall(t *testing.T) {
	records := newFakeRecords()
	c, _ := newTestController(t, KindFinancial, records, &fakeEngine{})
	ctx := context.Background()

	_, err := c.SubmitTurn(ctx, "one")
	require.NoError(t, err)
	_, err = c.SubmitTurn(ctx, "two")
	require.NoError(t, err)
	id := c.Handle().ID

	c.mu.Lock()
	tr := c.track
	c.mu.Unlock()
	old := []Message{{Role: RoleAI, Content: financialGreeting}}

	require.NoError(t, c.persist(ctx, tr, 1, old, Metadata{}))
	_, updates := records.counts()
	assert.Equal(t, 1, updates)
	assert.Len(t, records.stored(id).Messages, 5)
}

func TestUpdateOfVanishedSessionNotifiesObserver(t *testing.T) {
	records := newFakeRecords()
	records.put(&Session{
		ID:       "gone",
		Kind:     KindFinancial,
		Messages: []Message{{Role: RoleAI, Content: financialGreeting}},
		Metadata: Metadata{},
	})
	c, obs := newTestController(t, KindFinancial, records, &fakeEngine{})
	ctx := context.Background()
	require.NoError(t, c.Load(ctx, Summary{ID: "gone", Kind: KindFinancial}))

	records.mu.Lock()
	delete(records.chats, "gone")
	records.mu.Unlock()

	res, err := c.SubmitTurn(ctx, "still there?")
	require.NoError(t, err)
	assert.ErrorIs(t, res.PersistErr, ErrNotFound)
	assert.Equal(t, []string{"gone"}, obs.vanished)

	_, err = c.SubmitTurn(ctx, "hello?")
	require.NoError(t, err)
	_, updates := records.counts()
	assert.Equal(t, 1, updates)
}

func TestLoadFetchesFullRecord(t *testing.T) {
	records := newFakeRecords()
	md := Metadata{KeyMatchedInvestors: rawJSON(`[{"name":"Seedcamp","sectors":["fintech"],"ticket_min":1,"ticket_max":2}]`)}
	records.put(&Session{
		ID:   "inv-1",
		Kind: KindInvestors,
		Messages: []Message{
			{Role: RoleAI, Content: investorsGreeting},
			{Role: RoleUser, Content: "fintech"},
			{Role: RoleAI, Content: "Here are your matches."},
		},
		Metadata:  md,
		Title:     "fintech",
		UpdatedAt: testNow.Add(-time.Hour),
	})
	c, _ := newTestController(t, KindInvestors, records, &fakeEngine{})
	before := c.Handle()

	require.NoError(t, c.Load(context.Background(), Summary{ID: "inv-1", Kind: KindInvestors, MessageCount: 3}))

	h := c.Handle()
	assert.Equal(t, "inv-1", h.ID)
	assert.NotEqual(t, before.Correlation, h.Correlation)
	assert.NotEqual(t, before.EngineSession, h.EngineSession)
	assert.Equal(t, StateComplete, c.State())
	snap := c.Snapshot()
	assert.Len(t, snap.Messages, 3)
	assert.Equal(t, "fintech", snap.Title)
	assert.Equal(t, string(md[KeyMatchedInvestors]), string(snap.Metadata[KeyMatchedInvestors]))
	assert.Equal(t, 1, records.gets)
}

func TestLoadUsesFullSummaryWithoutFetching(t *testing.T) {
	records := newFakeRecords()
	c, _ := newTestController(t, KindFinancial, records, &fakeEngine{})
	ctx := context.Background()

	summary := Summary{
		ID:   "fin-1",
		Kind: KindFinancial,
		Messages: []Message{
			{Role: RoleAI, Content: financialGreeting},
			{Role: RoleUser, Content: "marketplace"},
		},
	}
	require.NoError(t, c.Load(ctx, summary))
	assert.Zero(t, records.gets)
	assert.Equal(t, StateIdle, c.State())

	records.put(&Session{ID: "fin-1", Kind: KindFinancial, Messages: summary.Messages, Metadata: Metadata{}})
	_, err := c.SubmitTurn(ctx, "take rate 10%")
	require.NoError(t, err)
	creates, updates := records.counts()
	assert.Zero(t, creates)
	assert.Equal(t, 1, updates)
	assert.Len(t, records.stored("fin-1").Messages, 4)
}

func TestLoadFailureKeepsOpenConversation(t *testing.T) {
	records := newFakeRecords()
	c, _ := newTestController(t, KindInvestors, records, &fakeEngine{})
	before := c.Handle()

	err := c.Load(context.Background(), Summary{ID: "missing", Kind: KindInvestors})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, before, c.Handle())
	assert.Equal(t, StateEmpty, c.State())
}

func TestLoadOfInvalidatedSessionFails(t *testing.T) {
	c, _ := newTestController(t, KindFinancial, newFakeRecords(), &fakeEngine{})
	c.Invalidate("fin-9")

	err := c.Load(context.Background(), Summary{ID: "fin-9", Kind: KindFinancial, Messages: []Message{}})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, c.Handle().Saved())
}

func TestInvalidateResetsOnlyTheOpenSession(t *testing.T) {
	records := newFakeRecords()
	c, _ := newTestController(t, KindInvestors, records, &fakeEngine{})
	_, err := c.SubmitTurn(context.Background(), "hello")
	require.NoError(t, err)
	id := c.Handle().ID

	assert.False(t, c.Invalidate("someone-else"))
	assert.Equal(t, id, c.Handle().ID)

	assert.True(t, c.Invalidate(id))
	assert.False(t, c.Handle().Saved())
	assert.Equal(t, StateEmpty, c.State())
	assert.Len(t, c.Snapshot().Messages, 1)
}

func TestReplyAppliedToReloadOfSameChat(t *testing.T) {
	records := newFakeRecords()
	engine := &fakeEngine{}
	c, _ := newTestController(t, KindFinancial, records, engine)
	ctx := context.Background()

	_, err := c.SubmitTurn(ctx, "SaaS")
	require.NoError(t, err)
	id := c.Handle().ID
	require.NotEmpty(t, id)

	release := make(chan struct{})
	engine.mu.Lock()
	engine.reply = func(call engineCall) (*Reply, error) {
		<-release
		return &Reply{Content: "echo: " + call.message}, nil
	}
	engine.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitTurn(ctx, "50 per seat")
		done <- err
	}()
	require.Eventually(t, func() bool { return engine.callCount() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, c.Load(ctx, Summary{ID: id, Kind: KindFinancial}))
	close(release)
	require.NoError(t, <-done)

	want := []Message{
		{Role: RoleAI, Content: financialGreeting},
		{Role: RoleUser, Content: "SaaS"},
		{Role: RoleAI, Content: "echo: SaaS"},
		{Role: RoleUser, Content: "50 per seat"},
		{Role: RoleAI, Content: "echo: 50 per seat"},
	}
	assert.Equal(t, want, c.Snapshot().Messages)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, want, records.stored(id).Messages)
}

func TestReplyDiscardedWhenReloadedChatChanged(t *testing.T) {
	records := newFakeRecords()
	engine := &fakeEngine{}
	c, _ := newTestController(t, KindFinancial, records, engine)
	ctx := context.Background()

	_, err := c.SubmitTurn(ctx, "SaaS")
	require.NoError(t, err)
	id := c.Handle().ID

	release := make(chan struct{})
	engine.mu.Lock()
	engine.reply = func(call engineCall) (*Reply, error) {
		<-release
		return &Reply{Content: "echo: " + call.message}, nil
	}
	engine.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitTurn(ctx, "50 per seat")
		done <- err
	}()
	require.Eventually(t, func() bool { return engine.callCount() == 2 }, time.Second, time.Millisecond)

	// another client added a turn in the meantime
	records.mu.Lock()
	records.chats[id].Messages = append(records.chats[id].Messages, Message{Role: RoleUser, Content: "elsewhere"})
	records.mu.Unlock()

	require.NoError(t, c.Load(ctx, Summary{ID: id, Kind: KindFinancial}))
	close(release)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Len(t, c.Snapshot().Messages, 4)
	assert.Len(t, records.stored(id).Messages, 4)
}
