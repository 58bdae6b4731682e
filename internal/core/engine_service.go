package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gwi.com/venture-assistant/internal/chat"
	"gwi.com/venture-assistant/internal/store"
)

const (
	matchMarker = "[[MATCH]]"

	investorsSystemInstruction = "You are an AI Investment Assistant helping founders find investors. " +
		"Ask short questions, one at a time, about the startup: what it does, its sector, stage and how much it wants to raise. " +
		"When you know enough to search for investors, end your reply with the marker " + matchMarker + " and nothing after it."

	financialSystemInstruction = "You are a Financial Projection Assistant building a 3-year model for a startup. " +
		"Ask short questions, one at a time, about business model, pricing, customers, growth, churn, costs and starting cash. " +
		"When you have enough, reply with one fenced ```json block holding an object with the numeric fields " +
		"startingCash, pricePerCustomer, initialCustomers, monthlyGrowthRate, monthlyChurnRate, costPerCustomer, acquisitionCost, fixedCosts " +
		"and the string field businessModel. Rates are percentages."

	matchesFoundReply = "Great news! I found investors that match your startup."
	noMatchesReply    = "I couldn't find investors that match your startup right now. Try again later as new investors are added."
	projectionReply   = "Here is your 3-year financial projection."

	defaultConversationTTL = 2 * time.Hour
	maxHistoryTurns        = 40
)

// EngineReply is the assistant engine's answer to one message.
type EngineReply struct {
	Reply            string
	ChatComplete     bool
	MatchedInvestors []chat.Investor
	NoMatchesFound   bool
	Projections      []chat.Projection
	FinancialData    *FinancialData
	Warnings         []string
}

type conversation struct {
	mu       sync.Mutex
	turns    []Turn
	lastSeen time.Time
}

// EngineService holds engine conversations in memory, keyed by kind and the
// client's engine session token.
type EngineService struct {
	investors Completer
	financial Completer
	matcher   *MatchService
	ttl       time.Duration
	now       func() time.Time

	mu            sync.Mutex
	conversations map[string]*conversation
}

func NewEngineService(investors, financial Completer, matcher *MatchService) *EngineService {
	return &EngineService{
		investors:     investors,
		financial:     financial,
		matcher:       matcher,
		ttl:           defaultConversationTTL,
		now:           time.Now,
		conversations: make(map[string]*conversation),
	}
}

func (e *EngineService) conversation(kind chat.Kind, sessionID string) *conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for key, c := range e.conversations {
		if now.Sub(c.lastSeen) > e.ttl {
			delete(e.conversations, key)
		}
	}
	key := string(kind) + ":" + sessionID
	c, ok := e.conversations[key]
	if !ok {
		c = &conversation{}
		e.conversations[key] = c
	}
	c.lastSeen = now
	return c
}

// Conversations reports how many engine conversations are held.
func (e *EngineService) Conversations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conversations)
}

func (e *EngineService) Reply(ctx context.Context, kind chat.Kind, sessionID, message string) (*EngineReply, error) {
	message = strings.TrimSpace(message)
	if sessionID == "" || message == "" {
		return nil, fmt.Errorf("%w: sessionId and message are required", chat.ErrInvalid)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown chat kind %q", chat.ErrInvalid, kind)
	}

	c := e.conversation(kind, sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()

	history := append(c.turns, Turn{Role: "user", Content: message})
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	var (
		reply *EngineReply
		err   error
	)
	switch kind {
	case chat.KindInvestors:
		reply, err = e.replyInvestors(ctx, history)
	case chat.KindFinancial:
		reply, err = e.replyFinancial(ctx, history)
	}
	if err != nil {
		return nil, err
	}

	c.turns = append(history, Turn{Role: "model", Content: reply.Reply})
	return reply, nil
}

func (e *EngineService) replyInvestors(ctx context.Context, history []Turn) (*EngineReply, error) {
	text, err := e.investors.Complete(ctx, investorsSystemInstruction, history)
	if err != nil {
		return nil, fmt.Errorf("investors completion: %w", err)
	}
	if !strings.Contains(text, matchMarker) {
		return &EngineReply{Reply: text}, nil
	}

	var profile []string
	for _, t := range history {
		if t.Role == "user" {
			profile = append(profile, t.Content)
		}
	}
	var matches []store.Investor
	if e.matcher != nil {
		matches, err = e.matcher.Match(ctx, strings.Join(profile, "\n"))
		if err != nil {
			return nil, fmt.Errorf("match investors: %w", err)
		}
	}

	reply := &EngineReply{ChatComplete: true}
	if len(matches) == 0 {
		reply.Reply = noMatchesReply
		reply.NoMatchesFound = true
		return reply, nil
	}
	reply.Reply = strings.TrimSpace(strings.ReplaceAll(text, matchMarker, ""))
	if reply.Reply == "" {
		reply.Reply = matchesFoundReply
	}
	for _, inv := range matches {
		reply.MatchedInvestors = append(reply.MatchedInvestors, chat.Investor{
			Name:        inv.Name,
			Sectors:     inv.Sectors,
			TicketMin:   inv.TicketMin,
			TicketMax:   inv.TicketMax,
			Portfolio:   inv.Portfolio,
			Description: inv.Description,
			Website:     inv.Website,
		})
	}
	slog.Info("investor matching finished", "matches", len(matches))
	return reply, nil
}

func (e *EngineService) replyFinancial(ctx context.Context, history []Turn) (*EngineReply, error) {
	text, err := e.financial.Complete(ctx, financialSystemInstruction, history)
	if err != nil {
		return nil, fmt.Errorf("financial completion: %w", err)
	}
	assumptions, rest, ok := ExtractAssumptions(text)
	if !ok {
		return &EngineReply{Reply: text}, nil
	}

	rows, data, warnings, err := Project(*assumptions)
	if err != nil {
		slog.Warn("rejected projection assumptions", "error", err)
		return &EngineReply{Reply: "Some of those numbers don't add up (" + err.Error() + "). Could you check them?"}, nil
	}
	if rest == "" {
		rest = projectionReply
	}
	return &EngineReply{
		Reply:         rest,
		ChatComplete:  true,
		Projections:   rows,
		FinancialData: data,
		Warnings:      warnings,
	}, nil
}
