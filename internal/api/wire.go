package api

import (
	"encoding/json"
	"time"

	"gwi.com/venture-assistant/internal/chat"
	"gwi.com/venture-assistant/internal/core"
	"gwi.com/venture-assistant/internal/store"
)

type chatRequest struct {
	ChatType string                     `json:"chatType"`
	Messages []store.ChatMessage        `json:"messages"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

// chatResponse carries the id twice: `_id` is what create callers read,
// `id` is what list callers read.
type chatResponse struct {
	ObjectID     string                     `json:"_id"`
	ID           string                     `json:"id"`
	ChatType     string                     `json:"chatType"`
	Title        string                     `json:"title"`
	MessageCount int                        `json:"messageCount"`
	Messages     []store.ChatMessage        `json:"messages,omitempty"`
	Metadata     map[string]json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time                  `json:"createdAt"`
	UpdatedAt    time.Time                  `json:"updatedAt"`
}

func toChatResponse(c *store.Chat, full bool) chatResponse {
	resp := chatResponse{
		ObjectID:     c.ID,
		ID:           c.ID,
		ChatType:     c.ChatType,
		Title:        c.Title,
		MessageCount: c.MessageCount,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if full {
		resp.Messages = c.Messages
		if resp.Messages == nil {
			resp.Messages = []store.ChatMessage{}
		}
		resp.Metadata = c.Metadata
	}
	return resp
}

type engineRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type replyBody struct {
	Content string `json:"content"`
}

type engineResponse struct {
	Reply            replyBody           `json:"reply"`
	ChatComplete     bool                `json:"chatComplete,omitempty"`
	MatchedInvestors []chat.Investor     `json:"matchedInvestors,omitempty"`
	NoMatchesFound   bool                `json:"noMatchesFound,omitempty"`
	Projections      []chat.Projection   `json:"projections,omitempty"`
	FinancialData    *core.FinancialData `json:"financialData,omitempty"`
	Warnings         []string            `json:"warnings,omitempty"`
}

func toEngineResponse(r *core.EngineReply) engineResponse {
	return engineResponse{
		Reply:            replyBody{Content: r.Reply},
		ChatComplete:     r.ChatComplete,
		MatchedInvestors: r.MatchedInvestors,
		NoMatchesFound:   r.NoMatchesFound,
		Projections:      r.Projections,
		FinancialData:    r.FinancialData,
		Warnings:         r.Warnings,
	}
}
