package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"gwi.com/venture-assistant/internal/chat"
)

var _ chat.Engine = (*EngineClient)(nil)

var enginePaths = map[chat.Kind]string{
	chat.KindInvestors: "/api/chat",
	chat.KindFinancial: "/api/financial-chat",
}

// Keys copied verbatim from an engine response into the session metadata.
var engineMetadataKeys = []string{
	chat.KeyMatchedInvestors,
	chat.KeyNoMatchesFound,
	chat.KeyProjections,
	chat.KeyFinancialData,
	chat.KeyWarnings,
}

type engineRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// EngineClient implements chat.Engine. The engine endpoints take no
// credential.
type EngineClient struct {
	t transport
}

func NewEngineClient(baseURL string, hc *http.Client, logger *slog.Logger) *EngineClient {
	return &EngineClient{t: newTransport(baseURL, hc, logger)}
}

func (c *EngineClient) Reply(ctx context.Context, kind chat.Kind, engineSession, message string) (*chat.Reply, error) {
	path, ok := enginePaths[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown chat kind %q", chat.ErrInvalid, kind)
	}
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: empty message", chat.ErrInvalid)
	}

	var body map[string]json.RawMessage
	if err := c.t.do(ctx, http.MethodPost, path, "", engineRequest{SessionID: engineSession, Message: message}, &body); err != nil {
		return nil, err
	}

	var reply struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body["reply"], &reply); err != nil {
		return nil, fmt.Errorf("%w: engine reply has no content: %w", chat.ErrUnavailable, err)
	}
	out := &chat.Reply{Content: reply.Content, Metadata: chat.Metadata{}}
	if raw, ok := body["chatComplete"]; ok {
		_ = json.Unmarshal(raw, &out.Complete)
	}
	for _, key := range engineMetadataKeys {
		if raw, ok := body[key]; ok && string(raw) != "null" {
			out.Metadata[key] = raw
		}
	}
	return out, nil
}
