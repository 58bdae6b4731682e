// Package client talks to the persistence API and the assistant engine over
// HTTP and maps their failures onto the chat error taxonomy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gwi.com/venture-assistant/internal/chat"
)

const maxErrorBody = 512

type transport struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func newTransport(baseURL string, hc *http.Client, logger *slog.Logger) transport {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return transport{baseURL: strings.TrimRight(baseURL, "/"), http: hc, logger: logger}
}

// do sends body as JSON and decodes a 2xx response into out when out is not
// nil. token is sent as a bearer credential when non-empty.
func (t transport) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %w", chat.ErrInvalid, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", chat.ErrInvalid, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", chat.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()
	t.logger.Debug("api request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s response: %w", chat.ErrUnavailable, method, path, err)
	}
	return nil
}

func statusError(method, path string, status int, msg string) error {
	var kind error
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = chat.ErrUnauthorized
	case http.StatusNotFound:
		kind = chat.ErrNotFound
	case http.StatusBadRequest:
		kind = chat.ErrInvalid
	default:
		kind = chat.ErrUnavailable
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("%w: %s %s: %d %s", kind, method, path, status, msg)
}
