package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"gwi.com/venture-assistant/internal/chat"
)

type credentialsRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// AuthClient obtains bearer tokens from the persistence API.
type AuthClient struct {
	t transport
}

func NewAuthClient(baseURL string, hc *http.Client, logger *slog.Logger) *AuthClient {
	return &AuthClient{t: newTransport(baseURL, hc, logger)}
}

func (c *AuthClient) Login(ctx context.Context, userID, password string) (string, error) {
	return c.token(ctx, "/api/login", userID, password)
}

// Signup registers a new user and returns a token for it.
func (c *AuthClient) Signup(ctx context.Context, userID, password string) (string, error) {
	return c.token(ctx, "/api/signup", userID, password)
}

func (c *AuthClient) token(ctx context.Context, path, userID, password string) (string, error) {
	if userID == "" || password == "" {
		return "", fmt.Errorf("%w: user id and password are required", chat.ErrInvalid)
	}
	var resp tokenResponse
	if err := c.t.do(ctx, http.MethodPost, path, "", credentialsRequest{UserID: userID, Password: password}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: no token in response", chat.ErrUnavailable)
	}
	return resp.Token, nil
}
