package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoCredentials = errors.New("no credentials")

// Credentials supplies the bearer token for outgoing requests.
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a token fixed at startup, e.g. from ASSISTANT_TOKEN.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(string(t))
	if tok == "" {
		return "", ErrNoCredentials
	}
	return tok, nil
}

// FileToken reads the token saved by `assistant login` on every call, so a
// fresh login is picked up without a restart.
type FileToken struct {
	Path string
	Now  func() time.Time
}

func (f FileToken) Token(context.Context) (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s not found, run login first", ErrNoCredentials, f.Path)
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", ErrNoCredentials
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	if Expired(tok, now()) {
		return "", fmt.Errorf("%w: saved token expired, run login again", ErrNoCredentials)
	}
	return tok, nil
}

// Save writes tok to the file with owner-only permissions.
func (f FileToken) Save(tok string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(f.Path, []byte(tok+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Chain returns the first source that yields a token.
type Chain []Credentials

func (c Chain) Token(ctx context.Context) (string, error) {
	err := ErrNoCredentials
	for _, src := range c {
		tok, e := src.Token(ctx)
		if e == nil {
			return tok, nil
		}
		err = e
	}
	return "", err
}

// Expired reports whether tok carries an exp claim before now. The signature
// is not checked; the server does that.
func Expired(tok string, now time.Time) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Time)
}
