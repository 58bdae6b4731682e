package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/venture-assistant/internal/auth"
	"gwi.com/venture-assistant/internal/core"
	"gwi.com/venture-assistant/internal/store"
)

type testServer struct {
	router http.Handler
	chats  *core.ChatService
	issuer *auth.Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	matcher, err := core.NewMatchService(context.Background(), db, nil, 0)
	require.NoError(t, err)
	engine := core.NewEngineService(core.NewScriptedInvestorsCompleter(), core.NewScriptedFinancialCompleter(), matcher)
	chats := core.NewChatService(db, nil)
	issuer, err := auth.NewIssuer("api-test-secret", time.Hour)
	require.NoError(t, err)

	h := NewAPIHandler(chats, engine, issuer, slog.New(slog.DiscardHandler))
	return &testServer{router: NewRouter(h), chats: chats, issuer: issuer}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) signup(t *testing.T, user string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/signup", "", `{"user_id":"`+user+`","password":"secret"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSignupAndLogin(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "founder")

	rec := s.do(t, http.MethodPost, "/api/signup", "", `{"user_id":"founder","password":"other"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/login", "", `{"user_id":"founder","password":"secret"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[tokenResponse](t, rec).Token)

	rec = s.do(t, http.MethodPost, "/api/login", "", `{"user_id":"founder","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/login", "", `{"user_id":"nobody","password":"secret"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/login", "", `{"user_id":"  ","password":"secret"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/login", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"garbage", "Bearer abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	// A valid token for a user that was never created.
	tok, err := s.issuer.GenerateJWT("ghost")
	require.NoError(t, err)
	rec := s.do(t, http.MethodGet, "/api/chats", tok, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatLifecycle(t *testing.T) {
	s := newTestServer(t)
	tok := s.signup(t, "founder")

	rec := s.do(t, http.MethodPost, "/api/chats", tok,
		`{"chatType":"financial","messages":[{"role":"ai","content":"hi"},{"role":"user","content":"A marketplace for vintage bikes"}],"metadata":{"custom":{"a":1}}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[chatResponse](t, rec)
	require.NotEmpty(t, created.ObjectID)
	assert.Equal(t, created.ObjectID, created.ID)
	assert.Equal(t, "A marketplace for vintage bikes", created.Title)
	assert.Equal(t, 2, created.MessageCount)
	assert.Nil(t, created.Messages)

	rec = s.do(t, http.MethodPut, "/api/chats/"+created.ID, tok,
		`{"messages":[{"role":"ai","content":"hi"},{"role":"user","content":"A marketplace for vintage bikes"},{"role":"ai","content":"Pricing?"}],"metadata":{"custom":{"a":1},"warnings":["x"]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decodeBody[chatResponse](t, rec).MessageCount)

	rec = s.do(t, http.MethodGet, "/api/chats/"+created.ID, tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	full := decodeBody[chatResponse](t, rec)
	assert.Len(t, full.Messages, 3)
	assert.JSONEq(t, `{"a":1}`, string(full.Metadata["custom"]))
	assert.JSONEq(t, `["x"]`, string(full.Metadata["warnings"]))

	rec = s.do(t, http.MethodGet, "/api/chats?chatType=financial", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]chatResponse](t, rec)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Messages)

	rec = s.do(t, http.MethodGet, "/api/chats?chatType=investors", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]chatResponse](t, rec))

	rec = s.do(t, http.MethodGet, "/api/chats?chatType=poetry", tok, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/chats/"+created.ID, tok, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/chats/"+created.ID, tok, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/chats/"+created.ID, tok, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateChatRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	tok := s.signup(t, "founder")

	rec := s.do(t, http.MethodPost, "/api/chats", tok, `{"chatType":"poetry","messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/chats", tok, `{"chatType":"investors","messages":[{"role":"system","content":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPut, "/api/chats/missing", tok, `{"messages":[]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEngineEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/chat", "", `{"sessionId":"eng-1","message":"We sell coffee"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, string(body["reply"]), "sector")
	assert.NotContains(t, body, "chatComplete")

	s.do(t, http.MethodPost, "/api/chat", "", `{"sessionId":"eng-1","message":"Coffee"}`)
	rec = s.do(t, http.MethodPost, "/api/chat", "", `{"sessionId":"eng-1","message":"Seed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.JSONEq(t, `true`, string(body["chatComplete"]))
	assert.JSONEq(t, `true`, string(body["noMatchesFound"]))

	rec = s.do(t, http.MethodPost, "/api/financial-chat", "", `{"sessionId":"eng-1","message":"SaaS"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, string(body["reply"]), "charge")

	rec = s.do(t, http.MethodPost, "/api/chat", "", `{"sessionId":"","message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/chat", "", `{"sessionId":"eng-2","message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/health/", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
