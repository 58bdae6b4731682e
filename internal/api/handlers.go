package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gwi.com/venture-assistant/internal/auth"
	"gwi.com/venture-assistant/internal/chat"
	"gwi.com/venture-assistant/internal/core"
	"gwi.com/venture-assistant/internal/store"
)

const maxBodyBytes = 4 << 20

type ctxKey int

const (
	userIDKey ctxKey = iota
	externalUserIDKey
)

type APIHandler struct {
	chatService *core.ChatService
	engine      *core.EngineService
	issuer      *auth.Issuer
	logger      *slog.Logger
}

func NewAPIHandler(cs *core.ChatService, engine *core.EngineService, issuer *auth.Issuer, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{chatService: cs, engine: engine, issuer: issuer, logger: logger}
}

func userID(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			http.Error(w, "Authorization header must be a bearer token", http.StatusUnauthorized)
			return
		}
		externalUserID, err := h.issuer.ValidateJWT(strings.TrimSpace(tokenString))
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.chatService.GetUserByExternalID(r.Context(), externalUserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "User not found", http.StatusUnauthorized)
				return
			}
			h.logger.Error("failed to resolve user identity", "user", externalUserID, "error", err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		ctx = context.WithValue(ctx, externalUserIDKey, user.ExternalUserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type credentialsRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h *APIHandler) decodeCredentials(w http.ResponseWriter, r *http.Request) (*credentialsRequest, bool) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return nil, false
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", "user", req.UserID, "error", err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	if _, err := h.chatService.CreateUser(r.Context(), req.UserID, hashedPassword); err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "User already exists", http.StatusConflict)
			return
		}
		h.logger.Error("failed to create user", "user", req.UserID, "error", err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	h.issueToken(w, req.UserID, http.StatusCreated)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.chatService.GetUserByExternalID(r.Context(), req.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("failed to get user", "user", req.UserID, "error", err)
	}
	if err != nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	h.issueToken(w, req.UserID, http.StatusOK)
}

func (h *APIHandler) issueToken(w http.ResponseWriter, externalUserID string, status int) {
	token, err := h.issuer.GenerateJWT(externalUserID)
	if err != nil {
		h.logger.Error("failed to generate JWT", "user", externalUserID, "error", err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, tokenResponse{Token: token})
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.chatService.CreateChat(r.Context(), uid, req.ChatType, req.Messages, req.Metadata)
	if err != nil {
		h.fail(w, err, "Failed to create chat", "user_id", uid)
		return
	}
	writeJSON(w, http.StatusCreated, toChatResponse(c, false))
}

func (h *APIHandler) UpdateChatHandler(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	chatID := chi.URLParam(r, "chatID")
	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.chatService.UpdateChat(r.Context(), uid, chatID, req.Messages, req.Metadata)
	if err != nil {
		h.fail(w, err, "Failed to update chat", "user_id", uid, "chat_id", chatID)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(c, false))
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())

	chats, err := h.chatService.GetChats(r.Context(), uid, r.URL.Query().Get("chatType"))
	if err != nil {
		h.fail(w, err, "Failed to list chats", "user_id", uid)
		return
	}
	resp := make([]chatResponse, 0, len(chats))
	for i := range chats {
		resp = append(resp, toChatResponse(&chats[i], false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) GetChatDetailsHandler(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	chatID := chi.URLParam(r, "chatID")

	c, err := h.chatService.GetChatDetails(r.Context(), chatID, uid)
	if err != nil {
		h.fail(w, err, "Failed to get chat details", "user_id", uid, "chat_id", chatID)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(c, true))
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	chatID := chi.URLParam(r, "chatID")

	if err := h.chatService.DeleteChat(r.Context(), chatID, uid); err != nil {
		h.fail(w, err, "Failed to delete chat", "user_id", uid, "chat_id", chatID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EngineHandler answers one message of the given kind's conversation.
func (h *APIHandler) EngineHandler(kind chat.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req engineRequest
		if !h.decode(w, r, &req) {
			return
		}

		reply, err := h.engine.Reply(r.Context(), kind, req.SessionID, req.Message)
		if err != nil {
			if errors.Is(err, chat.ErrInvalid) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			h.logger.Error("assistant engine failed", "kind", kind, "session_id", req.SessionID, "error", err)
			http.Error(w, "Failed to generate a reply", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, toEngineResponse(reply))
	}
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps service errors to statuses. Unexpected errors are logged.
func (h *APIHandler) fail(w http.ResponseWriter, err error, msg string, attrs ...any) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Chat not found", http.StatusNotFound)
	case errors.Is(err, chat.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error(msg, append(attrs, "error", err)...)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
