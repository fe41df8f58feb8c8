package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/middleware"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/response"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/observability"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/security"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/service"
)

// RefreshTokenHeader carries the refresh token in both directions: the login
// and refresh responses set it, the refresh request reads it. Keeping the
// refresh token out of JSON bodies keeps it out of body-logging middleware.
const RefreshTokenHeader = "X-Refresh-Token"

type AuthHandler struct {
	auth *service.AuthService
	gate *service.AuthGate
}

func NewAuthHandler(auth *service.AuthService, gate *service.AuthGate) *AuthHandler {
	return &AuthHandler{auth: auth, gate: gate}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	SessionID string `json:"session_id"`
}

type userPayload struct {
	ID       uint   `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type tokenPayload struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}
	if req.Email == "" || req.Username == "" || len(req.Password) < 8 {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "email, username and a password of at least 8 characters are required", nil)
		return
	}
	user, err := h.auth.Register(r.Context(), service.RegisterParams{Email: req.Email, Username: req.Username, Password: req.Password})
	if err != nil {
		if errors.Is(err, service.ErrEmailInUse) {
			response.Error(w, r, http.StatusConflict, "EMAIL_IN_USE", "email already registered", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	observability.Audit(r, "auth.register", "user_id", user.ID)
	response.JSON(w, r, http.StatusCreated, userPayload{ID: user.ID, Email: user.Email, Username: user.Username})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}
	if req.Email == "" || req.Password == "" || req.SessionID == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "email, password and session_id are required", nil)
		return
	}
	res, err := h.auth.Login(r.Context(), service.LoginParams{
		Email:     req.Email,
		Password:  req.Password,
		SessionID: req.SessionID,
		Device:    deviceContext(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
		case errors.Is(err, service.ErrSessionIDInUse):
			response.Error(w, r, http.StatusConflict, "SESSION_ID_IN_USE", "session_id already used", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		}
		return
	}
	observability.Audit(r, "auth.login", "user_id", res.User.ID, "session_id", req.SessionID)
	w.Header().Set(RefreshTokenHeader, res.Tokens.RefreshToken)
	response.JSON(w, r, http.StatusOK, tokenPayload{
		AccessToken: res.Tokens.AccessToken,
		TokenType:   "bearer",
		User:        userPayload{ID: res.User.ID, Email: res.User.Email, Username: res.User.Username},
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get(RefreshTokenHeader)
	if raw == "" {
		response.Unauthorized(w, r)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), h.gate, raw, deviceContext(r))
	if err != nil {
		if service.IsAuthError(err) {
			response.Unauthorized(w, r)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	observability.Audit(r, "auth.refresh")
	w.Header().Set(RefreshTokenHeader, pair.RefreshToken)
	response.JSON(w, r, http.StatusOK, map[string]string{
		"access_token": pair.AccessToken,
		"token_type":   "bearer",
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	if err := h.auth.Logout(r.Context(), identity); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	observability.Audit(r, "auth.logout", "user_id", identity.UserID, "session_id", identity.SessionID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged out"})
}

func deviceContext(r *http.Request) security.DeviceContext {
	return security.DeviceContext{
		UserAgent: r.UserAgent(),
		IPAddress: r.RemoteAddr,
	}
}
