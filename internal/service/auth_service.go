package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/domain"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/observability"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/repository"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/security"

	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionIDInUse     = errors.New("session id already used")
	ErrEmailInUse         = errors.New("email already in use")
)

type RegisterParams struct {
	Email    string
	Username string
	Password string
}

type LoginParams struct {
	Email     string
	Password  string
	SessionID string
	Device    security.DeviceContext
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

type LoginResult struct {
	User   *domain.User
	Tokens TokenPair
}

// AuthService orchestrates the credential check, session row lifecycle and
// token minting for login, refresh and logout.
type AuthService struct {
	tokens   *security.TokenManager
	users    repository.UserRepository
	sessions repository.SessionRepository
}

func NewAuthService(tokens *security.TokenManager, users repository.UserRepository, sessions repository.SessionRepository) *AuthService {
	return &AuthService{tokens: tokens, users: users, sessions: sessions}
}

func (s *AuthService) Register(ctx context.Context, p RegisterParams) (*domain.User, error) {
	if _, err := s.users.FindByEmail(ctx, p.Email); err == nil {
		return nil, ErrEmailInUse
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	hash, err := security.HashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{Email: p.Email, Username: p.Username, PasswordHash: hash}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials, enforces the one-login-per-session_id
// invariant and mints the first token pair for a fresh session row.
func (s *AuthService) Login(ctx context.Context, p LoginParams) (*LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, p.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthLogin("invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !security.CheckPassword(user.PasswordHash, p.Password) {
		observability.RecordAuthLogin("invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	// session_id is client-chosen and must be globally unique per login
	// attempt; a reused one (active or already retired) is rejected rather
	// than resurrected.
	if _, err := s.sessions.FindBySessionID(ctx, p.SessionID); err == nil {
		observability.RecordAuthLogin("session_id_in_use")
		return nil, ErrSessionIDInUse
	} else if !errors.Is(err, repository.ErrSessionNotFound) {
		return nil, err
	}

	jti := uuid.NewString()
	if err := s.sessions.Create(ctx, &domain.Session{
		UserID:    user.ID,
		SessionID: p.SessionID,
		JTI:       jti,
		IPAddress: p.Device.IPAddress,
		Location:  p.Device.Location,
	}); err != nil {
		observability.RecordAuthLogin("error")
		return nil, err
	}

	access, refresh, err := s.tokens.IssuePair(p.SessionID, user.ID, jti, p.Device)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthLogin("success")
	return &LoginResult{User: user, Tokens: TokenPair{AccessToken: access, RefreshToken: refresh}}, nil
}

// Refresh rotates the session's jti and mints a new pair. The rotation is
// serialized against logout by the store: if logout committed first there is
// no active row to rotate and the refresh fails as an expired session.
func (s *AuthService) Refresh(ctx context.Context, gate *AuthGate, refreshToken string, device security.DeviceContext) (*TokenPair, error) {
	identity, err := gate.Authorize(ctx, refreshToken, security.TokenTypeRefresh)
	if err != nil {
		observability.RecordAuthRefresh("rejected")
		return nil, err
	}

	newJTI := uuid.NewString()
	if err := s.sessions.RotateJTI(ctx, identity.SessionID, newJTI); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordAuthRefresh("lost_race_to_logout")
			return nil, ErrSessionExpired
		}
		observability.RecordAuthRefresh("error")
		return nil, err
	}

	access, refresh, err := s.tokens.IssuePair(identity.SessionID, identity.UserID, newJTI, device)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthRefresh("success")
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout revokes the session. The store treats re-revocation as a no-op;
// a second logout never reaches here because the gate rejects its token.
func (s *AuthService) Logout(ctx context.Context, identity *Identity) error {
	if err := s.sessions.Revoke(ctx, identity.SessionID); err != nil {
		observability.RecordAuthLogout("error")
		return err
	}
	observability.RecordAuthLogout("success")
	return nil
}
