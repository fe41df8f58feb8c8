package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/observability"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/repository"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/security"
)

var (
	// ErrSessionExpired: the token verified but no active session row backs it.
	ErrSessionExpired = errors.New("session expired")
	// ErrStaleSession: the token verified and the session is active, but the
	// token's jti predates a refresh and has been superseded.
	ErrStaleSession = errors.New("invalid or expired session")
)

// Identity is what a passing authorization attaches to the request or
// connection context.
type Identity struct {
	UserID    uint
	SessionID string
	JTI       string
	Claims    *security.Claims
}

// AuthGate is the single choke point in front of HTTP handlers and the
// WebSocket upgrade. It layers the stateful revocation check on top of the
// stateless token verification, in that order, so malformed or expired
// tokens are rejected before any store round-trip is paid for.
type AuthGate struct {
	tokens   *security.TokenManager
	sessions repository.SessionRepository
}

func NewAuthGate(tokens *security.TokenManager, sessions repository.SessionRepository) *AuthGate {
	return &AuthGate{tokens: tokens, sessions: sessions}
}

func (g *AuthGate) Authorize(ctx context.Context, raw string, want security.TokenType) (*Identity, error) {
	claims, err := g.tokens.Verify(raw, want)
	if err != nil {
		if errors.Is(err, security.ErrWrongTokenType) {
			observability.RecordAuthGate("wrong_token_type")
		} else {
			observability.RecordAuthGate("invalid_token")
		}
		return nil, err
	}

	session, err := g.sessions.FindActiveBySessionID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordAuthGate("session_expired")
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("authorize: %w", err)
	}

	if claims.ID != session.JTI {
		observability.RecordAuthGate("stale_session")
		return nil, ErrStaleSession
	}

	userID, err := claims.UserIDUint()
	if err != nil {
		observability.RecordAuthGate("invalid_token")
		return nil, err
	}

	observability.RecordAuthGate("authorized")
	return &Identity{UserID: userID, SessionID: claims.SessionID, JTI: claims.ID, Claims: claims}, nil
}

// IsAuthError reports whether err belongs to the authorization failure
// taxonomy. Every member maps to the same 401 envelope at the HTTP layer;
// the distinction exists for logs, metrics and tests.
func IsAuthError(err error) bool {
	return errors.Is(err, security.ErrInvalidToken) ||
		errors.Is(err, security.ErrWrongTokenType) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrStaleSession)
}
