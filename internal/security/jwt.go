package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

var (
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrWrongTokenType = errors.New("wrong token type")
)

// Claims carried by both access and refresh tokens. A pair issued together
// shares SessionID and jti (RegisteredClaims.ID); refreshing mints a new jti
// for the new pair, which is what retires the old one at the auth gate.
type Claims struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	TokenType TokenType `json:"token_type"`
	UserAgent string    `json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	Location  string    `json:"location,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserIDUint() (uint, error) {
	id64, err := strconv.ParseUint(c.UserID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed user_id claim", ErrInvalidToken)
	}
	return uint(id64), nil
}

type DeviceContext struct {
	UserAgent string
	IPAddress string
	Location  string
}

type IssueParams struct {
	SessionID string
	UserID    uint
	JTI       string
	Device    DeviceContext
	TokenType TokenType
}

// TokenManager signs and verifies the access/refresh token pair. Verification
// is CPU-only and never touches the session store; revocation checks belong
// to the auth gate.
type TokenManager struct {
	issuer        string
	audience      string
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewTokenManager(issuer, audience, accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		issuer:        issuer,
		audience:      audience,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

func (m *TokenManager) Issue(p IssueParams) (string, error) {
	var secret []byte
	var ttl time.Duration
	switch p.TokenType {
	case TokenTypeAccess:
		secret, ttl = m.accessSecret, m.accessTTL
	case TokenTypeRefresh:
		secret, ttl = m.refreshSecret, m.refreshTTL
	default:
		return "", fmt.Errorf("unknown token type %q", p.TokenType)
	}
	now := time.Now()
	claims := Claims{
		UserID:    strconv.FormatUint(uint64(p.UserID), 10),
		SessionID: p.SessionID,
		TokenType: p.TokenType,
		UserAgent: p.Device.UserAgent,
		IPAddress: p.Device.IPAddress,
		Location:  p.Device.Location,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        p.JTI,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// IssuePair mints an access and refresh token sharing one session_id and jti.
func (m *TokenManager) IssuePair(sessionID string, userID uint, jti string, device DeviceContext) (access, refresh string, err error) {
	access, err = m.Issue(IssueParams{SessionID: sessionID, UserID: userID, JTI: jti, Device: device, TokenType: TokenTypeAccess})
	if err != nil {
		return "", "", err
	}
	refresh, err = m.Issue(IssueParams{SessionID: sessionID, UserID: userID, JTI: jti, Device: device, TokenType: TokenTypeRefresh})
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (m *TokenManager) Verify(raw string, want TokenType) (*Claims, error) {
	secret := m.accessSecret
	if want == TokenTypeRefresh {
		secret = m.refreshSecret
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience))
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrWrongTokenType, claims.TokenType, want)
	}
	return claims, nil
}

func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }
