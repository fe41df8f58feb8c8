package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/domain"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/repository"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/security"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type authFixture struct {
	tokens   *security.TokenManager
	users    repository.UserRepository
	sessions repository.SessionRepository
	gate     *AuthGate
	auth     *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tokens := security.NewTokenManager(
		"diosa-messaging-backend-test",
		"diosa-clients-test",
		"test-access-secret-0123456789abcdef",
		"test-refresh-secret-0123456789abcdef",
		15*time.Minute,
		24*time.Hour,
	)
	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	return &authFixture{
		tokens:   tokens,
		users:    users,
		sessions: sessions,
		gate:     NewAuthGate(tokens, sessions),
		auth:     NewAuthService(tokens, users, sessions),
	}
}

// registerAndLogin seeds a user and performs a login with the given
// session_id, returning the issued pair.
func (f *authFixture) registerAndLogin(t *testing.T, email, sessionID string) *LoginResult {
	t.Helper()
	ctx := context.Background()
	if _, err := f.auth.Register(ctx, RegisterParams{
		Email:    email,
		Username: strings.SplitN(email, "@", 2)[0],
		Password: "correct horse battery",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := f.auth.Login(ctx, LoginParams{
		Email:     email,
		Password:  "correct horse battery",
		SessionID: sessionID,
		Device:    security.DeviceContext{IPAddress: "127.0.0.1"},
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return res
}
