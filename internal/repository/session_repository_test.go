package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSessionRepoForTest(t *testing.T) SessionRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Session{}); err != nil {
		t.Fatalf("migrate session: %v", err)
	}
	return NewSessionRepository(db)
}

func TestSessionRepositoryFindActiveBySessionID(t *testing.T) {
	repo := newSessionRepoForTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, &domain.Session{UserID: 1, SessionID: "s1", JTI: "j1", IPAddress: "127.0.0.1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	s, err := repo.FindActiveBySessionID(ctx, "s1")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if s.JTI != "j1" || s.IsLoggedOut {
		t.Fatalf("unexpected session: %+v", s)
	}

	if _, err := repo.FindActiveBySessionID(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionRepositoryRotateJTI(t *testing.T) {
	repo := newSessionRepoForTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, &domain.Session{UserID: 1, SessionID: "s1", JTI: "j1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.RotateJTI(ctx, "s1", "j2"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	s, err := repo.FindActiveBySessionID(ctx, "s1")
	if err != nil {
		t.Fatalf("find after rotate: %v", err)
	}
	if s.JTI != "j2" {
		t.Fatalf("expected jti j2, got %q", s.JTI)
	}
}

func TestSessionRepositoryRotateAfterRevokeFails(t *testing.T) {
	repo := newSessionRepoForTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, &domain.Session{UserID: 1, SessionID: "s1", JTI: "j1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Revoke(ctx, "s1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// Logout won the race; the rotation must not resurrect the session.
	if err := repo.RotateJTI(ctx, "s1", "j2"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after revoke, got %v", err)
	}
}

func TestSessionRepositoryRevokeIsTerminalAndIdempotent(t *testing.T) {
	repo := newSessionRepoForTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, &domain.Session{UserID: 1, SessionID: "s1", JTI: "j1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Revoke(ctx, "s1"); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := repo.Revoke(ctx, "s1"); err != nil {
		t.Fatalf("second revoke should be a no-op, got %v", err)
	}

	if _, err := repo.FindActiveBySessionID(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected no active session after revoke, got %v", err)
	}

	// The row itself is retained for audit.
	s, err := repo.FindBySessionID(ctx, "s1")
	if err != nil {
		t.Fatalf("find revoked row: %v", err)
	}
	if !s.IsLoggedOut || s.LoggedOutAt == nil {
		t.Fatalf("expected terminal logout marks, got %+v", s)
	}
}

func TestSessionRepositoryListActiveByUserID(t *testing.T) {
	repo := newSessionRepoForTest(t)
	ctx := context.Background()

	for _, s := range []*domain.Session{
		{UserID: 1, SessionID: "a", JTI: "j1"},
		{UserID: 1, SessionID: "b", JTI: "j2"},
		{UserID: 2, SessionID: "c", JTI: "j3"},
	} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create %s: %v", s.SessionID, err)
		}
	}
	if err := repo.Revoke(ctx, "b"); err != nil {
		t.Fatalf("revoke b: %v", err)
	}

	sessions, err := repo.ListActiveByUserID(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "a" {
		t.Fatalf("expected only session a active for user 1, got %+v", sessions)
	}
}

func TestSessionRepositoryFindActiveByJTI(t *testing.T) {
	repo := newSessionRepoForTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, &domain.Session{UserID: 1, SessionID: "s1", JTI: "j1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.FindActiveByJTI(ctx, "j1"); err != nil {
		t.Fatalf("find by jti: %v", err)
	}
	if err := repo.RotateJTI(ctx, "s1", "j2"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := repo.FindActiveByJTI(ctx, "j1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old jti should no longer resolve, got %v", err)
	}
}
