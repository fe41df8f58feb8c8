package repository

import (
	"context"
	"errors"
	"time"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/domain"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindBySessionID(ctx context.Context, sessionID string) (*domain.Session, error)
	FindActiveBySessionID(ctx context.Context, sessionID string) (*domain.Session, error)
	FindActiveByJTI(ctx context.Context, jti string) (*domain.Session, error)
	ListActiveByUserID(ctx context.Context, userID uint) ([]domain.Session, error)
	RotateJTI(ctx context.Context, sessionID, newJTI string) error
	Revoke(ctx context.Context, sessionID string) error
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.Session, error) {
	return r.findOne(ctx, "find_by_session_id", "session_id = ?", sessionID)
}

func (r *GormSessionRepository) FindActiveBySessionID(ctx context.Context, sessionID string) (*domain.Session, error) {
	return r.findOne(ctx, "find_active_by_session_id", "session_id = ? AND is_logged_out = ?", sessionID, false)
}

func (r *GormSessionRepository) FindActiveByJTI(ctx context.Context, jti string) (*domain.Session, error) {
	return r.findOne(ctx, "find_active_by_jti", "jti = ? AND is_logged_out = ?", jti, false)
}

func (r *GormSessionRepository) findOne(ctx context.Context, op string, query string, args ...any) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where(query, args...).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", op, "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", op, "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(ctx context.Context, userID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_logged_out = ?", userID, false).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "success")
	return sessions, nil
}

// RotateJTI advances the session's token-pair identifier. The row is locked
// for the duration of the update so a concurrent logout is strictly ordered
// with the rotation: if logout commits first, the active row is gone and the
// caller gets ErrSessionNotFound instead of silently resurrecting the session.
func (r *GormSessionRepository) RotateJTI(ctx context.Context, sessionID, newJTI string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s domain.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ? AND is_logged_out = ?", sessionID, false).
			First(&s).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		return tx.Model(&domain.Session{}).
			Where("id = ?", s.ID).
			Update("jti", newJTI).Error
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "rotate_jti", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "session", "rotate_jti", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "rotate_jti", "success")
	return nil
}

// Revoke marks the session logged out. Revoking an already-revoked session is
// a store-level no-op; the auth gate is what turns a second logout into a 401.
func (r *GormSessionRepository) Revoke(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("session_id = ? AND is_logged_out = ?", sessionID, false).
		Updates(map[string]any{"is_logged_out": true, "logged_out_at": now}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke", "success")
	return nil
}
