package repository

import (
	"context"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/domain"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/observability"

	"gorm.io/gorm"
)

// MessageRepository is the narrow persistence collaborator the delivery core
// calls before publishing. Listing, editing and soft-delete policy are owned
// by the surrounding CRUD layer, not by this subsystem.
type MessageRepository interface {
	CreateDirect(ctx context.Context, m *domain.DirectMessage) error
	CreateRoom(ctx context.Context, m *domain.RoomMessage) error
}

type GormMessageRepository struct{ db *gorm.DB }

func NewMessageRepository(db *gorm.DB) MessageRepository { return &GormMessageRepository{db: db} }

func (r *GormMessageRepository) CreateDirect(ctx context.Context, m *domain.DirectMessage) error {
	err := r.db.WithContext(ctx).Create(m).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "direct_message", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "direct_message", "create", "success")
	return nil
}

func (r *GormMessageRepository) CreateRoom(ctx context.Context, m *domain.RoomMessage) error {
	err := r.db.WithContext(ctx).Create(m).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "room_message", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "room_message", "create", "success")
	return nil
}
