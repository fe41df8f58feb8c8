package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/domain"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/realtime"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/repository"
)

type DirectMessageEvent struct {
	Type           string `json:"type"`
	From           string `json:"from"`
	To             string `json:"to"`
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
	CreatedAt      string `json:"created_at"`
}

type RoomMessageEvent struct {
	Type string `json:"type"`
	From string `json:"from"`
	Text string `json:"text"`
}

type SendDirectParams struct {
	ConversationID string
	SenderID       uint
	RecipientID    uint
	Content        string
}

type SendRoomParams struct {
	RoomID   string
	SenderID uint
	Content  string
}

// MessageService is the persist-then-publish half of the delivery path:
// store the row, then hand the serialized event to the relay. Whether the
// sender may post at all is decided by the business-rule layer before this
// service is called.
type MessageService struct {
	messages      repository.MessageRepository
	relay         realtime.Relay
	retryAttempts int
	retryBackoff  time.Duration
}

func NewMessageService(messages repository.MessageRepository, relay realtime.Relay, retryAttempts int, retryBackoff time.Duration) *MessageService {
	return &MessageService{
		messages:      messages,
		relay:         relay,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
	}
}

func (s *MessageService) SendDirect(ctx context.Context, p SendDirectParams) (*domain.DirectMessage, error) {
	msg := &domain.DirectMessage{
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		RecipientID:    p.RecipientID,
		Content:        p.Content,
	}
	if err := s.messages.CreateDirect(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist direct message: %w", err)
	}

	payload, err := json.Marshal(DirectMessageEvent{
		Type:           "dm",
		From:           formatUserID(msg.SenderID),
		To:             formatUserID(msg.RecipientID),
		Content:        msg.Content,
		ConversationID: msg.ConversationID,
		CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	if err := realtime.PublishWithRetry(ctx, s.relay, realtime.DirectChannel(p.ConversationID), payload, s.retryAttempts, s.retryBackoff); err != nil {
		return msg, err
	}
	return msg, nil
}

func (s *MessageService) SendRoom(ctx context.Context, p SendRoomParams) (*domain.RoomMessage, error) {
	msg := &domain.RoomMessage{
		RoomID:   p.RoomID,
		SenderID: p.SenderID,
		Content:  p.Content,
	}
	if err := s.messages.CreateRoom(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist room message: %w", err)
	}

	payload, err := json.Marshal(RoomMessageEvent{
		Type: "message",
		From: formatUserID(msg.SenderID),
		Text: msg.Content,
	})
	if err != nil {
		return nil, err
	}
	if err := realtime.PublishWithRetry(ctx, s.relay, realtime.RoomChannel(p.RoomID), payload, s.retryAttempts, s.retryBackoff); err != nil {
		return msg, err
	}
	return msg, nil
}

func formatUserID(id uint) string { return strconv.FormatUint(uint64(id), 10) }
