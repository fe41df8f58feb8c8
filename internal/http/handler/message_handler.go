package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/middleware"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/response"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/realtime"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/service"
)

type MessageHandler struct {
	messages *service.MessageService
}

func NewMessageHandler(messages *service.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

type directMessageRequest struct {
	RecipientID uint   `json:"recipient_id"`
	Content     string `json:"content"`
}

type roomMessageRequest struct {
	Content string `json:"content"`
}

func (h *MessageHandler) SendDirect(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	conversationID := chi.URLParam(r, "conversation_id")
	var req directMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}
	if req.Content == "" || req.RecipientID == 0 {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "recipient_id and content are required", nil)
		return
	}
	msg, err := h.messages.SendDirect(r.Context(), service.SendDirectParams{
		ConversationID: conversationID,
		SenderID:       identity.UserID,
		RecipientID:    req.RecipientID,
		Content:        req.Content,
	})
	if err != nil {
		if errors.Is(err, realtime.ErrRelayUnavailable) {
			// The row is durable. Only the live fan-out failed.
			response.Error(w, r, http.StatusServiceUnavailable, "RELAY_UNAVAILABLE", "message stored but not delivered", map[string]any{"message_id": msg.ID})
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
	})
}

func (h *MessageHandler) SendRoom(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	roomID := chi.URLParam(r, "room_id")
	var req roomMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}
	if req.Content == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "content is required", nil)
		return
	}
	msg, err := h.messages.SendRoom(r.Context(), service.SendRoomParams{
		RoomID:   roomID,
		SenderID: identity.UserID,
		Content:  req.Content,
	})
	if err != nil {
		if errors.Is(err, realtime.ErrRelayUnavailable) {
			response.Error(w, r, http.StatusServiceUnavailable, "RELAY_UNAVAILABLE", "message stored but not delivered", map[string]any{"message_id": msg.ID})
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"message_id": msg.ID,
		"room_id":    msg.RoomID,
	})
}
