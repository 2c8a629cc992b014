package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"taskportal/infrastructure/ws"
	"taskportal/internal/entity"
	"taskportal/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type HttpHandler struct {
	conversationUc usecase.ConversationUsecase
	hub            ws.IHub
	log            *logrus.Logger
}

func NewHttpHandler(conversationUc usecase.ConversationUsecase, hub ws.IHub, log *logrus.Logger) *HttpHandler {
	return &HttpHandler{
		conversationUc: conversationUc,
		hub:            hub,
		log:            log,
	}
}

// Method Post /api/messages/send
func (h *HttpHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	var req entity.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message, err := h.conversationUc.CreateMessage(r.Context(), identity, req)
	if err != nil {
		h.logFailure(err, identity.UserId, "Send message failed")
		writeError(w, statusFromError(err), errorMessage(err))
		return
	}

	payload, err := entity.EncodeEvent(entity.EventNewMessage, message)
	if err != nil {
		h.log.WithError(err).WithField("message_id", message.Id).Error("Encoding new_message failed")
	} else {
		h.hub.EmitToRoom(ws.UserRoom(message.ToId), payload)
	}

	writeJSON(w, http.StatusCreated, SendMessageResponse{Success: true, Message: message})
}

// Method Get /api/messages/conversation/:otherUserId?lastMessageId&limit
//
// Fetching a conversation also marks the caller's incoming messages in it
// as read. That step failing does not fail the fetch.
func (h *HttpHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	otherUserId := chi.URLParam(r, "otherUserId")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	messages, err := h.conversationUc.GetConversation(r.Context(), identity.UserId, otherUserId, r.URL.Query().Get("lastMessageId"), limit)
	if err != nil {
		h.logFailure(err, identity.UserId, "Get conversation failed")
		writeError(w, statusFromError(err), errorMessage(err))
		return
	}

	if _, err := h.conversationUc.MarkConversationAsRead(r.Context(), identity.UserId, otherUserId); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"user_id":       identity.UserId,
			"other_user_id": otherUserId,
		}).Warn("Marking conversation as read failed")
	}

	writeJSON(w, http.StatusOK, ConversationResponse{Success: true, Messages: messages})
}

// Method Get /api/messages/conversations
func (h *HttpHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	conversations, err := h.conversationUc.GetUserConversations(r.Context(), identity.UserId)
	if err != nil {
		h.logFailure(err, identity.UserId, "List conversations failed")
		writeError(w, statusFromError(err), errorMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, ConversationsResponse{Success: true, Conversations: conversations})
}

// Method Patch /api/messages/mark-read/:messageId
func (h *HttpHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	if err := h.conversationUc.MarkReceivedMessageAsRead(r.Context(), identity.UserId, chi.URLParam(r, "messageId")); err != nil {
		h.logFailure(err, identity.UserId, "Mark message as read failed")
		writeError(w, statusFromError(err), errorMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true})
}

// Method Get /api/messages/unread-count
func (h *HttpHandler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	n, err := h.conversationUc.GetUnreadCount(r.Context(), identity.UserId)
	if err != nil {
		h.logFailure(err, identity.UserId, "Unread count failed")
		writeError(w, statusFromError(err), errorMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, UnreadCountResponse{Success: true, UnreadCount: n})
}

func (h *HttpHandler) logFailure(err error, userId, msg string) {
	entry := h.log.WithError(err).WithField("user_id", userId)
	if statusFromError(err) == http.StatusInternalServerError {
		entry.Error(msg)
		return
	}
	entry.Debug(msg)
}
