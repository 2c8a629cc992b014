package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"taskportal/infrastructure/ws"
	"taskportal/internal/entity"
	"taskportal/internal/usecase"
	"taskportal/pkg/jwt"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type TokenValidator interface {
	ValidateAccessToken(token string) (entity.Identity, error)
}

type WebsocketHandler struct {
	hub            ws.IHub
	conversationUc usecase.ConversationUsecase
	tokens         TokenValidator
	idleAfter      time.Duration
	log            *logrus.Logger
	upgrader       websocket.Upgrader
}

func NewWebsocketHandler(
	hub ws.IHub,
	conversationUc usecase.ConversationUsecase,
	tokens TokenValidator,
	allowedOrigin string,
	idleAfter time.Duration,
	log *logrus.Logger,
) *WebsocketHandler {
	return &WebsocketHandler{
		hub:            hub,
		conversationUc: conversationUc,
		tokens:         tokens,
		idleAfter:      idleAfter,
		log:            log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
	}
}

// HandleWebSocket authenticates the handshake, upgrades, and serves the
// connection until it closes. A missing credential is rejected with 401
// and an invalid one with 403, both before the upgrade.
func (h *WebsocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := jwt.TokenFromRequest(r)
	if token == "" {
		writeHandshakeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	identity, err := h.tokens.ValidateAccessToken(token)
	if err != nil {
		h.log.WithError(err).Debug("Websocket handshake rejected")
		writeHandshakeError(w, http.StatusForbidden, "invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Upgrade failed")
		return
	}

	client := ws.NewUserClient(h.hub, conn, identity, h.idleAfter, h.log)
	h.hub.RegisterClient(client)
	client.MarkJoined()

	go client.WritePump()

	h.reply(client, entity.EventConnected, Connected{
		UserId:   client.UserId,
		UserType: client.UserType,
		Room:     ws.UserRoom(client.UserId),
	})

	client.ReadPump(func(c *ws.UserClient, data []byte) {
		h.handleEvent(ctx, c, data)
	})
}

func (h *WebsocketHandler) HandleUnregisterClient(client *ws.UserClient) error {
	h.log.WithFields(logrus.Fields{
		"conn_id":     client.Id,
		"user_id":     client.UserId,
		"connections": h.hub.RoomSize(ws.UserRoom(client.UserId)),
	}).Debug("Connection closed")
	return nil
}

func (h *WebsocketHandler) handleEvent(ctx context.Context, client *ws.UserClient, data []byte) {
	var in entity.Event
	if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
		h.replyError(client, "malformed event", "")
		return
	}

	switch in.Event {
	case entity.EventPrivateMessage:
		h.handlePrivateMessage(ctx, client, in.Data)
	case entity.EventTypingMessage:
		h.handleTyping(client, in.Data)
	case entity.EventJoinConversation:
		h.handleConversationRoom(client, in.Data, h.hub.Join)
	case entity.EventLeaveConversation:
		h.handleConversationRoom(client, in.Data, h.hub.Leave)
	case entity.EventPing:
		h.reply(client, entity.EventPong, struct{}{})
	default:
		h.log.WithFields(logrus.Fields{
			"user_id": client.UserId,
			"event":   in.Event,
		}).Debug("Unknown event")
		h.replyError(client, "unknown event", "")
	}
}

// handlePrivateMessage persists the message, pushes it to the recipient's
// room and acknowledges the sending connection with the same payload.
func (h *WebsocketHandler) handlePrivateMessage(ctx context.Context, client *ws.UserClient, data json.RawMessage) {
	var req PrivateMessage
	if err := json.Unmarshal(data, &req); err != nil {
		h.replyError(client, "invalid private_message payload", "")
		return
	}

	sender := entity.Identity{UserId: client.UserId, UserType: client.UserType}
	message, err := h.conversationUc.CreateMessage(ctx, sender, entity.SendMessageRequest{
		ToId:            req.ToId,
		Text:            req.Text,
		ClientMessageId: req.ClientMessageId,
	})
	if err != nil {
		fields := logrus.Fields{"user_id": client.UserId, "to_id": req.ToId}
		if errors.Is(err, usecase.ErrValidation) {
			h.log.WithError(err).WithFields(fields).Debug("Rejected private_message")
		} else {
			h.log.WithError(err).WithFields(fields).Error("Failed to send private_message")
		}
		h.replyError(client, clientError(err), req.ClientMessageId)
		return
	}

	payload, err := entity.EncodeEvent(entity.EventNewMessage, message)
	if err != nil {
		h.log.WithError(err).Error("Encoding new_message failed")
		h.replyError(client, "failed to send message", req.ClientMessageId)
		return
	}
	delivered := h.hub.EmitToRoom(ws.UserRoom(message.ToId), payload)

	h.log.WithFields(logrus.Fields{
		"message_id":      message.Id,
		"conversation_id": message.ConversationId,
		"delivered":       delivered,
	}).Debug("Message pushed")

	h.reply(client, entity.EventMessageSent, message)
}

func (h *WebsocketHandler) handleTyping(client *ws.UserClient, data json.RawMessage) {
	var req TypingMessage
	if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.ToId) == "" {
		h.replyError(client, "toId is required", "")
		return
	}

	payload, err := entity.EncodeEvent(entity.EventUserTyping, UserTyping{
		FromId:   client.UserId,
		FromType: client.UserType,
		ToId:     req.ToId,
		IsTyping: req.IsTyping,
	})
	if err != nil {
		return
	}
	h.hub.EmitToRoom(ws.UserRoom(req.ToId), payload)
}

func (h *WebsocketHandler) handleConversationRoom(client *ws.UserClient, data json.RawMessage, apply func(*ws.UserClient, string)) {
	otherUserId := decodeConversationRef(data)
	if otherUserId == "" || otherUserId == client.UserId {
		h.replyError(client, "otherUserId is required", "")
		return
	}
	apply(client, ws.ConversationRoom(entity.ConversationId(client.UserId, otherUserId)))
}

func decodeConversationRef(data json.RawMessage) string {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var ref ConversationRef
	if err := json.Unmarshal(data, &ref); err == nil {
		return strings.TrimSpace(ref.OtherUserId)
	}
	return ""
}

func (h *WebsocketHandler) reply(client *ws.UserClient, event string, data any) {
	payload, err := entity.EncodeEvent(event, data)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("Encoding reply failed")
		return
	}
	h.hub.SendToClient(client, payload)
}

func (h *WebsocketHandler) replyError(client *ws.UserClient, message, clientMessageId string) {
	h.reply(client, entity.EventMessageError, MessageError{
		Error:           message,
		ClientMessageId: clientMessageId,
	})
}

// clientError is the text shown to a client for a failed operation.
// Validation messages are passed through; anything else is generic.
func clientError(err error) string {
	switch {
	case errors.Is(err, usecase.ErrValidation), errors.Is(err, usecase.ErrNotFound):
		return err.Error()
	default:
		return "failed to send message"
	}
}

func writeHandshakeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(handshakeError{Error: message})
}
