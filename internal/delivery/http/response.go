package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"taskportal/internal/entity"
	"taskportal/internal/usecase"
)

type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type SendMessageResponse struct {
	Success bool           `json:"success"`
	Message entity.Message `json:"message"`
}

type ConversationResponse struct {
	Success  bool             `json:"success"`
	Messages []entity.Message `json:"messages"`
}

type ConversationsResponse struct {
	Success       bool                  `json:"success"`
	Conversations []entity.Conversation `json:"conversations"`
}

type UnreadCountResponse struct {
	Success     bool  `json:"success"`
	UnreadCount int64 `json:"unreadCount"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Error: message})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, usecase.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, usecase.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides storage details from clients.
func errorMessage(err error) string {
	if statusFromError(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
