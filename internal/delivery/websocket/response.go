package websocket

import "taskportal/internal/entity"

type Connected struct {
	UserId   string          `json:"userId"`
	UserType entity.UserType `json:"userType"`
	Room     string          `json:"room"`
}

type MessageError struct {
	Error           string `json:"error"`
	ClientMessageId string `json:"clientMessageId,omitempty"`
}

type UserTyping struct {
	FromId   string          `json:"fromId"`
	FromType entity.UserType `json:"fromType"`
	ToId     string          `json:"toId"`
	IsTyping bool            `json:"isTyping"`
}

type handshakeError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
