package entity

import "time"

// Conversation is a view over the messages sharing one conversation id,
// as seen by one of its two participants. It is never persisted.
type Conversation struct {
	ConversationId       string    `json:"conversationId"`
	OtherUserId          string    `json:"otherUserId"`
	OtherUserType        UserType  `json:"otherUserType"`
	LastMessage          string    `json:"lastMessage"`
	LastMessageId        string    `json:"lastMessageId"`
	LastMessageTimestamp time.Time `json:"lastMessageTimestamp"`
	Read                 bool      `json:"read"`
}
