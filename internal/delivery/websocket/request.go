package websocket

type PrivateMessage struct {
	ToId            string `json:"toId"`
	Text            string `json:"text"`
	ClientMessageId string `json:"clientMessageId,omitempty"`
}

type TypingMessage struct {
	ToId     string `json:"toId"`
	IsTyping bool   `json:"isTyping"`
}

// ConversationRef names the other participant for join/leave. Clients may
// send it as a bare string or as {"otherUserId": "..."}.
type ConversationRef struct {
	OtherUserId string `json:"otherUserId"`
}
