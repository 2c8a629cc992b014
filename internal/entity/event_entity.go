package entity

import "encoding/json"

// Realtime event names. Clients send the first group and receive the second.
const (
	EventPrivateMessage    = "private_message"
	EventTypingMessage     = "typing_message"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventPing              = "ping"

	EventConnected    = "connected"
	EventNewMessage   = "new_message"
	EventMessageSent  = "message_sent"
	EventMessageError = "message_error"
	EventUserTyping   = "user_typing_message"
	EventPong         = "pong"
)

// Event is the envelope of every frame on the realtime channel.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func EncodeEvent(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Event: name, Data: raw})
}
