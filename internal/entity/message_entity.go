package entity

import (
	"sort"
	"strings"
	"time"
)

const conversationIdSeparator = "_"

type Message struct {
	Id              string    `bson:"_id" json:"id"`
	FromId          string    `bson:"fromId" json:"fromId"`
	FromType        UserType  `bson:"fromType" json:"fromType"`
	ToId            string    `bson:"toId" json:"toId"`
	ToType          UserType  `bson:"toType" json:"toType"`
	Text            string    `bson:"text" json:"text"`
	Timestamp       time.Time `bson:"timestamp" json:"timestamp"`
	Read            bool      `bson:"read" json:"read"`
	ConversationId  string    `bson:"conversationId" json:"conversationId"`
	ClientMessageId string    `bson:"clientMessageId,omitempty" json:"clientMessageId,omitempty"`
}

// SendMessageRequest is the caller-supplied part of a new message.
// Sender identity always comes from the verified credential.
type SendMessageRequest struct {
	ToId            string `json:"toId" validate:"required,max=128"`
	Text            string `json:"text" validate:"required,max=4000"`
	ClientMessageId string `json:"clientMessageId,omitempty" validate:"omitempty,max=128"`
}

// ConversationId derives the key shared by every message between a and b.
// It is symmetric: ConversationId(a, b) == ConversationId(b, a).
func ConversationId(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, conversationIdSeparator)
}

// Between reports whether m was exchanged by exactly a and b, in either
// direction. Ids may contain the separator, so ConversationId alone does not
// identify the pair.
func (m Message) Between(a, b string) bool {
	return (m.FromId == a && m.ToId == b) || (m.FromId == b && m.ToId == a)
}

// SortMessages orders messages by timestamp ascending, ties broken by id.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messageBefore(messages[i], messages[j])
	})
}

func messageBefore(a, b Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Id < b.Id
}

// Latest reports whether a is more recent than b under the same order.
func Latest(a, b Message) bool {
	return messageBefore(b, a)
}
