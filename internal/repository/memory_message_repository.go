package repository

import (
	"context"
	"sync"
	"taskportal/internal/entity"

	"github.com/google/uuid"
)

// memoryMessageRepository keeps messages in insertion order. It backs
// MESSAGE_STORE=memory for local runs and the usecase/delivery tests.
type memoryMessageRepository struct {
	mu       sync.RWMutex
	messages []entity.Message
	index    map[string]int
}

func NewMemoryMessageRepository() MessageRepository {
	return &memoryMessageRepository{
		index: make(map[string]int),
	}
}

func (r *memoryMessageRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

func (r *memoryMessageRepository) Create(ctx context.Context, message entity.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if message.Id == "" {
		message.Id = uuid.New().String()
	}
	r.index[message.Id] = len(r.messages)
	r.messages = append(r.messages, message)

	return message.Id, nil
}

func (r *memoryMessageRepository) Get(ctx context.Context, messageId string) (entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[messageId]
	if !ok {
		return entity.Message{}, ErrMessageNotFound
	}
	return r.messages[i], nil
}

func (r *memoryMessageRepository) GetByConversationId(ctx context.Context, conversationId string) ([]entity.Message, error) {
	return r.filter(ctx, func(m entity.Message) bool {
		return m.ConversationId == conversationId
	})
}

func (r *memoryMessageRepository) GetBySender(ctx context.Context, userId string) ([]entity.Message, error) {
	return r.filter(ctx, func(m entity.Message) bool {
		return m.FromId == userId
	})
}

func (r *memoryMessageRepository) GetByRecipient(ctx context.Context, userId string) ([]entity.Message, error) {
	return r.filter(ctx, func(m entity.Message) bool {
		return m.ToId == userId
	})
}

func (r *memoryMessageRepository) GetUnreadInConversation(ctx context.Context, conversationId, readerId string) ([]entity.Message, error) {
	return r.filter(ctx, func(m entity.Message) bool {
		return m.ConversationId == conversationId && m.ToId == readerId && !m.Read
	})
}

func (r *memoryMessageRepository) MarkAsRead(ctx context.Context, messageId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[messageId]
	if !ok {
		return ErrMessageNotFound
	}
	r.messages[i].Read = true

	return nil
}

func (r *memoryMessageRepository) CountUnread(ctx context.Context, userId string) (int64, error) {
	unread, err := r.filter(ctx, func(m entity.Message) bool {
		return m.ToId == userId && !m.Read
	})
	if err != nil {
		return 0, err
	}
	return int64(len(unread)), nil
}

func (r *memoryMessageRepository) filter(ctx context.Context, keep func(entity.Message) bool) ([]entity.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	messages := make([]entity.Message, 0)
	for _, m := range r.messages {
		if keep(m) {
			messages = append(messages, m)
		}
	}

	return messages, nil
}
