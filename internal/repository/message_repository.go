//go:generate go run go.uber.org/mock/mockgen -source=message_repository.go -destination=../mocks/mock_message_repository.go -package=mocks
package repository

import (
	"context"
	"errors"
	"taskportal/internal/entity"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messagesCollection = "messages"

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the message store as the conversation core sees it:
// an append-only keyed collection with equality lookups and a single
// mutable field (read).
type MessageRepository interface {
	Create(ctx context.Context, message entity.Message) (string, error)
	Get(ctx context.Context, messageId string) (entity.Message, error)
	GetByConversationId(ctx context.Context, conversationId string) ([]entity.Message, error)
	GetBySender(ctx context.Context, userId string) ([]entity.Message, error)
	GetByRecipient(ctx context.Context, userId string) ([]entity.Message, error)
	GetUnreadInConversation(ctx context.Context, conversationId, readerId string) ([]entity.Message, error)
	MarkAsRead(ctx context.Context, messageId string) error
	CountUnread(ctx context.Context, userId string) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

type messageRepository struct {
	db *mongo.Database
}

func NewMessageRepository(db *mongo.Database) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

func (r *messageRepository) collection() *mongo.Collection {
	return r.db.Collection(messagesCollection)
}

// EnsureIndexes declares the indexes behind every equality query below.
func (r *messageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversationId", Value: 1}}},
		{Keys: bson.D{{Key: "fromId", Value: 1}}},
		{Keys: bson.D{{Key: "toId", Value: 1}, {Key: "read", Value: 1}}},
	})
	return err
}

func (r *messageRepository) Create(ctx context.Context, message entity.Message) (string, error) {
	if message.Id == "" {
		message.Id = uuid.New().String()
	}

	_, err := r.collection().InsertOne(ctx, message)
	if err != nil {
		return "", err
	}

	return message.Id, nil
}

func (r *messageRepository) Get(ctx context.Context, messageId string) (entity.Message, error) {
	filter := bson.M{"_id": messageId}

	var message entity.Message
	err := r.collection().FindOne(ctx, filter).Decode(&message)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.Message{}, ErrMessageNotFound
		}
		return entity.Message{}, err
	}

	return message, nil
}

func (r *messageRepository) GetByConversationId(ctx context.Context, conversationId string) ([]entity.Message, error) {
	return r.find(ctx, bson.M{"conversationId": conversationId})
}

func (r *messageRepository) GetBySender(ctx context.Context, userId string) ([]entity.Message, error) {
	return r.find(ctx, bson.M{"fromId": userId})
}

func (r *messageRepository) GetByRecipient(ctx context.Context, userId string) ([]entity.Message, error) {
	return r.find(ctx, bson.M{"toId": userId})
}

func (r *messageRepository) GetUnreadInConversation(ctx context.Context, conversationId, readerId string) ([]entity.Message, error) {
	return r.find(ctx, bson.M{
		"conversationId": conversationId,
		"toId":           readerId,
		"read":           false,
	})
}

// MarkAsRead sets read=true. Matching an already-read message is success.
func (r *messageRepository) MarkAsRead(ctx context.Context, messageId string) error {
	filter := bson.M{"_id": messageId}
	update := bson.M{
		"$set": bson.M{
			"read": true,
		},
	}

	result, err := r.collection().UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrMessageNotFound
	}

	return nil
}

func (r *messageRepository) CountUnread(ctx context.Context, userId string) (int64, error) {
	filter := bson.M{
		"toId": userId,
		"read": false,
	}

	return r.collection().CountDocuments(ctx, filter)
}

// find has no sort: ordering is the caller's job.
func (r *messageRepository) find(ctx context.Context, filter bson.M) ([]entity.Message, error) {
	cursor, err := r.collection().Find(ctx, filter, options.Find())
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := make([]entity.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}
