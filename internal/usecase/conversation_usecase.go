package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"taskportal/infrastructure/cache"
	"taskportal/internal/entity"
	"taskportal/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
	MaxTextLength   = 4000
)

// StaleCursorPolicy decides what GetConversation does when the cursor
// names a message that is not part of the conversation.
type StaleCursorPolicy string

const (
	StaleCursorNewest StaleCursorPolicy = "newest"
	StaleCursorReject StaleCursorPolicy = "reject"
)

func (p StaleCursorPolicy) Valid() bool {
	return p == StaleCursorNewest || p == StaleCursorReject
}

type ConversationUsecase interface {
	// Writes
	CreateMessage(ctx context.Context, from entity.Identity, req entity.SendMessageRequest) (entity.Message, error)
	MarkConversationAsRead(ctx context.Context, readerId, otherUserId string) (int, error)
	MarkMessageAsRead(ctx context.Context, messageId string) error
	MarkReceivedMessageAsRead(ctx context.Context, readerId, messageId string) error

	// Reads
	GetConversation(ctx context.Context, userId, otherUserId, beforeMessageId string, pageSize int) ([]entity.Message, error)
	GetUserConversations(ctx context.Context, userId string) ([]entity.Conversation, error)
	GetUnreadCount(ctx context.Context, userId string) (int64, error)
}

type ConversationOptions struct {
	DefaultPageSize   int
	MaxPageSize       int
	StaleCursorPolicy StaleCursorPolicy
	// Now is the clock used for message timestamps. Defaults to time.Now.
	Now func() time.Time
}

type conversationUsecase struct {
	messageRepo repository.MessageRepository
	sent        *cache.MemCache[entity.Message]
	inflight    singleflight.Group
	log         *logrus.Logger
	validate    *validator.Validate
	opts        ConversationOptions

	clockMu  sync.Mutex
	lastSent map[string]time.Time
}

// NewConversationUsecase builds the conversation core. sent remembers
// recently created messages by sender and client message id so that a
// retried send returns the first stored message; nil disables that.
func NewConversationUsecase(
	messageRepo repository.MessageRepository,
	sent *cache.MemCache[entity.Message],
	log *logrus.Logger,
	opts ConversationOptions,
) ConversationUsecase {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = MaxPageSize
	}
	if opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = opts.MaxPageSize
	}
	if !opts.StaleCursorPolicy.Valid() {
		opts.StaleCursorPolicy = StaleCursorNewest
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &conversationUsecase{
		messageRepo: messageRepo,
		sent:        sent,
		log:         log,
		validate:    validator.New(),
		opts:        opts,
		lastSent:    make(map[string]time.Time),
	}
}

// CreateMessage validates and persists a message from the verified sender.
// The recipient role is always the complement of the sender role.
func (u *conversationUsecase) CreateMessage(ctx context.Context, from entity.Identity, req entity.SendMessageRequest) (entity.Message, error) {
	if from.UserId == "" {
		return entity.Message{}, validationError("sender is required")
	}
	if !from.UserType.Valid() {
		return entity.Message{}, validationError("invalid sender type %q", from.UserType)
	}

	req.ToId = strings.TrimSpace(req.ToId)
	req.Text = strings.TrimSpace(req.Text)
	req.ClientMessageId = strings.TrimSpace(req.ClientMessageId)

	if req.ToId == "" || req.Text == "" {
		return entity.Message{}, validationError("toId and text are required")
	}
	if utf8.RuneCountInString(req.Text) > MaxTextLength {
		return entity.Message{}, validationError("text exceeds %d characters", MaxTextLength)
	}
	if err := u.validate.Struct(req); err != nil {
		return entity.Message{}, validationError("%s", err.Error())
	}
	if req.ToId == from.UserId {
		return entity.Message{}, validationError("cannot send a message to yourself")
	}

	if req.ClientMessageId == "" || u.sent == nil {
		return u.storeMessage(ctx, from, req)
	}

	// Concurrent sends with one key share a single store call.
	dedupeKey := from.UserId + ":" + req.ClientMessageId
	v, err, _ := u.inflight.Do(dedupeKey, func() (any, error) {
		if prior, ok := u.sent.Get(dedupeKey); ok {
			u.log.WithFields(logrus.Fields{
				"from_id":           from.UserId,
				"client_message_id": req.ClientMessageId,
				"message_id":        prior.Id,
			}).Debug("Replayed send returns stored message")
			return prior, nil
		}

		message, err := u.storeMessage(ctx, from, req)
		if err != nil {
			return nil, err
		}
		u.sent.Set(dedupeKey, message)
		return message, nil
	})
	if err != nil {
		return entity.Message{}, err
	}
	return v.(entity.Message), nil
}

func (u *conversationUsecase) storeMessage(ctx context.Context, from entity.Identity, req entity.SendMessageRequest) (entity.Message, error) {
	message := entity.Message{
		FromId:          from.UserId,
		FromType:        from.UserType,
		ToId:            req.ToId,
		ToType:          from.UserType.Complement(),
		Text:            req.Text,
		Timestamp:       u.nextTimestamp(from.UserId),
		ConversationId:  entity.ConversationId(from.UserId, req.ToId),
		ClientMessageId: req.ClientMessageId,
	}

	id, err := u.messageRepo.Create(ctx, message)
	if err != nil {
		u.log.WithError(err).WithFields(logrus.Fields{
			"from_id": message.FromId,
			"to_id":   message.ToId,
		}).Error("Failed to store message")
		return entity.Message{}, storageError("create message", err)
	}
	message.Id = id

	u.log.WithFields(logrus.Fields{
		"message_id":      message.Id,
		"conversation_id": message.ConversationId,
		"from_id":         message.FromId,
		"to_id":           message.ToId,
	}).Debug("Message created")

	return message, nil
}

// nextTimestamp returns the current UTC time at millisecond precision,
// bumped so that successive messages from one sender never share or
// reverse a timestamp.
func (u *conversationUsecase) nextTimestamp(senderId string) time.Time {
	now := u.opts.Now().UTC().Truncate(time.Millisecond)

	u.clockMu.Lock()
	defer u.clockMu.Unlock()

	if last, ok := u.lastSent[senderId]; ok && !now.After(last) {
		now = last.Add(time.Millisecond)
	}
	u.lastSent[senderId] = now

	// Entries older than a minute can no longer collide with the clock.
	if len(u.lastSent) > 1024 {
		cutoff := now.Add(-time.Minute)
		for id, ts := range u.lastSent {
			if ts.Before(cutoff) {
				delete(u.lastSent, id)
			}
		}
	}

	return now
}

// GetConversation returns up to pageSize messages between the two users in
// chronological order. With a cursor, the page ends just before the cursor
// message; without one, it is the newest page.
func (u *conversationUsecase) GetConversation(ctx context.Context, userId, otherUserId, beforeMessageId string, pageSize int) ([]entity.Message, error) {
	if userId == "" || otherUserId == "" {
		return nil, validationError("both participants are required")
	}

	conversationId := entity.ConversationId(userId, otherUserId)
	messages, err := u.messageRepo.GetByConversationId(ctx, conversationId)
	if err != nil {
		return nil, storageError("load conversation", err)
	}
	messages = lo.Filter(messages, func(m entity.Message, _ int) bool {
		return m.Between(userId, otherUserId)
	})
	entity.SortMessages(messages)

	end := len(messages)
	if beforeMessageId != "" {
		i := slices.IndexFunc(messages, func(m entity.Message) bool {
			return m.Id == beforeMessageId
		})
		switch {
		case i >= 0:
			end = i
		case u.opts.StaleCursorPolicy == StaleCursorReject:
			return nil, fmt.Errorf("%w: cursor %s is not in conversation %s", ErrNotFound, beforeMessageId, conversationId)
		default:
			u.log.WithFields(logrus.Fields{
				"conversation_id": conversationId,
				"stale_cursor":    beforeMessageId,
			}).Warn("Cursor not found in conversation, returning newest page")
		}
	}

	start := max(0, end-u.pageSize(pageSize))
	page := make([]entity.Message, end-start)
	copy(page, messages[start:end])

	return page, nil
}

func (u *conversationUsecase) pageSize(requested int) int {
	if requested <= 0 {
		return u.opts.DefaultPageSize
	}
	return min(requested, u.opts.MaxPageSize)
}

// MarkConversationAsRead marks every unread message addressed to readerId
// from otherUserId as read and returns how many were updated. Each update
// stands alone: a failure is logged and the rest still apply. It fails only
// when every update failed.
func (u *conversationUsecase) MarkConversationAsRead(ctx context.Context, readerId, otherUserId string) (int, error) {
	if readerId == "" || otherUserId == "" {
		return 0, validationError("both participants are required")
	}

	conversationId := entity.ConversationId(readerId, otherUserId)
	unread, err := u.messageRepo.GetUnreadInConversation(ctx, conversationId, readerId)
	if err != nil {
		return 0, storageError("load unread messages", err)
	}
	unread = lo.Filter(unread, func(m entity.Message, _ int) bool {
		return m.FromId == otherUserId
	})

	var (
		updated int
		errs    []error
	)
	for _, m := range unread {
		err := u.messageRepo.MarkAsRead(ctx, m.Id)
		switch {
		case err == nil:
			updated++
		case errors.Is(err, repository.ErrMessageNotFound):
			// Gone between the read and the write; nothing to mark.
		default:
			errs = append(errs, fmt.Errorf("message %s: %w", m.Id, err))
		}
	}

	if len(errs) > 0 {
		fields := logrus.Fields{
			"conversation_id": conversationId,
			"reader_id":       readerId,
			"updated":         updated,
			"failed":          len(errs),
		}
		if updated == 0 {
			u.log.WithError(errors.Join(errs...)).WithFields(fields).Error("Failed to mark conversation as read")
			return 0, storageError("mark conversation read", errors.Join(errs...))
		}
		u.log.WithError(errors.Join(errs...)).WithFields(fields).Warn("Conversation partially marked as read")
	}

	return updated, nil
}

// MarkMessageAsRead is idempotent; an unknown id is ErrNotFound.
func (u *conversationUsecase) MarkMessageAsRead(ctx context.Context, messageId string) error {
	if messageId == "" {
		return validationError("message id is required")
	}

	err := u.messageRepo.MarkAsRead(ctx, messageId)
	if errors.Is(err, repository.ErrMessageNotFound) {
		return fmt.Errorf("%w: message %s", ErrNotFound, messageId)
	}
	if err != nil {
		return storageError("mark message read", err)
	}

	return nil
}

// MarkReceivedMessageAsRead marks a message read on behalf of readerId, who
// must be its recipient.
func (u *conversationUsecase) MarkReceivedMessageAsRead(ctx context.Context, readerId, messageId string) error {
	if readerId == "" || messageId == "" {
		return validationError("reader and message id are required")
	}

	message, err := u.messageRepo.Get(ctx, messageId)
	if errors.Is(err, repository.ErrMessageNotFound) {
		return fmt.Errorf("%w: message %s", ErrNotFound, messageId)
	}
	if err != nil {
		return storageError("load message", err)
	}
	if message.ToId != readerId {
		return fmt.Errorf("%w: message %s is not addressed to %s", ErrForbidden, messageId, readerId)
	}

	return u.MarkMessageAsRead(ctx, messageId)
}

// GetUserConversations returns one summary per conversation the user takes
// part in, most recent first. Messages are grouped by the other participant
// rather than by conversation id, which two pairs may share.
func (u *conversationUsecase) GetUserConversations(ctx context.Context, userId string) ([]entity.Conversation, error) {
	if userId == "" {
		return nil, validationError("user id is required")
	}

	var sent, received []entity.Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sent, err = u.messageRepo.GetBySender(gctx, userId)
		return err
	})
	g.Go(func() error {
		var err error
		received, err = u.messageRepo.GetByRecipient(gctx, userId)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, storageError("load user messages", err)
	}

	all := lo.UniqBy(append(sent, received...), func(m entity.Message) string {
		return m.Id
	})
	byOther := lo.GroupBy(all, func(m entity.Message) string {
		if m.FromId == userId {
			return m.ToId
		}
		return m.FromId
	})

	conversations := lo.MapToSlice(byOther, func(otherId string, messages []entity.Message) entity.Conversation {
		last := lo.MaxBy(messages, entity.Latest)

		otherType := last.FromType
		if last.FromId == userId {
			otherType = last.ToType
		}

		return entity.Conversation{
			ConversationId:       entity.ConversationId(userId, otherId),
			OtherUserId:          otherId,
			OtherUserType:        otherType,
			LastMessage:          last.Text,
			LastMessageId:        last.Id,
			LastMessageTimestamp: last.Timestamp,
			Read:                 last.ToId != userId || last.Read,
		}
	})

	sort.Slice(conversations, func(i, j int) bool {
		a, b := conversations[i], conversations[j]
		if !a.LastMessageTimestamp.Equal(b.LastMessageTimestamp) {
			return a.LastMessageTimestamp.After(b.LastMessageTimestamp)
		}
		return a.OtherUserId < b.OtherUserId
	})

	return conversations, nil
}

func (u *conversationUsecase) GetUnreadCount(ctx context.Context, userId string) (int64, error) {
	if userId == "" {
		return 0, validationError("user id is required")
	}

	n, err := u.messageRepo.CountUnread(ctx, userId)
	if err != nil {
		return 0, storageError("count unread", err)
	}
	return n, nil
}
