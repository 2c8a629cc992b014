package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const roomChannelPrefix = "rooms:"

// RedisHub is a Hub whose room emits are also published on Redis so that
// connections held by other server instances receive them.
type RedisHub struct {
	*Hub

	redisClient *redis.Client
	pubsub      *redis.PubSub
	serverID    string
}

type RedisMessage struct {
	FromServerID string `json:"fromServerId"`
	Room         string `json:"room"`
	Payload      []byte `json:"payload"`
}

// NewRedisHub subscribes to every room channel and returns once Redis has
// confirmed the subscription.
func NewRedisHub(ctx context.Context, rdb *redis.Client, serverID string, log *logrus.Logger) (*RedisHub, error) {
	pubsub := rdb.PSubscribe(ctx, roomChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to room channels: %w", err)
	}

	return &RedisHub{
		Hub:         NewHub(log),
		redisClient: rdb,
		pubsub:      pubsub,
		serverID:    serverID,
	}, nil
}

func (h *RedisHub) Run() {
	go h.subscribeRedis()
	h.Hub.Run()
}

func (h *RedisHub) Shutdown() {
	if err := h.pubsub.Close(); err != nil {
		h.log.WithError(err).Warn("Closing Redis subscription failed")
	}
	h.Hub.Shutdown()
}

// EmitToRoom delivers locally and publishes for the other instances. The
// returned count covers local connections only.
func (h *RedisHub) EmitToRoom(room string, message []byte) int {
	delivered := h.Hub.EmitToRoom(room, message)
	h.publishToRedis(room, message)
	return delivered
}

func (h *RedisHub) subscribeRedis() {
	ch := h.pubsub.Channel()

	h.log.WithField("server_id", h.serverID).Info("Redis subscriber started")

	for msg := range ch {
		var redisMsg RedisMessage
		if err := json.Unmarshal([]byte(msg.Payload), &redisMsg); err != nil {
			h.log.WithError(err).WithField("channel", msg.Channel).Warn("Dropping malformed Redis message")
			continue
		}

		if redisMsg.FromServerID == h.serverID {
			continue
		}

		h.Hub.EmitToRoom(redisMsg.Room, redisMsg.Payload)
	}
}

func (h *RedisHub) publishToRedis(room string, message []byte) {
	msgBytes, err := json.Marshal(RedisMessage{
		FromServerID: h.serverID,
		Room:         room,
		Payload:      message,
	})
	if err != nil {
		h.log.WithError(err).Error("Encoding Redis message failed")
		return
	}

	if err := h.redisClient.Publish(context.Background(), roomChannelPrefix+room, msgBytes).Err(); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"server_id": h.serverID,
			"room":      room,
		}).Error("Publishing to Redis failed")
	}
}
