package ws

import (
	"sync/atomic"
	"time"

	"taskportal/internal/entity"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
	sendBufferSize = 256
)

// ConnState tracks a connection from upgrade to close.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateJoined
	StateActive
	StateIdle
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type UserClient struct {
	Id       string
	UserId   string
	UserType entity.UserType

	hub  IHub
	conn *websocket.Conn
	send chan []byte
	// rooms is guarded by the hub's lock.
	rooms map[string]struct{}

	state        atomic.Int32
	lastActivity atomic.Int64
	idleAfter    time.Duration
	log          *logrus.Entry
}

func NewUserClient(hub IHub, conn *websocket.Conn, identity entity.Identity, idleAfter time.Duration, log *logrus.Logger) *UserClient {
	id := uuid.New().String()
	c := &UserClient{
		Id:        id,
		UserId:    identity.UserId,
		UserType:  identity.UserType,
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		rooms:     make(map[string]struct{}),
		idleAfter: idleAfter,
		log: log.WithFields(logrus.Fields{
			"conn_id": id,
			"user_id": identity.UserId,
		}),
	}
	c.state.Store(int32(StateAuthenticating))
	c.touch()
	return c
}

func (c *UserClient) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *UserClient) setState(next ConnState) {
	prev := ConnState(c.state.Swap(int32(next)))
	if prev != next {
		c.log.WithFields(logrus.Fields{
			"from": prev.String(),
			"to":   next.String(),
		}).Debug("Connection state changed")
	}
}

// MarkJoined records that the connection sits in its user room.
func (c *UserClient) MarkJoined() {
	c.setState(StateJoined)
}

func (c *UserClient) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *UserClient) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

// ReadPump reads frames until the connection fails and passes each to
// handle in arrival order. It unregisters the client on return.
func (c *UserClient) ReadPump(handle func(client *UserClient, data []byte)) {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
		c.setState(StateDisconnected)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("Unexpected close")
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		if s := c.State(); s == StateJoined || s == StateIdle {
			c.setState(StateActive)
		}

		handle(c, data)
	}
}

// WritePump drains the send queue onto the socket and keeps the
// connection alive with pings. It exits when the hub closes the queue.
func (c *UserClient) WritePump() {
	pingTicker := time.NewTicker(pingPeriod)
	idleTicker := time.NewTicker(c.idleCheckInterval())
	defer func() {
		pingTicker.Stop()
		idleTicker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Debug("Write failed")
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-idleTicker.C:
			if c.idleAfter > 0 && c.State() == StateActive && c.idleFor() >= c.idleAfter {
				c.setState(StateIdle)
			}
		}
	}
}

func (c *UserClient) idleCheckInterval() time.Duration {
	if c.idleAfter <= 0 {
		return pingPeriod
	}
	return max(c.idleAfter/2, 10*time.Millisecond)
}
