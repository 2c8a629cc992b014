package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskportal/infrastructure/cache"
	"taskportal/infrastructure/ws"
	"taskportal/internal/entity"
	"taskportal/internal/repository"
	"taskportal/internal/usecase"
	"taskportal/pkg/jwt"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type gateway struct {
	server *httptest.Server
	hub    *ws.Hub
	repo   repository.MessageRepository
	tokens *jwt.JWTManager
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	repo := repository.NewMemoryMessageRepository()
	sent := cache.NewMemCache[entity.Message](time.Minute, 0)
	t.Cleanup(sent.Close)
	uc := usecase.NewConversationUsecase(repo, sent, log, usecase.ConversationOptions{})

	hub := ws.NewHub(log)
	go hub.Run()

	tokens := jwt.NewJWTManager(testSecret, time.Hour)
	h := NewWebsocketHandler(hub, uc, tokens, "*", time.Minute, log)
	hub.SetOnClientUnregister(h.HandleUnregisterClient)

	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(func() {
		hub.Shutdown()
		server.Close()
	})

	return &gateway{server: server, hub: hub, repo: repo, tokens: tokens}
}

func (g *gateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

// connect dials as the given identity and waits for the connected event.
func (g *gateway) connect(t *testing.T, identity entity.Identity) *websocket.Conn {
	t.Helper()
	token, err := g.tokens.GenerateAccessToken(identity, identity.UserId+"@example.com")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(g.url()+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	event, data := readEvent(t, conn)
	require.Equal(t, entity.EventConnected, event)
	var connected Connected
	require.NoError(t, json.Unmarshal(data, &connected))
	require.Equal(t, identity.UserId, connected.UserId)
	require.Equal(t, ws.UserRoom(identity.UserId), connected.Room)

	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := entity.EncodeEvent(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var in entity.Event
	require.NoError(t, json.Unmarshal(raw, &in))
	return in.Event, in.Data
}

// expectOnlyPong proves no event is queued ahead of the pong reply.
func expectOnlyPong(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	emit(t, conn, entity.EventPing, struct{}{})
	event, _ := readEvent(t, conn)
	require.Equal(t, entity.EventPong, event)
}

var (
	u1 = entity.Identity{UserId: "u1", UserType: entity.UserTypeOwner}
	u2 = entity.Identity{UserId: "u2", UserType: entity.UserTypeEmployee}
)

func TestGateway_PrivateMessage(t *testing.T) {
	req := require.New(t)
	g := newGateway(t)
	a := g.connect(t, u1)
	b := g.connect(t, u2)

	// When
	emit(t, a, entity.EventPrivateMessage, PrivateMessage{ToId: "u2", Text: "hi", ClientMessageId: "tmp-1"})

	// Then the recipient gets new_message
	event, data := readEvent(t, b)
	req.Equal(entity.EventNewMessage, event)
	var pushed entity.Message
	req.NoError(json.Unmarshal(data, &pushed))
	req.Equal("hi", pushed.Text)
	req.Equal("u1", pushed.FromId)
	req.Equal(entity.UserTypeOwner, pushed.FromType)
	req.Equal(entity.UserTypeEmployee, pushed.ToType)
	req.Equal("u1_u2", pushed.ConversationId)

	// And the sender gets message_sent with the same id
	event, data = readEvent(t, a)
	req.Equal(entity.EventMessageSent, event)
	var acked entity.Message
	req.NoError(json.Unmarshal(data, &acked))
	req.Equal(pushed.Id, acked.Id)
	req.Equal("tmp-1", acked.ClientMessageId)

	// Exactly one of each
	expectOnlyPong(t, a)
	expectOnlyPong(t, b)

	stored, err := g.repo.Get(context.Background(), pushed.Id)
	req.NoError(err)
	req.False(stored.Read)
}

func TestGateway_BlankTextRejected(t *testing.T) {
	req := require.New(t)
	g := newGateway(t)
	a := g.connect(t, u1)
	b := g.connect(t, u2)

	emit(t, a, entity.EventPrivateMessage, PrivateMessage{ToId: "u2", Text: "   \n", ClientMessageId: "tmp-9"})

	event, data := readEvent(t, a)
	req.Equal(entity.EventMessageError, event)
	var msgErr MessageError
	req.NoError(json.Unmarshal(data, &msgErr))
	req.NotEmpty(msgErr.Error)
	req.Equal("tmp-9", msgErr.ClientMessageId)

	expectOnlyPong(t, b)
	stored, err := g.repo.GetBySender(context.Background(), "u1")
	req.NoError(err)
	req.Empty(stored)

	// The connection survives the error.
	expectOnlyPong(t, a)
}

func TestGateway_MultipleConnectionsPerUser(t *testing.T) {
	req := require.New(t)
	g := newGateway(t)
	a := g.connect(t, u1)
	laptop := g.connect(t, u2)
	phone := g.connect(t, u2)
	req.Equal(2, g.hub.RoomSize(ws.UserRoom("u2")))

	emit(t, a, entity.EventPrivateMessage, PrivateMessage{ToId: "u2", Text: "both of you"})

	for _, conn := range []*websocket.Conn{laptop, phone} {
		event, data := readEvent(t, conn)
		req.Equal(entity.EventNewMessage, event)
		var pushed entity.Message
		req.NoError(json.Unmarshal(data, &pushed))
		req.Equal("both of you", pushed.Text)
	}
}

func TestGateway_Typing(t *testing.T) {
	req := require.New(t)
	g := newGateway(t)
	a := g.connect(t, u1)
	b := g.connect(t, u2)

	emit(t, a, entity.EventTypingMessage, TypingMessage{ToId: "u2", IsTyping: true})

	event, data := readEvent(t, b)
	req.Equal(entity.EventUserTyping, event)
	var typing UserTyping
	req.NoError(json.Unmarshal(data, &typing))
	req.Equal(UserTyping{FromId: "u1", FromType: entity.UserTypeOwner, ToId: "u2", IsTyping: true}, typing)

	// No acknowledgment to the typist.
	expectOnlyPong(t, a)
}

func TestGateway_JoinLeaveConversation(t *testing.T) {
	req := require.New(t)
	g := newGateway(t)
	a := g.connect(t, u1)
	room := ws.ConversationRoom("u1_u2")

	emit(t, a, entity.EventJoinConversation, "u2")
	expectOnlyPong(t, a)
	req.Equal(1, g.hub.RoomSize(room))

	emit(t, a, entity.EventLeaveConversation, ConversationRef{OtherUserId: "u2"})
	expectOnlyPong(t, a)
	req.Zero(g.hub.RoomSize(room))
}

func TestGateway_BadEvents(t *testing.T) {
	req := require.New(t)
	g := newGateway(t)
	a := g.connect(t, u1)

	req.NoError(a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	event, data := readEvent(t, a)
	req.Equal(entity.EventMessageError, event)
	req.Contains(string(data), "malformed event")

	emit(t, a, "shout", struct{}{})
	event, data = readEvent(t, a)
	req.Equal(entity.EventMessageError, event)
	req.Contains(string(data), "unknown event")

	emit(t, a, entity.EventTypingMessage, TypingMessage{IsTyping: true})
	event, _ = readEvent(t, a)
	req.Equal(entity.EventMessageError, event)
}

func TestGateway_DisconnectLeavesRooms(t *testing.T) {
	req := require.New(t)
	g := newGateway(t)
	a := g.connect(t, u1)
	emit(t, a, entity.EventJoinConversation, "u2")
	expectOnlyPong(t, a)

	req.NoError(a.Close())

	req.Eventually(func() bool {
		return g.hub.GetClientCount() == 0 &&
			g.hub.RoomSize(ws.UserRoom("u1")) == 0 &&
			g.hub.RoomSize(ws.ConversationRoom("u1_u2")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_HandshakeAuth(t *testing.T) {
	g := newGateway(t)

	t.Run("missing credential", func(t *testing.T) {
		req := require.New(t)
		_, resp, err := websocket.DefaultDialer.Dial(g.url(), nil)
		req.ErrorIs(err, websocket.ErrBadHandshake)
		req.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("invalid credential", func(t *testing.T) {
		req := require.New(t)
		_, resp, err := websocket.DefaultDialer.Dial(g.url()+"?token=forged", nil)
		req.ErrorIs(err, websocket.ErrBadHandshake)
		req.Equal(http.StatusForbidden, resp.StatusCode)
	})

	t.Run("bearer header", func(t *testing.T) {
		req := require.New(t)
		token, err := g.tokens.GenerateAccessToken(u2, "")
		req.NoError(err)

		conn, _, err := websocket.DefaultDialer.Dial(g.url(), http.Header{"Authorization": {"Bearer " + token}})
		req.NoError(err)
		defer conn.Close()

		event, _ := readEvent(t, conn)
		req.Equal(entity.EventConnected, event)
	})

	require.Zero(t, g.hub.RoomSize(ws.UserRoom("")))
}
