package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskportal/infrastructure/cache"
	"taskportal/infrastructure/ws"
	wsDelivery "taskportal/internal/delivery/websocket"
	"taskportal/internal/entity"
	"taskportal/internal/mocks"
	"taskportal/internal/repository"
	"taskportal/internal/usecase"
	"taskportal/pkg/jwt"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testOrigin = "http://localhost:5173"

var (
	owner    = entity.Identity{UserId: "o1", UserType: entity.UserTypeOwner}
	employee = entity.Identity{UserId: "e1", UserType: entity.UserTypeEmployee}
)

type api struct {
	server *httptest.Server
	repo   repository.MessageRepository
	tokens *jwt.JWTManager
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error {
	return errors.New("no reachable servers")
}

func newAPI(t *testing.T, repo repository.MessageRepository, store Pinger) *api {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	sent := cache.NewMemCache[entity.Message](time.Minute, 0)
	t.Cleanup(sent.Close)
	uc := usecase.NewConversationUsecase(repo, sent, log, usecase.ConversationOptions{})

	hub := ws.NewHub(log)
	go hub.Run()

	tokens := jwt.NewJWTManager("test-secret", time.Hour)
	router := NewRouter(testOrigin, log)
	MapHttpRoutes(router,
		NewHttpHandler(uc, hub, log),
		NewHealthHandler(store, "1.0.0", log),
		wsDelivery.NewWebsocketHandler(hub, uc, tokens, testOrigin, time.Minute, log),
		NewAuthMiddleware(tokens, log),
	)

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Shutdown()
		server.Close()
	})

	return &api{server: server, repo: repo, tokens: tokens}
}

func (a *api) token(t *testing.T, identity entity.Identity) string {
	t.Helper()
	token, err := a.tokens.GenerateAccessToken(identity, "")
	require.NoError(t, err)
	return token
}

func (a *api) do(t *testing.T, identity *entity.Identity, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	r, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	if identity != nil {
		r.Header.Set("Authorization", "Bearer "+a.token(t, *identity))
	}

	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (a *api) send(t *testing.T, from entity.Identity, toId, text string) entity.Message {
	t.Helper()
	resp, raw := a.do(t, &from, http.MethodPost, "/api/messages/send", map[string]string{"toId": toId, "text": text})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var body SendMessageResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	require.True(t, body.Success)
	return body.Message
}

func TestAuthMiddleware(t *testing.T) {
	req := require.New(t)
	a := newAPI(t, repository.NewMemoryMessageRepository(), nil)

	// Missing credential
	resp, raw := a.do(t, nil, http.MethodGet, "/api/messages/unread-count", nil)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	req.JSONEq(`{"success":false,"error":"access token required"}`, string(raw))

	// Invalid credential
	r, err := http.NewRequest(http.MethodGet, a.server.URL+"/api/messages/unread-count", nil)
	req.NoError(err)
	r.Header.Set("Authorization", "Bearer forged")
	resp, err = http.DefaultClient.Do(r)
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestSendMessage(t *testing.T) {
	req := require.New(t)
	a := newAPI(t, repository.NewMemoryMessageRepository(), nil)

	// Given the recipient is connected
	wsURL := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/ws?token=" + a.token(t, owner)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	req.NoError(err)
	defer conn.Close()
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var connected entity.Event
	req.NoError(conn.ReadJSON(&connected))
	req.Equal(entity.EventConnected, connected.Event)

	// When
	m := a.send(t, employee, "o1", " status update ")

	// Then
	req.Equal("status update", m.Text)
	req.Equal("e1", m.FromId)
	req.Equal(entity.UserTypeEmployee, m.FromType)
	req.Equal(entity.UserTypeOwner, m.ToType)

	var pushed entity.Event
	req.NoError(conn.ReadJSON(&pushed))
	req.Equal(entity.EventNewMessage, pushed.Event)
	var pushedMessage entity.Message
	req.NoError(json.Unmarshal(pushed.Data, &pushedMessage))
	req.Equal(m.Id, pushedMessage.Id)
}

func TestSendMessage_Rejected(t *testing.T) {
	req := require.New(t)
	repo := repository.NewMemoryMessageRepository()
	a := newAPI(t, repo, nil)

	resp, raw := a.do(t, &employee, http.MethodPost, "/api/messages/send", map[string]string{"toId": "o1", "text": "   "})
	req.Equal(http.StatusBadRequest, resp.StatusCode)
	req.Contains(string(raw), `"success":false`)

	resp, _ = a.do(t, &employee, http.MethodPost, "/api/messages/send", map[string]string{"text": "hi"})
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(t, &employee, http.MethodPost, "/api/messages/send", "not an object")
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	stored, err := repo.GetBySender(context.Background(), "e1")
	req.NoError(err)
	req.Empty(stored)
}

func TestGetConversation_MarksRead(t *testing.T) {
	req := require.New(t)
	a := newAPI(t, repository.NewMemoryMessageRepository(), nil)

	sent := a.send(t, employee, "o1", "done with task 4")
	a.send(t, owner, "e1", "thanks")

	// When
	resp, raw := a.do(t, &owner, http.MethodGet, "/api/messages/conversation/e1", nil)

	// Then the page reflects state before the read-marking
	req.Equal(http.StatusOK, resp.StatusCode)
	var body ConversationResponse
	req.NoError(json.Unmarshal(raw, &body))
	req.True(body.Success)
	req.Len(body.Messages, 2)
	req.Equal(sent.Id, body.Messages[0].Id)
	req.False(body.Messages[0].Read)

	// And the owner's unread count drops to zero
	resp, raw = a.do(t, &owner, http.MethodGet, "/api/messages/unread-count", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.JSONEq(`{"success":true,"unreadCount":0}`, string(raw))

	// The employee's reply is still unread on their side
	resp, raw = a.do(t, &employee, http.MethodGet, "/api/messages/unread-count", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.JSONEq(`{"success":true,"unreadCount":1}`, string(raw))
}

func TestGetConversation_Paging(t *testing.T) {
	req := require.New(t)
	a := newAPI(t, repository.NewMemoryMessageRepository(), nil)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, a.send(t, owner, "e1", "m").Id)
	}

	resp, raw := a.do(t, &employee, http.MethodGet, "/api/messages/conversation/o1?limit=2", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	var page ConversationResponse
	req.NoError(json.Unmarshal(raw, &page))
	req.Len(page.Messages, 2)
	req.Equal(ids[4], page.Messages[1].Id)

	resp, raw = a.do(t, &employee, http.MethodGet, "/api/messages/conversation/o1?limit=2&lastMessageId="+page.Messages[0].Id, nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.NoError(json.Unmarshal(raw, &page))
	req.Equal([]string{ids[1], ids[2]}, []string{page.Messages[0].Id, page.Messages[1].Id})

	resp, _ = a.do(t, &employee, http.MethodGet, "/api/messages/conversation/o1?limit=abc", nil)
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	// An empty conversation is an empty list, not null.
	resp, raw = a.do(t, &employee, http.MethodGet, "/api/messages/conversation/o2", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.JSONEq(`{"success":true,"messages":[]}`, string(raw))
}

func TestGetConversations(t *testing.T) {
	req := require.New(t)
	a := newAPI(t, repository.NewMemoryMessageRepository(), nil)
	a.send(t, owner, "e1", "first")
	last := a.send(t, employee, "o1", "latest")

	resp, raw := a.do(t, &owner, http.MethodGet, "/api/messages/conversations", nil)

	req.Equal(http.StatusOK, resp.StatusCode)
	var body ConversationsResponse
	req.NoError(json.Unmarshal(raw, &body))
	req.Len(body.Conversations, 1)
	req.Equal("e1", body.Conversations[0].OtherUserId)
	req.Equal(last.Id, body.Conversations[0].LastMessageId)
	req.False(body.Conversations[0].Read)
}

func TestMarkAsRead(t *testing.T) {
	req := require.New(t)
	a := newAPI(t, repository.NewMemoryMessageRepository(), nil)
	m := a.send(t, owner, "e1", "please review")

	resp, raw := a.do(t, &employee, http.MethodPatch, "/api/messages/mark-read/"+m.Id, nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.JSONEq(`{"success":true}`, string(raw))

	resp, _ = a.do(t, &employee, http.MethodPatch, "/api/messages/mark-read/"+m.Id, nil)
	req.Equal(http.StatusOK, resp.StatusCode)

	resp, _ = a.do(t, &employee, http.MethodPatch, "/api/messages/mark-read/unknown", nil)
	req.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestMarkAsRead_RecipientOnly(t *testing.T) {
	req := require.New(t)
	repo := repository.NewMemoryMessageRepository()
	a := newAPI(t, repo, nil)
	e2 := entity.Identity{UserId: "e2", UserType: entity.UserTypeEmployee}
	m := a.send(t, owner, "e1", "for e1 only")

	for _, who := range []entity.Identity{e2, owner} {
		resp, raw := a.do(t, &who, http.MethodPatch, "/api/messages/mark-read/"+m.Id, nil)
		req.Equal(http.StatusForbidden, resp.StatusCode, string(raw))
	}

	stored, err := repo.Get(context.Background(), m.Id)
	req.NoError(err)
	req.False(stored.Read)
}

func TestRequestLogger_UsesLogrus(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	log := logrus.New()
	log.SetOutput(&out)
	log.SetFormatter(&logrus.JSONFormatter{})

	router := NewRouter(testOrigin, log)
	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	req.Equal(http.StatusTeapot, rec.Code)

	var line map[string]any
	req.NoError(json.Unmarshal(out.Bytes(), &line))
	req.Equal("Request completed", line["msg"])
	req.Equal("GET", line["method"])
	req.Equal("/ping", line["path"])
	req.EqualValues(http.StatusTeapot, line["status"])
	req.NotEmpty(line["request_id"])
}

func TestStorageFailures(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockMessageRepository(ctrl)
	a := newAPI(t, repo, nil)
	down := errors.New("server selection timeout")

	repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return("", down)
	resp, raw := a.do(t, &owner, http.MethodPost, "/api/messages/send", map[string]string{"toId": "e1", "text": "hi"})
	req.Equal(http.StatusInternalServerError, resp.StatusCode)
	req.JSONEq(`{"success":false,"error":"internal server error"}`, string(raw))

	repo.EXPECT().CountUnread(gomock.Any(), "o1").Return(int64(0), down)
	resp, _ = a.do(t, &owner, http.MethodGet, "/api/messages/unread-count", nil)
	req.Equal(http.StatusInternalServerError, resp.StatusCode)

	repo.EXPECT().GetBySender(gomock.Any(), "o1").Return(nil, down)
	repo.EXPECT().GetByRecipient(gomock.Any(), "o1").Return(nil, nil).AnyTimes()
	resp, _ = a.do(t, &owner, http.MethodGet, "/api/messages/conversations", nil)
	req.Equal(http.StatusInternalServerError, resp.StatusCode)

	// A failed read-marking does not fail the fetch.
	repo.EXPECT().GetByConversationId(gomock.Any(), "e1_o1").Return([]entity.Message{}, nil)
	repo.EXPECT().GetUnreadInConversation(gomock.Any(), "e1_o1", "o1").Return(nil, down)
	resp, _ = a.do(t, &owner, http.MethodGet, "/api/messages/conversation/e1", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	req := require.New(t)

	a := newAPI(t, repository.NewMemoryMessageRepository(), nil)
	resp, raw := a.do(t, nil, http.MethodGet, "/", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	var banner BannerResponse
	req.NoError(json.Unmarshal(raw, &banner))
	req.Equal("running", banner.Status)
	req.Equal("1.0.0", banner.Version)

	resp, _ = a.do(t, nil, http.MethodGet, "/healthz", nil)
	req.Equal(http.StatusOK, resp.StatusCode)

	broken := newAPI(t, repository.NewMemoryMessageRepository(), failingPinger{})
	resp, raw = broken.do(t, nil, http.MethodGet, "/healthz", nil)
	req.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	req.Contains(string(raw), "unavailable")
}

func TestCORSPreflight(t *testing.T) {
	req := require.New(t)
	a := newAPI(t, repository.NewMemoryMessageRepository(), nil)

	resp, _ := a.do(t, nil, http.MethodOptions, "/api/messages/send", nil)

	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	req.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "PATCH")
}
