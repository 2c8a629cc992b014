package http

import (
	"net/http"

	wsDelivery "taskportal/internal/delivery/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter returns a router carrying the middleware shared by every route.
func NewRouter(allowedOrigin string, log *logrus.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(CORS(allowedOrigin))
	return r
}

func MapHttpRoutes(r *chi.Mux, httpHandler *HttpHandler, healthHandler *HealthHandler, websocketHandler *wsDelivery.WebsocketHandler, authMiddleware *AuthMiddleware) {
	r.Get("/", healthHandler.Banner)
	r.Get("/healthz", healthHandler.Healthz)
	r.Handle("/ws", http.HandlerFunc(websocketHandler.HandleWebSocket))

	// Protected routes
	r.Route("/api/messages", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/send", httpHandler.SendMessage)
		r.Get("/conversation/{otherUserId}", httpHandler.GetConversation)
		r.Get("/conversations", httpHandler.GetConversations)
		r.Patch("/mark-read/{messageId}", httpHandler.MarkAsRead)
		r.Get("/unread-count", httpHandler.GetUnreadCount)
	})
}
