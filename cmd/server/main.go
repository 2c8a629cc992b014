package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskportal/infrastructure/cache"
	"taskportal/infrastructure/db"
	"taskportal/infrastructure/ws"
	"taskportal/internal/config"
	httpHandler "taskportal/internal/delivery/http"
	"taskportal/internal/delivery/websocket"
	"taskportal/internal/entity"
	"taskportal/internal/repository"
	"taskportal/internal/usecase"
	"taskportal/pkg/jwt"
	"taskportal/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Message store
	var (
		messageRepo repository.MessageRepository
		health      httpHandler.Pinger
	)
	switch cfg.MessageStore {
	case config.StoreMemory:
		log.Warn("Using in-memory message store; messages are lost on restart")
		messageRepo = repository.NewMemoryMessageRepository()
	default:
		mongoDb, err := db.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, log)
		if err != nil {
			return err
		}
		defer mongoDb.Close(context.Background())

		messageRepo = repository.NewMessageRepository(mongoDb.DB)
		if err := messageRepo.EnsureIndexes(ctx); err != nil {
			return err
		}
		health = mongoDb
	}

	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)

	sent := cache.NewMemCache[entity.Message](cfg.SendDedupeTTL, time.Minute)
	defer sent.Close()

	conversationUc := usecase.NewConversationUsecase(messageRepo, sent, log, usecase.ConversationOptions{
		DefaultPageSize:   cfg.DefaultPageSize,
		MaxPageSize:       cfg.MaxPageSize,
		StaleCursorPolicy: usecase.StaleCursorPolicy(cfg.StaleCursorPolicy),
	})

	// Realtime transport
	var hub ws.IHub
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		redisHub, err := ws.NewRedisHub(ctx, rdb, cfg.ServerID, log)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"redis_addr": cfg.RedisAddr,
			"server_id":  cfg.ServerID,
		}).Info("Using Redis hub")
		hub = redisHub
	} else {
		log.Info("Using in-memory hub (single server)")
		hub = ws.NewHub(log)
	}

	websocketH := websocket.NewWebsocketHandler(hub, conversationUc, jwtManager, cfg.CORSAllowedOrigin, cfg.IdleAfter, log)
	hub.SetOnClientUnregister(websocketH.HandleUnregisterClient)
	go hub.Run()

	router := httpHandler.NewRouter(cfg.CORSAllowedOrigin, log)
	httpHandler.MapHttpRoutes(router,
		httpHandler.NewHttpHandler(conversationUc, hub, log),
		httpHandler.NewHealthHandler(health, version, log),
		websocketH,
		httpHandler.NewAuthMiddleware(jwtManager, log),
	)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server is running")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			hub.Shutdown()
			return err
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Websocket connections are hijacked, so the server does not wait for
	// them; closing the hub sends each a close frame.
	hub.Shutdown()
	return server.Shutdown(shutdownCtx)
}
