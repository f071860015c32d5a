package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	httpapi "github.com/kestrelchat/kestrel/internal/api/http"
	"github.com/kestrelchat/kestrel/internal/auth"
	"github.com/kestrelchat/kestrel/internal/config"
	"github.com/kestrelchat/kestrel/internal/events"
	"github.com/kestrelchat/kestrel/internal/hub"
	"github.com/kestrelchat/kestrel/internal/repository"
	"github.com/kestrelchat/kestrel/internal/repository/model"
	"github.com/kestrelchat/kestrel/internal/service"
	"github.com/kestrelchat/kestrel/lib/logger/sl"
	"github.com/kestrelchat/kestrel/lib/logger/slogpretty"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	var (
		convRepo     repository.ConversationRepository
		msgRepo      repository.MessageRepository
		docRepo      repository.DocumentRepository
		presenceRepo repository.PresenceRepository
		userRepo     repository.UserRepository
	)
	if cfg.Database.DSN == "" {
		log.Warn("database dsn is empty, using in-memory storage")
		convRepo = repository.NewInMemoryConversationRepository()
		msgRepo = repository.NewInMemoryMessageRepository()
		docRepo = repository.NewInMemoryDocumentRepository()
		presenceRepo = repository.NewInMemoryPresenceRepository()
		userRepo = repository.NewInMemoryUserRepository()
	} else {
		db, err := connectDatabase(cfg.Database)
		if err != nil {
			log.Error("failed to connect database", sl.Err(err))
			os.Exit(1)
		}
		convRepo = repository.NewPostgresConversationRepository(db)
		msgRepo = repository.NewPostgresMessageRepository(db)
		docRepo = repository.NewPostgresDocumentRepository(db)
		presenceRepo = repository.NewPostgresPresenceRepository(db)
		userRepo = repository.NewPostgresUserRepository(db)
	}

	publisher, err := events.NewPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, log)
	if err != nil {
		log.Error("failed to connect event broker", sl.Err(err))
		os.Exit(1)
	}

	h := hub.NewHub()
	verifier := auth.NewVerifier(cfg.Auth.Secret)

	identityService := service.NewIdentityService(userRepo, log)
	presenceService := service.NewPresenceService(presenceRepo, h, publisher, log)
	chatService := service.NewChatService(convRepo, msgRepo, h, presenceService, publisher, log)
	collabService := service.NewCollabService(docRepo, convRepo, h, cfg.Realtime.CollabDebounce, log)
	callService := service.NewCallService(h, identityService, publisher, cfg.Realtime.CallRingTimeout, log)

	wsController := httpapi.NewWSController(verifier, identityService, h, presenceService, chatService, collabService, callService, log)
	restController := httpapi.NewRestController(identityService, chatService, collabService, presenceService, callService)

	router := httpapi.SetupRouter(wsController, restController, verifier)

	srv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("starting application", slog.String("addr", cfg.HTTP.Address), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", sl.Err(err))
	}

	collabService.Flush(shutdownCtx)
	publisher.Close()
	log.Info("stopped")
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	db.AutoMigrate(&model.Conversation{}, &model.Message{}, &model.Document{}, &model.Presence{}, &model.User{})

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
