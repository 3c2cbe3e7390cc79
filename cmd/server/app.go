// File: cmd/server/app.go
package main

import (
	"context"
	"io"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/iyunix/go-localchat/internal/auth"
	"github.com/iyunix/go-localchat/internal/config"
	"github.com/iyunix/go-localchat/internal/handlers"
	"github.com/iyunix/go-localchat/internal/ratelimit"
	"github.com/iyunix/go-localchat/internal/repository"
	"github.com/iyunix/go-localchat/internal/repository/conversation"
	"github.com/iyunix/go-localchat/internal/repository/document"
	"github.com/iyunix/go-localchat/internal/repository/message"
	"github.com/iyunix/go-localchat/internal/repository/project"
	"github.com/iyunix/go-localchat/internal/services"
	"github.com/iyunix/go-localchat/internal/services/ai"
	"github.com/iyunix/go-localchat/internal/services/chat"
	"github.com/iyunix/go-localchat/internal/services/retrieval"
)

// Application aggregates the long-lived pieces of the server.
type Application struct {
	Config       *config.Config
	Logger       *services.ProductionLogger
	DB           *gorm.DB
	Hub          *chat.Hub
	Orchestrator *chat.Orchestrator
	Index        retrieval.VectorIndex
	TurnLimiter  *ratelimit.KeyedLimiter
	Handler      http.Handler
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	return repository.Open(repository.Options{
		Driver: cfg.DBDriver,
		DSN:    cfg.DBDSN,
		Debug:  strings.EqualFold(cfg.LogLevel, "DEBUG"),
	})
}

func newApplication(cfg *config.Config, logger *services.ProductionLogger) (*Application, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, err
	}

	// --- Repositories ---
	repoLogger := logger.Named("repository")
	projectRepo := project.NewProjectRepository(db, repoLogger)
	conversationRepo := conversation.NewConversationRepository(db, repoLogger)
	messageRepo := message.NewMessageRepository(db, repoLogger)
	documentRepo := document.NewDocumentRepository(db, repoLogger)

	// --- AI and retrieval ---
	aiConfig := cfg.AIConfig()
	provider, err := ai.NewProvider(aiConfig)
	if err != nil {
		return nil, err
	}
	embedder := ai.NewRetryingEmbedder(provider, aiConfig, logger.Named("ai"))

	retrievalConfig := cfg.RetrievalConfig()
	index, err := retrieval.NewIndex(retrievalConfig, db, logger.Named("retrieval"))
	if err != nil {
		return nil, err
	}
	retrievalService := retrieval.NewService(retrievalConfig, index, embedder, logger.Named("retrieval"))

	// --- Chat ---
	chatConfig := cfg.ChatConfig()
	chatLogger := logger.Named("chat")
	hub := chat.NewHub(chatConfig.SessionRetention, chatLogger)
	rag := chat.NewRAGService(chatConfig, retrievalService, chatLogger)
	orchestrator := chat.NewOrchestrator(chatConfig, conversationRepo, messageRepo, provider, rag, hub, chatLogger)

	chatService, err := services.NewChatService(chatConfig, projectRepo, conversationRepo, messageRepo, orchestrator, logger)
	if err != nil {
		return nil, err
	}
	documentService := services.NewDocumentService(documentRepo, retrievalService, logger)

	// --- HTTP ---
	secret := cfg.CSRFSecret
	if secret == "" {
		// Development only; tokens do not survive a restart.
		secret = auth.NewSessionID() + auth.NewSessionID()
		logger.Warn("CSRF_SECRET not set, using an ephemeral secret")
	}
	csrfManager, err := auth.NewCSRFManager([]byte(secret), cfg.CSRFTokenTTL)
	if err != nil {
		return nil, err
	}

	var limiter *ratelimit.KeyedLimiter
	if rateConfig := cfg.TurnRateConfig(); rateConfig != nil {
		limiter = ratelimit.NewKeyedLimiter(rateConfig)
	}

	httpLogger := logger.Named("http")
	handler := handlers.NewRouter(handlers.RouterConfig{
		Chat:           handlers.NewChatHandler(chatService, httpLogger),
		Streams:        handlers.NewStreamHandler(chatService, chatConfig, httpLogger),
		CSRF:           handlers.NewCSRFHandler(csrfManager, cfg.IsProduction(), httpLogger),
		Documents:      handlers.NewDocumentHandler(documentService, httpLogger),
		Log:            handlers.NewLogHandler(logger.Named("frontend")),
		CSRFManager:    csrfManager,
		AllowedOrigins: cfg.AllowedOrigins,
		TurnLimiter:    limiter,
		Logger:         httpLogger,
	})

	return &Application{
		Config:       cfg,
		Logger:       logger,
		DB:           db,
		Hub:          hub,
		Orchestrator: orchestrator,
		Index:        index,
		TurnLimiter:  limiter,
		Handler:      handler,
	}, nil
}

// StopTurns cancels in-flight turns and waits for their outcome to be
// written.
func (a *Application) StopTurns(ctx context.Context) {
	if err := a.Orchestrator.Shutdown(ctx); err != nil {
		a.Logger.Warn("turns did not stop before the deadline", "error", err)
	}
}

// Close releases external handles.
func (a *Application) Close() {
	if a.TurnLimiter != nil {
		a.TurnLimiter.Close()
	}
	if closer, ok := a.Index.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Warn("failed to close vector index", "error", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
