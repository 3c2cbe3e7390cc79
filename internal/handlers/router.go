// File: internal/handlers/router.go
package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iyunix/go-localchat/internal/auth"
	"github.com/iyunix/go-localchat/internal/middleware"
	"github.com/iyunix/go-localchat/internal/ratelimit"
)

// RouterConfig carries everything NewRouter wires together. TurnLimiter and
// Documents are optional.
type RouterConfig struct {
	Chat      *ChatHandler
	Streams   *StreamHandler
	CSRF      *CSRFHandler
	Documents *DocumentHandler
	Log       *LogHandler

	CSRFManager    *auth.CSRFManager
	AllowedOrigins []string
	TurnLimiter    *ratelimit.KeyedLimiter
	Logger         Logger
}

const logPath = "/api/log"

// NewRouter builds the HTTP API. Request ids, panic recovery, access logs
// and CORS wrap the router so they also cover unmatched routes and
// preflights.
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.CSRFProtection(middleware.CSRFConfig{
		Manager:        cfg.CSRFManager,
		AllowedOrigins: cfg.AllowedOrigins,
		ExemptPaths:    []string{logPath},
		Logger:         cfg.Logger,
	}))

	limited := func(h http.HandlerFunc) http.Handler {
		if cfg.TurnLimiter == nil {
			return h
		}
		return middleware.RateLimitMiddleware(cfg.TurnLimiter, "turns", cfg.Logger)(h)
	}

	api.HandleFunc("/csrf-token", cfg.CSRF.IssueToken).Methods("GET")
	api.HandleFunc("/log", cfg.Log.LogFrontendEvent).Methods("POST")

	// Projects
	api.HandleFunc("/projects", cfg.Chat.ListProjects).Methods("GET")
	api.HandleFunc("/projects", cfg.Chat.CreateProject).Methods("POST")
	api.HandleFunc("/projects/{id:[0-9]+}", cfg.Chat.GetProject).Methods("GET")
	api.HandleFunc("/projects/{id:[0-9]+}", cfg.Chat.UpdateProject).Methods("PATCH")
	api.HandleFunc("/projects/{id:[0-9]+}", cfg.Chat.DeleteProject).Methods("DELETE")

	// Conversations
	api.HandleFunc("/projects/{id:[0-9]+}/conversations", cfg.Chat.ListConversations).Methods("GET")
	api.HandleFunc("/projects/{id:[0-9]+}/conversations", cfg.Chat.CreateConversation).Methods("POST")
	api.HandleFunc("/conversations/{id:[0-9]+}", cfg.Chat.GetConversation).Methods("GET")
	api.HandleFunc("/conversations/{id:[0-9]+}", cfg.Chat.RenameConversation).Methods("PATCH")
	api.HandleFunc("/conversations/{id:[0-9]+}", cfg.Chat.DeleteConversation).Methods("DELETE")
	api.HandleFunc("/conversations/{id:[0-9]+}/messages", cfg.Chat.ListMessages).Methods("GET")

	// Messages
	api.Handle("/messages/{id:[0-9]+}/regenerate", limited(cfg.Chat.Regenerate)).Methods("POST")
	api.HandleFunc("/messages/{id:[0-9]+}/reaction", cfg.Chat.SetReaction).Methods("PUT")
	api.HandleFunc("/messages/{id:[0-9]+}", cfg.Chat.DeleteMessage).Methods("DELETE")

	// Turns and streams
	api.Handle("/turns", limited(cfg.Chat.StartTurn)).Methods("POST")
	api.HandleFunc("/streams/{id}", cfg.Streams.Stream).Methods("GET")
	api.HandleFunc("/streams/{id}/cancel", cfg.Streams.Cancel).Methods("POST")

	// Documents
	if cfg.Documents != nil {
		api.HandleFunc("/projects/{id:[0-9]+}/documents", cfg.Documents.ListDocuments).Methods("GET")
		api.HandleFunc("/projects/{id:[0-9]+}/documents", cfg.Documents.UploadDocument).Methods("POST")
		api.HandleFunc("/documents/{id:[0-9]+}", cfg.Documents.DeleteDocument).Methods("DELETE")
	}

	var h http.Handler = r
	h = middleware.CORS(cfg.AllowedOrigins)(h)
	h = middleware.LoggingMiddleware(cfg.Logger)(h)
	h = middleware.RecoverPanic(cfg.Logger)(h)
	h = middleware.RequestID(h)
	return h
}
