// File: internal/handlers/csrf_handler.go
package handlers

import (
	"net/http"
	"time"

	"github.com/iyunix/go-localchat/internal/auth"
	"github.com/iyunix/go-localchat/internal/middleware"
)

type CSRFHandler struct {
	manager      *auth.CSRFManager
	secureCookie bool
	logger       Logger
}

func NewCSRFHandler(manager *auth.CSRFManager, secureCookie bool, logger Logger) *CSRFHandler {
	return &CSRFHandler{manager: manager, secureCookie: secureCookie, logger: logger}
}

type csrfTokenResponse struct {
	CSRFToken string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken returns a token bound to the caller's session, starting a
// session when the request carries none.
func (h *CSRFHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionID(r.Context())
	if sessionID == "" {
		sessionID = auth.NewSessionID()
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.SessionCookieName,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteStrictMode,
		})
	}

	token, expiresAt, err := h.manager.Issue(sessionID)
	if err != nil {
		h.logger.Error("failed to issue csrf token", "error", err)
		writeError(w, "Could not issue token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, csrfTokenResponse{CSRFToken: token, ExpiresAt: expiresAt})
}
