// File: internal/middleware/csrf.go
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/iyunix/go-localchat/internal/auth"
)

// CSRFConfig configures CSRFProtection.
type CSRFConfig struct {
	Manager *auth.CSRFManager
	// AllowedOrigins lists extra origins besides the request host.
	AllowedOrigins []string
	// ExemptPaths skip token checks (origin is still checked).
	ExemptPaths []string
	Logger      Logger
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// SessionID returns the session bound to the request by CSRFProtection.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(SessionIDKey).(string)
	return id
}

// CSRFProtection requires a valid X-CSRF-Token on mutating requests. The
// response code tells clients whether refreshing the token can help.
func CSRFProtection(cfg CSRFConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	exempt := make(map[string]bool, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sessionID string
			if cookie, err := r.Cookie(SessionCookieName); err == nil {
				sessionID = cookie.Value
				r = r.WithContext(context.WithValue(r.Context(), SessionIDKey, sessionID))
			}

			if !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if !originAllowed(r, allowed) {
				cfg.Logger.Warn("csrf origin mismatch",
					"origin", r.Header.Get("Origin"),
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()))
				writeCSRFError(w, "Request origin is not allowed.", auth.CodeCSRFOriginMismatch)
				return
			}
			if exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			err := cfg.Manager.Validate(r.Header.Get(CSRFHeader), sessionID)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, auth.ErrCSRFTokenExpired):
				cfg.Logger.Debug("csrf token expired", "path", r.URL.Path)
				writeCSRFError(w, "CSRF token expired.", auth.CodeCSRFTokenExpired)
			default:
				cfg.Logger.Debug("csrf token rejected", "path", r.URL.Path)
				writeCSRFError(w, "CSRF token missing or invalid.", auth.CodeCSRFTokenInvalid)
			}
		})
	}
}

// originAllowed accepts requests without Origin or Referer (non-browser
// clients), same-host origins and configured origins.
func originAllowed(r *http.Request, allowed map[string]bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
}

func writeCSRFError(w http.ResponseWriter, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}
