// File: internal/auth/csrf.go
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrCSRFTokenExpired = errors.New("csrf token expired")
	ErrCSRFTokenInvalid = errors.New("csrf token invalid")
)

// Error codes returned to clients on a 403.
const (
	CodeCSRFTokenExpired   = "CSRF_TOKEN_EXPIRED"
	CodeCSRFTokenInvalid   = "CSRF_TOKEN_INVALID"
	CodeCSRFOriginMismatch = "CSRF_ORIGIN_MISMATCH"
)

type csrfClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// CSRFManager issues short-lived tokens bound to a browser session id.
type CSRFManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCSRFManager(secret []byte, ttl time.Duration) (*CSRFManager, error) {
	if len(secret) < 16 {
		return nil, errors.New("csrf secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("csrf token ttl must be positive")
	}
	return &CSRFManager{secret: secret, ttl: ttl, now: time.Now}, nil
}

// NewSessionID returns a fresh value for the session cookie.
func NewSessionID() string {
	return uuid.NewString()
}

// Issue signs a token for sessionID and returns it with its expiry.
func (m *CSRFManager) Issue(sessionID string) (string, time.Time, error) {
	if sessionID == "" {
		return "", time.Time{}, errors.New("session id cannot be empty")
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := csrfClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate checks the signature, expiry and session binding of a token.
func (m *CSRFManager) Validate(tokenString, sessionID string) error {
	if tokenString == "" || sessionID == "" {
		return ErrCSRFTokenInvalid
	}

	claims := &csrfClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrCSRFTokenExpired
		}
		return ErrCSRFTokenInvalid
	}
	if !token.Valid || claims.SessionID != sessionID {
		return ErrCSRFTokenInvalid
	}
	return nil
}
