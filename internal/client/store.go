// File: internal/client/store.go
package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Token is a CSRF token and its expiry.
type Token struct {
	Value     string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the token can still be sent at now. A small margin
// avoids sending tokens that expire in flight.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Add(5*time.Second).Before(t.ExpiresAt)
}

// TokenStore persists a token between runs. Implementations may fail; the
// token manager treats the store as best effort.
type TokenStore interface {
	Load() (Token, error)
	Save(Token) error
	Clear() error
}

var errNoToken = errors.New("no stored token")

// MemoryTokenStore keeps the token in process memory.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token Token
}

func (s *MemoryTokenStore) Load() (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token.Value == "" {
		return Token{}, errNoToken
	}
	return s.token, nil
}

func (s *MemoryTokenStore) Save(t Token) error {
	s.mu.Lock()
	s.token = t
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	s.token = Token{}
	s.mu.Unlock()
	return nil
}

// FileTokenStore keeps the token in a JSON file readable only by the user.
type FileTokenStore struct {
	Path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{Path: path}
}

func (s *FileTokenStore) Load() (Token, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return Token{}, err
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, err
	}
	if t.Value == "" {
		return Token{}, errNoToken
	}
	return t, nil
}

func (s *FileTokenStore) Save(t Token) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

func (s *FileTokenStore) Clear() error {
	err := os.Remove(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
