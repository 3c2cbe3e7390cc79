// File: internal/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

const (
	csrfHeader      = "X-CSRF-Token"
	requestIDHeader = "X-Request-ID"
	csrfTokenPath   = "/api/csrf-token"
)

// Logger is the logging surface the client needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}

type Options struct {
	BaseURL string
	// HTTPClient must keep cookies; a client without a jar gets one.
	HTTPClient *http.Client
	TokenStore TokenStore
	Backoff    *Backoff
	Logger     Logger
}

// Client talks to the chat API. It attaches CSRF tokens to mutating
// requests and follows turn streams across connection loss.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenManager
	backoff Backoff
	logger  Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		copied := *httpClient
		copied.Jar = jar
		httpClient = &copied
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	backoff := DefaultBackoff()
	if opts.Backoff != nil {
		backoff = *opts.Backoff
	}

	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		backoff: backoff,
		logger:  logger,
		sleep:   sleepContext,
	}
	c.tokens = NewTokenManager(c.fetchToken, opts.TokenStore, logger)
	return c, nil
}

// Tokens exposes the CSRF token manager.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Do sends a JSON request and decodes the response into out when non-nil.
// A refreshable CSRF rejection triggers one token refresh and one retry.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	resp, sent, err := c.send(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusForbidden && mutating(method) {
		apiErr := readAPIError(resp)
		switch {
		case apiErr.Code == CodeCSRFOriginMismatch:
			return &SecurityError{Code: apiErr.Code, Message: apiErr.Message}
		case refreshable(apiErr.Code):
			c.logger.Debug("csrf token rejected, refreshing", "code", apiErr.Code, "path", path)
			if _, err := c.tokens.Refresh(ctx, sent); err != nil {
				return &TransportError{Op: "refresh csrf token", Err: err}
			}
			resp, _, err = c.send(ctx, method, path, payload)
			if err != nil {
				return err
			}
			if resp.StatusCode == http.StatusForbidden {
				apiErr := readAPIError(resp)
				if apiErr.Code == CodeCSRFOriginMismatch {
					return &SecurityError{Code: apiErr.Code, Message: apiErr.Message}
				}
				return apiErr
			}
		default:
			return apiErr
		}
	}
	return decodeResponse(resp, out)
}

// send performs one attempt and returns the token it carried.
func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, string, error) {
	var token string
	if mutating(method) {
		var err error
		if token, err = c.tokens.Token(ctx); err != nil {
			return nil, "", &TransportError{Op: "fetch csrf token", Err: err}
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(csrfHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, token, &TransportError{Op: method + " " + path, Err: err}
	}
	return resp, token, nil
}

func (c *Client) fetchToken(ctx context.Context) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+csrfTokenPath, nil)
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return Token{}, err
	}
	var tok Token
	if err := decodeResponse(resp, &tok); err != nil {
		return Token{}, err
	}
	return tok, nil
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readAPIError(resp *http.Response) *APIError {
	defer resp.Body.Close()
	var body struct {
		Error     string `json:"error"`
		Code      string `json:"code"`
		Type      string `json:"type"`
		RequestID string `json:"request_id"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &body)

	apiErr := &APIError{
		Status:    resp.StatusCode,
		Code:      body.Code,
		Message:   body.Error,
		RequestID: body.RequestID,
	}
	if apiErr.Code == "" {
		apiErr.Code = body.Type
	}
	if apiErr.RequestID == "" {
		apiErr.RequestID = resp.Header.Get(requestIDHeader)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
