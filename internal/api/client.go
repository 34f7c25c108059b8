// Package api is the HTTP side of the chat server: authentication and
// message history.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Akgit99/message-dash-f/internal/chat"
)

// Credential is a username and password pair.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is what a successful login returns.
type Session struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// TokenSource supplies the bearer token for authenticated requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the server's REST endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, tokens TokenSource, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the server base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Login exchanges a credential for a session token.
func (c *Client) Login(ctx context.Context, cred Credential) (*Session, error) {
	status, body, err := c.doRequest(ctx, http.MethodPost, "/api/auth/login", cred, "")
	if err != nil {
		return nil, &AuthError{Kind: AuthNetwork, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, authFailure(status, body)
	}

	var sess Session
	if err := json.Unmarshal(body, &sess); err != nil {
		return nil, &AuthError{Kind: AuthUnknown, Status: status, Err: fmt.Errorf("decode login response: %w", err)}
	}
	if sess.Token == "" {
		return nil, &AuthError{Kind: AuthUnknown, Status: status, Err: errors.New("login response has no token")}
	}
	c.logger.Info("logged in", zap.String("user_id", sess.UserID))
	return &sess, nil
}

// Signup registers a new account. The caller logs in separately.
func (c *Client) Signup(ctx context.Context, cred Credential) error {
	status, body, err := c.doRequest(ctx, http.MethodPost, "/api/auth/signup", cred, "")
	if err != nil {
		return &AuthError{Kind: AuthNetwork, Err: err}
	}
	if status < 200 || status > 299 {
		return authFailure(status, body)
	}
	c.logger.Info("signed up", zap.String("username", cred.Username))
	return nil
}

// History fetches the stored conversation with peerID.
func (c *Client) History(ctx context.Context, peerID string) ([]chat.Message, error) {
	if c.tokens == nil {
		return nil, &FetchError{Kind: FetchUnauthorized, Err: errors.New("no token source")}
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &FetchError{Kind: FetchUnauthorized, Err: err}
	}

	status, body, err := c.doRequest(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(peerID), nil, token)
	if err != nil {
		return nil, &FetchError{Kind: FetchNetwork, Err: err}
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &FetchError{Kind: FetchUnauthorized, Status: status}
	case status < 200 || status > 299:
		return nil, &FetchError{Kind: FetchServer, Status: status}
	}

	var msgs []chat.Message
	if len(bytes.TrimSpace(body)) == 0 {
		return msgs, nil
	}
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, &FetchError{Kind: FetchServer, Status: status, Err: fmt.Errorf("decode history: %w", err)}
	}
	return msgs, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, token string) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func authFailure(status int, body []byte) *AuthError {
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)

	kind := AuthUnknown
	if status >= 400 && status < 500 {
		kind = AuthRejected
	}
	return &AuthError{Kind: kind, Status: status, Message: payload.Message}
}
