// Package client talks to a ServChat server over its HTTP API and change
// feed. It provides the remote sides the livesync, presence and face
// packages depend on.
package client

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
	"sync"
	"time"

	"go.uber.org/zap"

	"servchat/internal/face"
	"servchat/internal/model"
)

const defaultTimeout = 15 * time.Second

var ErrNoToken = errors.New("not logged in")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	base *url.URL
	http *http.Client
	log  *zap.Logger

	mu    sync.RWMutex
	token string
	self  model.User
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, http: hc, log: logger, token: cfg.Token}, nil
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Self returns the user the client is signed in as, once known.
func (c *Client) Self() model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

func (c *Client) setSession(token string, u model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.self = u
}

type loginResponse struct {
	Token    string     `json:"token"`
	User     model.User `json:"user"`
	Distance float64    `json:"distance"`
}

// Login signs in with email and password and keeps the issued token.
func (c *Client) Login(ctx context.Context, email, password string) (model.User, error) {
	var resp loginResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", body, &resp); err != nil {
		return model.User{}, err
	}
	c.setSession(resp.Token, resp.User)
	c.log.Info("logged in", zap.String("user_id", resp.User.ID))
	return resp.User, nil
}

// FaceLogin signs in with a probe descriptor matched on the server.
func (c *Client) FaceLogin(ctx context.Context, probe face.Descriptor) (model.User, float64, error) {
	var resp loginResponse
	body := map[string]any{"descriptor": []float64(probe)}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/face", body, &resp); err != nil {
		return model.User{}, 0, err
	}
	c.setSession(resp.Token, resp.User)
	return resp.User, resp.Distance, nil
}

// References loads every enrolled face reference. It satisfies
// face.ReferenceLoader.
func (c *Client) References(ctx context.Context) ([]face.Reference, error) {
	var resp struct {
		Descriptors []struct {
			UserID     string    `json:"userId"`
			Descriptor []float64 `json:"descriptor"`
		} `json:"descriptors"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/face/descriptors", nil, &resp); err != nil {
		return nil, err
	}
	refs := make([]face.Reference, 0, len(resp.Descriptors))
	for _, d := range resp.Descriptors {
		refs = append(refs, face.Reference{UserID: d.UserID, Descriptor: d.Descriptor})
	}
	return refs, nil
}

// Me refreshes and returns the signed-in user and their permission names.
func (c *Client) Me(ctx context.Context) (model.User, []string, error) {
	var resp struct {
		User        model.User `json:"user"`
		Permissions []string   `json:"permissions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/me", nil, &resp); err != nil {
		return model.User{}, nil, err
	}
	c.setSession(c.Token(), resp.User)
	return resp.User, resp.Permissions, nil
}

func (c *Client) Users(ctx context.Context) ([]model.User, error) {
	var resp struct {
		Users []model.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	p, q, _ := strings.Cut(path, "?")
	u.Path = c.base.Path + p
	u.RawQuery = q
	return u.String()
}

// do sends a JSON request and decodes a JSON response into out when out is
// not nil. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
