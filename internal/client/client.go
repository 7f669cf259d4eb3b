// Package client is a small Go client for the adminserver and locationserv
// HTTP APIs. Operator tooling such as the smoke command uses it.
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
	"time"

	"eostre.org/internal/auth"
	"eostre.org/internal/location"
)

// APIError is a non 2xx response. It unwraps to the matching auth sentinel so
// callers can use errors.Is against the same errors the services return.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("http %d: %s (request_id=%s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return mapStatus(e.Status) }

func mapStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return auth.ErrInvalidCredentials
	case http.StatusForbidden:
		return auth.ErrForbidden
	case http.StatusNotFound:
		return auth.ErrNotFound
	case http.StatusConflict:
		return auth.ErrConflict
	case http.StatusBadRequest:
		return auth.ErrInvalidInput
	case http.StatusNotAcceptable:
		return auth.ErrEmailUnavailable
	}
	return nil
}

// Tokens is the body returned by login, refresh and switch_account.
type Tokens struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	AccountID        string    `json:"account_id"`
}

// Me mirrors GET /v1/user/me.
type Me struct {
	UserID      string             `json:"user_id"`
	Username    string             `json:"username"`
	UserType    auth.UserType      `json:"user_type"`
	AccountID   string             `json:"account_id"`
	Permissions auth.PermissionMap `json:"permissions"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
}

// Client talks to one base URL. It holds the most recent token pair and
// sends the access token as a Bearer header.
type Client struct {
	base string
	http *http.Client

	tokens Tokens
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokens starts the client with an existing token pair.
func WithTokens(t Tokens) Option {
	return func(c *Client) { c.tokens = t }
}

// New returns a client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: invalid base url %q", baseURL)
	}
	c := &Client{
		base: strings.TrimRight(u.String(), "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Tokens returns the current token pair.
func (c *Client) Tokens() Tokens { return c.tokens }

// Login authenticates with a username or email and stores the issued pair.
// accountID may be empty to take the default account.
func (c *Client) Login(ctx context.Context, identifier, password, accountID string) (Tokens, error) {
	body := map[string]string{"password": password}
	if strings.Contains(identifier, "@") {
		body["email"] = identifier
	} else {
		body["username"] = identifier
	}
	if accountID != "" {
		body["account_id"] = accountID
	}
	return c.exchange(ctx, "/auth/login", body, false)
}

// Refresh trades the stored refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context) (Tokens, error) {
	if c.tokens.RefreshToken == "" {
		return Tokens{}, errors.New("client: no refresh token")
	}
	return c.exchange(ctx, "/auth/refresh", map[string]string{"refresh_token": c.tokens.RefreshToken}, false)
}

// SwitchAccount re-scopes the session to accountID.
func (c *Client) SwitchAccount(ctx context.Context, accountID string) (Tokens, error) {
	return c.exchange(ctx, "/auth/switch_account", map[string]string{"account_id": accountID}, true)
}

func (c *Client) exchange(ctx context.Context, path string, body any, authed bool) (Tokens, error) {
	var out Tokens
	if err := c.do(ctx, http.MethodPost, path, body, &out, authed); err != nil {
		return Tokens{}, err
	}
	// refresh keeps the old refresh token valid and may omit a new one
	if out.RefreshToken == "" {
		out.RefreshToken = c.tokens.RefreshToken
	}
	c.tokens = out
	return out, nil
}

// Me returns the claims of the current access token.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var out Me
	err := c.do(ctx, http.MethodGet, "/v1/user/me", nil, &out, true)
	return out, err
}

// AuthorizedAccounts lists accounts the user currently holds grants on.
func (c *Client) AuthorizedAccounts(ctx context.Context) ([]auth.Account, error) {
	var out []auth.Account
	err := c.do(ctx, http.MethodGet, "/v1/user/authorized_accounts", nil, &out, true)
	return out, err
}

// ListLocations returns the active account's locations, or the named ones
// when ids are given.
func (c *Client) ListLocations(ctx context.Context, ids ...string) ([]location.Location, error) {
	path := "/location"
	if len(ids) > 0 {
		path += "?id=" + url.QueryEscape(strings.Join(ids, ","))
	}
	var out []location.Location
	err := c.do(ctx, http.MethodGet, path, nil, &out, true)
	return out, err
}

// CreateLocation creates a location in the active account.
func (c *Client) CreateLocation(ctx context.Context, in location.Input) (location.Location, error) {
	var out location.Location
	err := c.do(ctx, http.MethodPost, "/location", in, &out, true)
	return out, err
}

// UpdateLocation replaces the writable fields of in.ID.
func (c *Client) UpdateLocation(ctx context.Context, in location.Input) (location.Location, error) {
	var out location.Location
	err := c.do(ctx, http.MethodPut, "/location", in, &out, true)
	return out, err
}

// DeleteLocation soft deletes id.
func (c *Client) DeleteLocation(ctx context.Context, id string) (location.Location, error) {
	var out location.Location
	err := c.do(ctx, http.MethodDelete, "/location?id="+url.QueryEscape(id), nil, &out, true)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if c.tokens.AccessToken == "" {
			return errors.New("client: not logged in")
		}
		req.Header.Set("Authorization", "Bearer "+c.tokens.AccessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error, RequestID: e.RequestID}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// WithTimeout returns a context with a default timeout for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
