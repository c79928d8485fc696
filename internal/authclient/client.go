// Package authclient talks to the external identity backend that owns
// accounts and tokens. The funnel never stores passwords; it only holds the
// issued token pair.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jointly/internal/domain"
)

// Backend role names. The backend predates the funnel's role split and
// calls builders professionals.
const (
	BackendRoleLandowner    = "LANDOWNER"
	BackendRoleProfessional = "PROFESSIONAL"
)

// Client is a minimal auth backend HTTP client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: 10 * time.Second,
	}
}

// APIUser is the backend's account shape.
type APIUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// AppRole maps the backend role onto the funnel's roles. Anything that is
// not a professional counts as a landowner.
func (u APIUser) AppRole() domain.Role {
	if u.Role == BackendRoleProfessional {
		return domain.RoleBuilder
	}
	return domain.RoleLandowner
}

// User converts the backend account to the funnel's shape.
func (u APIUser) User() domain.User {
	return domain.User{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.AppRole()}
}

// TokenResponse is what login, register, and refresh return.
type TokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	TokenType    string  `json:"token_type"`
	User         APIUser `json:"user"`
}

// AuthError wraps a non-2xx backend response. Message carries the backend's
// detail field when present.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth backend: status=%d %s", e.StatusCode, e.Message)
}

// Login exchanges credentials for a token pair. The backend takes the
// OAuth2 password form, with the email in the username field.
func (c *Client) Login(ctx context.Context, email, password string) (TokenResponse, error) {
	form := url.Values{
		"username": {email},
		"password": {password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/auth/login",
		strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var resp TokenResponse
	err = c.do(req, &resp)
	return resp, err
}

// Register creates an account. role must be a backend role name.
func (c *Client) Register(ctx context.Context, name, email, password, role string) (TokenResponse, error) {
	if role != BackendRoleLandowner && role != BackendRoleProfessional {
		return TokenResponse{}, fmt.Errorf("invalid backend role %q", role)
	}
	var resp TokenResponse
	err := c.postJSON(ctx, "/api/v1/auth/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
		"role":     role,
	}, &resp)
	return resp, err
}

// Me returns the account behind an access token.
func (c *Client) Me(ctx context.Context, accessToken string) (APIUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/auth/me", nil)
	if err != nil {
		return APIUser{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	var resp APIUser
	err = c.do(req, &resp)
	return resp, err
}

// Refresh trades a refresh token for a new token pair. Both tokens rotate.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	var resp TokenResponse
	err := c.postJSON(ctx, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	}, &resp)
	return resp, err
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &AuthError{StatusCode: res.StatusCode, Message: detailMessage(body, res.Status)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	return nil
}

// detailMessage extracts the backend's detail field, which is either a
// string or an array of validation messages.
func detailMessage(body []byte, fallback string) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return fallback
	}
	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}
	var items []any
	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	}
	return fallback
}
