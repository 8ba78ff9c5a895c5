package api

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Principal is the user object returned by login and refresh
type Principal struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	UserType string `json:"userType"`
}

// RefreshRequest carries a refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// SessionResponse is returned by login and refresh
type SessionResponse struct {
	Success      bool      `json:"success"`
	User         Principal `json:"user"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    int       `json:"expiresIn"`
}

// MeResponse describes the holder of an access token
type MeResponse struct {
	Success   bool      `json:"success"`
	User      Principal `json:"user"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

var errEmptySession = errors.New("server returned an incomplete session")

func checkSession(s *SessionResponse) (*SessionResponse, error) {
	if s.Token == "" || s.RefreshToken == "" {
		return nil, errEmptySession
	}
	return s, nil
}

// Login authenticates a principal of userType ("admin" or "organization")
func (c *Client) Login(ctx context.Context, email, password, userType string) (*SessionResponse, error) {
	var resp SessionResponse
	req := LoginRequest{Email: email, Password: password, UserType: userType}
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, "", &resp); err != nil {
		return nil, err
	}
	return checkSession(&resp)
}

// Refresh rotates refreshToken. It makes exactly one attempt.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, "", &resp); err != nil {
		return nil, err
	}
	return checkSession(&resp)
}

// Revoke revokes refreshToken on the server (logout)
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", RefreshRequest{RefreshToken: refreshToken}, "", nil)
}

// Me returns the identity behind accessToken
func (c *Client) Me(ctx context.Context, accessToken string) (*MeResponse, error) {
	var resp MeResponse
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, accessToken, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
