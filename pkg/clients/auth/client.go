package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/farmledger/internal/config"
)

// ErrInvalidToken is returned when the auth service rejects a bearer token.
var ErrInvalidToken = errors.New("invalid access token")

// User is the identity the auth service returns for a valid token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Verifier resolves bearer tokens to users.
type Verifier interface {
	GetUser(ctx context.Context, token string) (User, error)
}

// Client talks to the hosted auth service (GoTrue compatible).
type Client struct {
	httpClient *resty.Client
}

// NewClient builds an auth client from cfg.
func NewClient(cfg config.AuthConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("apikey", cfg.APIKey).
		SetTimeout(10 * time.Second)

	return &Client{httpClient: httpClient}
}

// GetUser returns the user owning token.
func (c *Client) GetUser(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrInvalidToken
	}

	var user User
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&user).
		Get("/auth/v1/user")
	if err != nil {
		return User{}, fmt.Errorf("verify token: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return User{}, ErrInvalidToken
	case resp.IsError():
		return User{}, fmt.Errorf("auth service returned status %d", code)
	}

	if user.ID == "" {
		return User{}, ErrInvalidToken
	}
	return user, nil
}
