// Package api is the thin HTTP client for the authentication backend. It
// knows the three auth endpoints and their wire shapes and nothing else;
// request interception, token attachment, and retry policy are installed
// on the underlying resty client by the session controller.
package api

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/netvilleplus/sessionkit/internal/session"
)

const DefaultBaseURL = "https://dashboard.netvilleplus.internal/api"

// AuthResponse is the backend's login and current-user payload. When
// RequiresTwoFactor is set, AccessToken carries the composite temp token
// instead of a usable JWT.
type AuthResponse struct {
	AccessToken       string        `json:"accessToken"`
	Name              string        `json:"name"`
	Roles             []string      `json:"roles"`
	IsLoginSuccessful bool          `json:"isLoginSuccessful"`
	User              *session.User `json:"user,omitempty"`
	RequiresTwoFactor bool          `json:"requiresTwoFactor,omitempty"`
	TempToken         string        `json:"tempToken,omitempty"`
	TwoFactorMessage  string        `json:"twoFactorMessage,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ClientOpts struct {
	BaseURL string
}

type Client struct {
	httpClient *resty.Client
	baseURL    string
}

func NewClient(opts ClientOpts) *Client {
	c := Client{baseURL: DefaultBaseURL}
	if opts.BaseURL != "" {
		c.baseURL = opts.BaseURL
	}
	c.httpClient = resty.New().
		SetDebug(false).
		SetBaseURL(c.baseURL).
		SetHeaders(
			map[string]string{
				"Accept":       "application/json",
				"Content-Type": "application/json",
			},
		)

	return &c
}

// Resty exposes the underlying client so the session controller can
// install its request and response hooks.
func (c *Client) Resty() *resty.Client {
	return c.httpClient
}

func (c *Client) req(ctx context.Context, result any) *resty.Request {
	request := c.httpClient.
		NewRequest().
		SetContext(ctx)

	if result != nil {
		request.SetResult(result)
	}

	return request
}

func (c *Client) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	result := &AuthResponse{}

	_, err := handleError(c.req(ctx, result).
		SetBody(loginRequest{Username: username, Password: password}).
		Post("/auth/login"))

	return result, err
}

func (c *Client) GetCurrentUser(ctx context.Context) (*AuthResponse, error) {
	result := &AuthResponse{}

	_, err := handleError(c.req(ctx, result).
		Get("/auth/user"))

	return result, err
}

// Logout tells the backend to drop the server-side session. Failures are
// logged and swallowed; local teardown proceeds regardless.
func (c *Client) Logout(ctx context.Context) {
	_, err := handleError(c.req(ctx, nil).
		Post("/auth/logout"))
	if err != nil {
		log.Warn().Err(err).Msg("logout request failed")
	}
}

// handleError is a generic error handler for failing response (>399 status
// code). Without this, failing responses would have nil error.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, err
	}
	if res.IsError() {
		return res, fmt.Errorf("request failed: %s %s (status: %d)", res.Request.Method, res.Request.URL, res.StatusCode())
	}

	return res, nil
}
