package api

import (
	"context"
	"net/http"

	"github.com/safedrive/go-dispatch-client/internal/models"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterData struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
	Role     string `json:"role"`
}

type AuthResult struct {
	User         models.User `json:"user"`
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
}

type ProfileUpdate struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

func (c *Client) Login(ctx context.Context, creds Credentials) (AuthResult, error) {
	if err := creds.validate(); err != nil {
		return AuthResult{}, err
	}
	var res AuthResult
	err := c.doUnauthenticated(ctx, http.MethodPost, "/auth/login", creds, &res)
	return res, err
}

func (c *Client) Register(ctx context.Context, data RegisterData) (AuthResult, error) {
	if err := data.validate(); err != nil {
		return AuthResult{}, err
	}
	var res AuthResult
	err := c.doUnauthenticated(ctx, http.MethodPost, "/auth/register", data, &res)
	return res, err
}

func (c *Client) Me(ctx context.Context) (models.User, error) {
	var u models.User
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, &u)
	return u, err
}

func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (models.User, error) {
	var u models.User
	err := c.do(ctx, http.MethodPut, "/users/profile", update, &u)
	return u, err
}
