package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Error is the server's uniform rejection shape.
type Error struct {
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Status  int             `json:"status"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

// NetworkError means no response reached us at all.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TokenSource supplies the current credentials. The session store implements
// it and stays the sole writer of persisted tokens.
type TokenSource interface {
	Token() string
	RefreshToken() string
}

// Client talks to the dispatch backend. Every authenticated request carries a
// bearer token plus request-id and client-timestamp headers; a 401 triggers a
// single coalesced token refresh and exactly one retry.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource

	// OnTokenRefresh receives the rotated access token so the session store
	// can persist it. OnAuthExpired fires when refresh itself fails.
	OnTokenRefresh func(token string)
	OnAuthExpired  func()

	refresh singleflight.Group
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.roundTrip(ctx, method, path, body, out, true)
}

// doUnauthenticated is for login/register/refresh, which carry no bearer
// token and must never recurse into the refresh path.
func (c *Client) doUnauthenticated(ctx context.Context, method, path string, body, out any) error {
	return c.roundTrip(ctx, method, path, body, out, false)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any, authed bool) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	err := c.send(ctx, method, path, payload, out, authed)

	var apiErr *Error
	if authed && asError(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		if refreshErr := c.refreshToken(ctx); refreshErr != nil {
			if c.OnAuthExpired != nil {
				c.OnAuthExpired()
			}
			return err
		}
		return c.send(ctx, method, path, payload, out, authed)
	}

	return err
}

func asError(err error, target **Error) bool {
	if err == nil {
		return false
	}
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, out any, authed bool) error {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("X-Client-Timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if authed {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode, Code: "UNKNOWN_ERROR", Message: "request failed"}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr == nil {
			apiErr.Status = resp.StatusCode
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// refreshToken exchanges the refresh token for a new access token. Concurrent
// 401s share one in-flight refresh instead of issuing duplicates.
func (c *Client) refreshToken(ctx context.Context) error {
	_, err, _ := c.refresh.Do("refresh", func() (any, error) {
		rt := c.tokens.RefreshToken()
		if rt == "" {
			return nil, &Error{Status: http.StatusUnauthorized, Code: "NO_REFRESH_TOKEN", Message: "no refresh token"}
		}

		var resp struct {
			Token string `json:"token"`
		}
		if err := c.doUnauthenticated(ctx, http.MethodPost, "/auth/refresh",
			map[string]string{"refreshToken": rt}, &resp); err != nil {
			return nil, err
		}

		if c.OnTokenRefresh != nil {
			c.OnTokenRefresh(resp.Token)
		}
		return resp.Token, nil
	})
	return err
}
