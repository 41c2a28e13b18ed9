// Package api is the REST client for the backend. Every request carries the
// current session token as a bearer header.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrUnauthorized matches 401 responses.
	ErrUnauthorized = errors.New("api: unauthorized")
	// ErrNotFound matches 404 responses.
	ErrNotFound = errors.New("api: not found")
	// ErrConflict matches 409 responses.
	ErrConflict = errors.New("api: conflict")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api status %d", e.StatusCode)
}

// Is lets callers match status classes with errors.Is.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	default:
		return false
	}
}

// ErrorResponse is the backend's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TokenSource returns the bearer token for the next request, or "".
type TokenSource func() string

// Client talks to the REST backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      TokenSource
	log        *zerolog.Logger
}

// NewClient builds a client. token may be nil for unauthenticated use.
func NewClient(httpClient *http.Client, baseURL string, token TokenSource, logger *zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      token,
		log:        logger,
	}
}

func (c *Client) currentToken() string {
	if c.token == nil {
		return ""
	}
	return c.token()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doWithToken(ctx, c.currentToken(), method, path, body, out)
}

func (c *Client) doWithToken(ctx context.Context, token, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("api request")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return nil
	}

	var eb ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
	return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(eb.Error)}
}
