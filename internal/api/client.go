package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"resty.dev/v3"
)

// Client is a thin client for the notification endpoints of the backend
// REST API. It handles bearer authentication and JSON decoding.
type Client struct {
	baseURL string
	rc      *resty.Client
	log     zerolog.Logger
}

// NewClient creates a client for the API rooted at baseURL
// (e.g. https://api.example.com).
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	log := logger.With().Str("component", "api").Logger()
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{log: log.With().Str("source", "resty").Logger()})

	return &Client{
		baseURL: baseURL,
		rc:      rc,
		log:     log,
	}
}

// BaseURL returns the REST root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() error {
	return c.rc.Close()
}

func (c *Client) request(ctx context.Context, token string) *resty.Request {
	return c.rc.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("X-Request-ID", uuid.NewString())
}

// Snapshot fetches the most recent limit notifications and the unread count.
func (c *Client) Snapshot(ctx context.Context, token string, limit int) (*SnapshotResponse, error) {
	var body SnapshotResponse
	resp, err := c.request(ctx, token).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&body).
		Get(PathNotifications)
	if err != nil {
		return nil, fmt.Errorf("executing request GET %s: %w", PathNotifications, err)
	}
	if err := checkStatus(resp, http.MethodGet, PathNotifications); err != nil {
		return nil, err
	}
	if !body.Success {
		return nil, fmt.Errorf("snapshot rejected by server: %q", body.Message)
	}
	return &body, nil
}

// MarkRead confirms that one notification has been read.
func (c *Client) MarkRead(ctx context.Context, token, id string) error {
	resp, err := c.request(ctx, token).
		SetPathParam("id", id).
		Post(PathMarkRead)
	if err != nil {
		return fmt.Errorf("executing request POST %s: %w", PathMarkRead, err)
	}
	return checkStatus(resp, http.MethodPost, PathMarkRead)
}

// MarkAllRead confirms that every notification has been read.
func (c *Client) MarkAllRead(ctx context.Context, token string) error {
	resp, err := c.request(ctx, token).Post(PathMarkAllRead)
	if err != nil {
		return fmt.Errorf("executing request POST %s: %w", PathMarkAllRead, err)
	}
	return checkStatus(resp, http.MethodPost, PathMarkAllRead)
}

func checkStatus(resp *resty.Response, method, path string) error {
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized:
		return &AuthError{Path: path, Message: "token rejected (401)"}
	case code < 200 || code >= 300:
		return &StatusError{Method: method, Path: path, Status: code, Body: resp.String()}
	}
	return nil
}
