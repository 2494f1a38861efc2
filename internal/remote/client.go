// Package remote provides the HTTP client for the sync server: pulling
// content and pushing queued mutations.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/models"
)

// ForceHeader asks the server to apply a mutation over a diverged record.
const ForceHeader = "X-Sync-Force"

// MutationIDHeader carries the queued mutation id so the server can
// deduplicate retried pushes.
const MutationIDHeader = "X-Mutation-Id"

// ErrConflict matches any push the server rejected because the entity's
// server-side state diverged.
var ErrConflict = stderrors.New("remote: conflicting server state")

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is reports a 409 as ErrConflict.
func (e *StatusError) Is(target error) bool {
	return target == ErrConflict && e.StatusCode == http.StatusConflict
}

// Config holds remote endpoint settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// PushOptions modifies a single push.
type PushOptions struct {
	Force bool
}

// Client talks to the sync server over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new Client.
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Pull fetches the current items of contentType changed since the given
// epoch-ms cursor. A nil cursor fetches everything.
func (c *Client) Pull(ctx context.Context, contentType string, since *int64) ([]json.RawMessage, error) {
	path := "/api/offline/" + url.PathEscape(contentType)
	if since != nil {
		path += "?since=" + strconv.FormatInt(*since, 10)
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, errors.Wrap(errors.ErrRemoteUnavailable, "failed to parse "+contentType+" response", err)
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items, nil
}

// Push applies one queued mutation on the server. create is POST, update is
// PUT and delete is DELETE against /api/{entity}.
func (c *Client) Push(ctx context.Context, m models.QueuedMutation, opts PushOptions) error {
	method, err := methodFor(m.Type)
	if err != nil {
		return err
	}

	path := "/api/" + url.PathEscape(m.Entity)
	var body io.Reader
	if method == http.MethodDelete {
		if id, ok := m.Payload["id"].(string); ok && id != "" {
			path += "?id=" + url.QueryEscape(id)
		}
	} else {
		data, err := json.Marshal(m.Payload)
		if err != nil {
			return errors.Wrap(errors.ErrInvalid, "mutation payload is not serializable", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set(MutationIDHeader, m.ID)
	if opts.Force {
		req.Header.Set(ForceHeader, "true")
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// methodFor maps a mutation type to its HTTP method.
func methodFor(t models.MutationType) (string, error) {
	switch t {
	case models.MutationCreate:
		return http.MethodPost, nil
	case models.MutationUpdate:
		return http.MethodPut, nil
	case models.MutationDelete:
		return http.MethodDelete, nil
	default:
		return "", errors.Newf(errors.ErrInvalid, "unknown mutation type %q", t)
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c.config.BaseURL == "" {
		return nil, errors.New(errors.ErrConfigInvalid, "remote base URL is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "failed to build request", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	return req, nil
}

// do executes req and turns transport failures and non-2xx responses into
// errors. The caller closes the body of a successful response.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRemoteUnavailable,
			fmt.Sprintf("%s %s failed", req.Method, req.URL.Path), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	return resp, nil
}
