package remote

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

	"github.com/pocketdo/pocketdo/internal/task"
)

// TokenSource supplies the bearer token attached to every request.
// Returning an empty token surfaces as ErrAuthRequired without a round trip.
type TokenSource func() (string, error)

// Client is the HTTP implementation of Transport.
//
// Endpoints:
//
//	PUT    {base}/v1/tasks/{id}    push an update
//	DELETE {base}/v1/tasks/{id}    push a delete
//	GET    {base}/v1/changes       pull changes (?since=RFC3339Nano)
//	GET    {base}/v1/health        connectivity probe
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	// BaseURL of the remote authority, e.g. "https://sync.example.com".
	BaseURL string

	// Timeout applied to every request. Exceeding it is a retriable
	// failure. Default: 15s.
	Timeout time.Duration

	// Tokens supplies the bearer token per call.
	Tokens TokenSource
}

// NewClient creates an HTTP transport client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token source cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  cfg.Tokens,
	}, nil
}

// wireTask is the JSON body exchanged with the server.
type wireTask struct {
	task.Task
	Tombstone bool `json:"tombstone,omitempty"`
}

// PushUpdate implements Transport.PushUpdate.
func (c *Client) PushUpdate(ctx context.Context, t *task.Task, baseUpdatedAt time.Time) error {
	body, err := json.Marshal(wireTask{Task: *t})
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}

	endpoint := fmt.Sprintf("%s/v1/tasks/%s", c.baseURL, url.PathEscape(t.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Base-Updated-At", baseUpdatedAt.UTC().Format(time.RFC3339Nano))

	return c.do(req, nil)
}

// PushDelete implements Transport.PushDelete.
func (c *Client) PushDelete(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("%s/v1/tasks/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}

	err = c.do(req, nil)
	// A 404 delete is an ack: the record is already gone on the server.
	var rej *RejectingError
	if errors.As(err, &rej) && rej.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// PullChangesSince implements Transport.PullChangesSince.
func (c *Client) PullChangesSince(ctx context.Context, since *time.Time) ([]Change, error) {
	endpoint := c.baseURL + "/v1/changes"
	if since != nil {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pull request: %w", err)
	}

	var payload struct {
		Changes []wireTask `json:"changes"`
	}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}

	changes := make([]Change, 0, len(payload.Changes))
	for i := range payload.Changes {
		wt := payload.Changes[i]
		t := wt.Task
		changes = append(changes, Change{
			Task:      &t,
			UpdatedAt: wt.UpdatedAt,
			Tombstone: wt.Tombstone,
		})
	}
	return changes, nil
}

// Ping checks whether the server is reachable. Used by the connectivity
// prober; does not require authentication.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Retriable(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return Retriable(fmt.Errorf("health check returned status %d", resp.StatusCode))
	}
	return nil
}

// do executes the request with auth attached and maps the response onto the
// error taxonomy. If out is non-nil, a 2xx body is decoded into it.
func (c *Client) do(req *http.Request, out interface{}) error {
	token, err := c.tokens()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}
	if token == "" {
		return ErrAuthRequired
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failures and client timeouts are retriable.
		return Retriable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return Retriable(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAuthRequired

	case resp.StatusCode >= 500:
		return Retriable(fmt.Errorf("server returned status %d", resp.StatusCode))

	default:
		reason := readReason(resp.Body)
		return &RejectingError{StatusCode: resp.StatusCode, Reason: reason}
	}
}

// readReason extracts a short failure description from an error body.
func readReason(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(data) == 0 {
		return "no details"
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
