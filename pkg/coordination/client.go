// Package coordination wraps the subset of the Consul HTTP v1 API that
// pgcontrold depends on for KV storage, session-scoped locking, and
// agent-check registration and refresh.
package coordination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/cuemby/pgcontrold/pkg/log"
	"github.com/cuemby/pgcontrold/pkg/metrics"
)

// Client talks to a Consul agent's HTTP API.
type Client struct {
	baseURL string

	httpClient  *http.Client
	retryClient *retryablehttp.Client
}

// NewClient builds a Client against the given base URL, e.g.
// "http://localhost:8500/v1".
func NewClient(baseURL string) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		retryClient: retryClient,
	}
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CoordinationRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// RegisterService registers a named service with the local agent.
func (c *Client) RegisterService(ctx context.Context, name string) error {
	body, _ := json.Marshal(map[string]string{"Name": name})
	err := c.putExpect2xx(ctx, "/agent/service/register", body)
	observe("register_service", err)
	return err
}

// RegisterTTLCheck registers a TTL-based check with the local agent.
// ttlSeconds is the duration the client has to refresh the check before it
// is marked critical.
func (c *Client) RegisterTTLCheck(ctx context.Context, name string, ttlSeconds int) error {
	body, _ := json.Marshal(map[string]string{
		"Name": name,
		"TTL":  fmt.Sprintf("%ds", ttlSeconds),
	})
	err := c.putExpect2xx(ctx, "/agent/check/register", body)
	observe("register_ttl_check", err)
	return err
}

// UpdateCheck pushes a pass/fail TTL refresh for a named check.
func (c *Client) UpdateCheck(ctx context.Context, name string, passing bool) error {
	status := "critical"
	if passing {
		status = "passing"
	}
	body, _ := json.Marshal(map[string]string{"Status": status})
	err := c.putExpect2xx(ctx, "/agent/check/update/"+name, body)
	observe("update_check", err)
	return err
}

// CreateSession creates a session bound to the given check names and
// returns its opaque ID.
func (c *Client) CreateSession(ctx context.Context, checks []string) (string, error) {
	body, _ := json.Marshal(map[string][]string{"Checks": checks})

	resp, err := c.doPlain(ctx, http.MethodPut, "/session/create", body)
	if err != nil {
		observe("create_session", err)
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		observe("create_session", err)
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("create_session: unexpected status %d: %s", resp.StatusCode, string(data))
		observe("create_session", err)
		return "", err
	}

	var parsed struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		observe("create_session", err)
		return "", fmt.Errorf("create_session: decode response: %w", err)
	}
	observe("create_session", nil)
	return parsed.ID, nil
}

// AcquireResult reports the outcome of Acquire.
type AcquireResult struct {
	Leader             bool
	SessionInvalidated bool
}

// Acquire attempts to take the session-scoped lock on key. If the server
// reports the session as invalid (500 with "invalid session" in the body),
// SessionInvalidated is true and Leader is false for this attempt.
func (c *Client) Acquire(ctx context.Context, key, session string, value map[string]string) (AcquireResult, error) {
	body, _ := json.Marshal(value)
	path := fmt.Sprintf("/kv/%s?acquire=%s", key, session)

	resp, err := c.doPlain(ctx, http.MethodPut, path, body)
	if err != nil {
		observe("acquire", err)
		metrics.ElectionAttemptsTotal.WithLabelValues("error").Inc()
		return AcquireResult{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		observe("acquire", err)
		metrics.ElectionAttemptsTotal.WithLabelValues("error").Inc()
		return AcquireResult{}, err
	}

	if resp.StatusCode == http.StatusInternalServerError && strings.Contains(strings.ToLower(string(data)), "invalid session") {
		observe("acquire", nil)
		metrics.ElectionAttemptsTotal.WithLabelValues("follower").Inc()
		return AcquireResult{SessionInvalidated: true}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("acquire: unexpected status %d: %s", resp.StatusCode, string(data))
		observe("acquire", err)
		metrics.ElectionAttemptsTotal.WithLabelValues("error").Inc()
		return AcquireResult{}, err
	}

	leader := strings.TrimSpace(string(data)) == "true"
	observe("acquire", nil)
	if leader {
		metrics.ElectionAttemptsTotal.WithLabelValues("leader").Inc()
	} else {
		metrics.ElectionAttemptsTotal.WithLabelValues("follower").Inc()
	}
	return AcquireResult{Leader: leader}, nil
}

// GetKV fetches the raw value at key. It returns (nil, nil) on 404. Transient
// failures are retried with backoff.
func (c *Client) GetKV(ctx context.Context, key string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url("/kv/"+key+"?raw"), nil)
	if err != nil {
		observe("get_kv", err)
		return nil, err
	}

	resp, err := c.retryClient.Do(req)
	if err != nil {
		observe("get_kv", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		observe("get_kv", nil)
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		observe("get_kv", err)
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("get_kv: unexpected status %d: %s", resp.StatusCode, string(data))
		observe("get_kv", err)
		return nil, err
	}

	observe("get_kv", nil)
	return data, nil
}

// PutKV writes a raw value at key.
func (c *Client) PutKV(ctx context.Context, key string, value []byte) error {
	err := c.putExpect2xx(ctx, "/kv/"+key, value)
	observe("put_kv", err)
	return err
}

func (c *Client) putExpect2xx(ctx context.Context, path string, body []byte) error {
	resp, err := c.doPlain(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: unexpected status %d: %s", path, resp.StatusCode, string(data))
	}
	return nil
}

func (c *Client) doPlain(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	requestID := uuid.New().String()

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithComponent("coordination").Error().Err(err).Str("path", path).Str("request_id", requestID).Msg("request failed")
		return nil, err
	}
	return resp, nil
}
