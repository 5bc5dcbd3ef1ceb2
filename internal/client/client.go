// Package client provides an HTTP client for the musclefoot /admin/* endpoints.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the server address used when none is configured.
const DefaultBaseURL = "http://localhost:8080"

// AdminClient talks to the server's /admin/* endpoints.
type AdminClient struct {
	base   string
	secret string
	http   *http.Client
}

// New creates an AdminClient with a 5-second timeout. secret is sent as a
// bearer token when non-empty.
func New(baseURL, secret string) *AdminClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &AdminClient{
		base:   strings.TrimRight(baseURL, "/"),
		secret: secret,
		http:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Health checks GET /admin/health. Returns (ok, response body or error message).
func (c *AdminClient) Health() (bool, string) {
	status, body, err := c.do(http.MethodGet, "/admin/health", nil)
	if err != nil {
		return false, err.Error()
	}
	if status == http.StatusOK {
		return true, body
	}
	return false, fmt.Sprintf("status %d: %s", status, body)
}

// Time calls GET /admin/time.
func (c *AdminClient) Time() (string, error) {
	return c.expect(http.MethodGet, "/admin/time", nil, http.StatusOK)
}

// Advance moves the server's simulated clock forward by d.
func (c *AdminClient) Advance(d time.Duration) (string, error) {
	return c.expect(http.MethodPost, "/admin/time/advance", map[string]string{"duration": d.String()}, http.StatusOK)
}

// ResetTime returns the simulated clock to real time.
func (c *AdminClient) ResetTime() (string, error) {
	return c.expect(http.MethodPost, "/admin/time/reset", nil, http.StatusOK)
}

// State returns the views of every live session.
func (c *AdminClient) State() (string, error) {
	return c.expect(http.MethodGet, "/admin/state", nil, http.StatusOK)
}

// Player returns the view of one live session.
func (c *AdminClient) Player(id int64) (string, error) {
	return c.expect(http.MethodGet, "/admin/state/"+strconv.FormatInt(id, 10), nil, http.StatusOK)
}

// SaveAll forces a remote save of every live session.
func (c *AdminClient) SaveAll() (string, error) {
	return c.expect(http.MethodPost, "/admin/save", nil, http.StatusOK)
}

// Online signals restored connectivity, draining every offline queue.
func (c *AdminClient) Online() (string, error) {
	return c.expect(http.MethodPost, "/admin/online", nil, http.StatusOK)
}

// Requests returns the recent request log.
func (c *AdminClient) Requests() (string, error) {
	return c.expect(http.MethodGet, "/admin/requests", nil, http.StatusOK)
}

// InjectFault makes requests to path fail with status.
func (c *AdminClient) InjectFault(path string, status int) (string, error) {
	return c.expect(http.MethodPost, "/admin/fault/"+strings.TrimPrefix(path, "/"),
		map[string]int{"status_code": status}, http.StatusOK)
}

// RemoveFault clears the fault on path.
func (c *AdminClient) RemoveFault(path string) (string, error) {
	return c.expect(http.MethodDelete, "/admin/fault/"+strings.TrimPrefix(path, "/"), nil, http.StatusOK)
}

// MintToken issues a player token for the host user id. A zero ttl uses
// the server default.
func (c *AdminClient) MintToken(id int64, name string, ttl time.Duration) (string, error) {
	req := map[string]any{"id": id, "name": name}
	if ttl > 0 {
		req["ttl"] = ttl.String()
	}
	body, err := c.expect(http.MethodPost, "/admin/tokens", req, http.StatusCreated)
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("no token in response: %s", body)
	}
	return out.Token, nil
}

func (c *AdminClient) expect(method, path string, payload any, want int) (string, error) {
	status, body, err := c.do(method, path, payload)
	if err != nil {
		return "", err
	}
	if status != want {
		return "", fmt.Errorf("%s %s returned status %d: %s", method, path, status, body)
	}
	return body, nil
}

func (c *AdminClient) do(method, path string, payload any) (int, string, error) {
	var r io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, "", fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		return 0, "", err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}
