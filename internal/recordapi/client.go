package recordapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"toolshare/lending"
)

// Client calls a record API server. Every failure it returns carries
// lending.KindExternalServiceFailure.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for baseURL (for example "http://localhost:3000").
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// ListUsers fetches every user row.
func (c *Client) ListUsers(ctx context.Context) ([]lending.UserRecord, error) {
	var out []lending.UserRecord
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateUser posts a new user row.
func (c *Client) CreateUser(ctx context.Context, name, email string) (lending.UserRecord, error) {
	var out lending.UserRecord
	body := CreateUserRequest{Name: name, Email: email}
	if err := c.do(ctx, http.MethodPost, "/api/users", body, &out); err != nil {
		return lending.UserRecord{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return lending.ExternalFailure(fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return lending.ExternalFailure(err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return lending.ExternalFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return lending.ExternalFailure(fmt.Errorf("%s %s: %s", method, path, e.Error))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return lending.ExternalFailure(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
