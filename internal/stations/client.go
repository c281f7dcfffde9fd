package stations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 8 << 20
)

// TokenSource supplies the bearer value sent in the Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client fetches the station list from the station API.
type Client struct {
	BaseURL string
	Tokens  TokenSource
	HTTP    *http.Client // nil uses a client with a 30s timeout
}

type listResponse struct {
	List  []Station `json:"list"`
	Error string    `json:"error,omitempty"`
}

// Fetch requests GET <BaseURL>/stations. An error field in the response, or
// a non-2xx status, is reported as ErrAPI.
func (c *Client) Fetch(ctx context.Context) ([]Station, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return nil, errors.New("station API URL not configured")
	}
	if c.Tokens == nil {
		return nil, errors.New("no token source configured")
	}
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if token == "" {
		return nil, errors.New("no auth token available")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/stations", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")

	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch stations: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out listResponse
	decodeErr := json.Unmarshal(body, &out)
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrAPI, out.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrAPI, resp.Status)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	return out.List, nil
}
