package client

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/health-companion/server/internal/jsonx"
)

// HTTPClient makes REST calls to the server.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:3000").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetWelcome fetches /api/welcome.
func (c *HTTPClient) GetWelcome() (*Welcome, error) {
	var env envelope[Welcome]
	if err := c.get("/api/welcome", &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// GetHealthStatus fetches /api/health-status.
func (c *HTTPClient) GetHealthStatus() (*HealthStatus, error) {
	var env envelope[HealthStatus]
	if err := c.get("/api/health-status", &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// GetDevices fetches /api/devices.
func (c *HTTPClient) GetDevices() ([]Device, error) {
	var env envelope[[]Device]
	if err := c.get("/api/devices", &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *HTTPClient) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return jsonx.NewDecoder(resp.Body).Decode(out)
}
