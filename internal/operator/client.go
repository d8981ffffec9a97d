package operator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/iotreat/internal/domain/configsync"
	"github.com/okian/iotreat/internal/domain/model"
	"github.com/okian/iotreat/internal/domain/settings"
	"github.com/okian/iotreat/internal/domain/species"
)

// APIClient talks to the device's local HTTP API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a client for baseURL.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Recent returns up to limit attempts, newest first.
func (c *APIClient) Recent(ctx context.Context, limit int) ([]model.Attempt, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	var out []model.Attempt
	if err := c.do(ctx, http.MethodGet, "/history?limit="+strconv.Itoa(limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Settings returns the settings in effect on the device.
func (c *APIClient) Settings(ctx context.Context) (map[species.Species]settings.SpeciesSettings, error) {
	var out map[species.Species]settings.SpeciesSettings
	if err := c.do(ctx, http.MethodGet, "/settings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplySettings posts a settings message and returns what the device applied.
func (c *APIClient) ApplySettings(ctx context.Context, payload []byte) (configsync.Updated, error) {
	var out struct {
		Updated configsync.Updated `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPost, "/settings", payload, &out); err != nil {
		return nil, err
	}
	if out.Updated == nil {
		out.Updated = configsync.Updated{}
	}
	return out.Updated, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body []byte, v any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s %s: %d %s", ErrHTTPStatus, method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
