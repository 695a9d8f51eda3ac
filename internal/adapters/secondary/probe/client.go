// Package probe asks the serving process which artifact version it has
// loaded, via the version endpoint the inference API exposes.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"model-pipeline-service/internal/config"
	ports "model-pipeline-service/internal/core/ports/output"
)

type probeClient struct {
	baseURL string
	client  *http.Client
}

func NewClient(cfg *config.ProbeConfig) ports.ServingProber {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &probeClient{
		baseURL: cfg.URL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type versionResponse struct {
	Version int `json:"version"`
}

func (c *probeClient) ServingVersion(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/version", nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe serving version: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("probe serving version: status %d", resp.StatusCode)
	}

	var body versionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode serving version: %w", err)
	}
	return body.Version, nil
}

// Ensure interface compliance
var _ ports.ServingProber = (*probeClient)(nil)
