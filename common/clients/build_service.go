package clients

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/pipeline"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/supervisor"
)

// BuildSecretHeader carries the shared secret on kyx-builder calls
const BuildSecretHeader = "X-Build-Secret"

// BuildServiceClient calls kyx-builder's internal endpoints
type BuildServiceClient struct {
	baseURL string
	secret  string
	http    *HTTPClient
	logger  Logger
}

// NewBuildServiceClient creates a client with a short timeout. Trigger only
// waits for the 202, never for the build itself.
func NewBuildServiceClient(baseURL, secret string, timeout time.Duration, logger Logger) *BuildServiceClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BuildServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    NewHTTPClient(&http.Client{Timeout: timeout}, logger),
		logger:  logger,
	}
}

// Trigger hands one job to kyx-builder. A nil error means the builder
// accepted it for processing.
func (c *BuildServiceClient) Trigger(ctx context.Context, req *pipeline.Request) error {
	url := c.baseURL + "/internal/builds"
	if err := c.http.DoJSON(ctx, http.MethodPost, url, req, nil, c.headers(), http.StatusAccepted); err != nil {
		return fmt.Errorf("failed to trigger build %s: %w", req.JobID, err)
	}

	c.logger.Debug("build triggered", "job_id", req.JobID, "game_id", req.GameID)
	return nil
}

// Sweep runs one supervisor pass on the builder
func (c *BuildServiceClient) Sweep(ctx context.Context) (*supervisor.SweepReport, error) {
	var report supervisor.SweepReport
	url := c.baseURL + "/internal/sweep"
	if err := c.http.DoJSON(ctx, http.MethodPost, url, nil, &report, c.headers(), http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to run sweep: %w", err)
	}
	return &report, nil
}

func (c *BuildServiceClient) headers() map[string]string {
	return map[string]string{BuildSecretHeader: c.secret}
}
