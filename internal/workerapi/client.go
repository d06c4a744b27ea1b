package workerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client performs control-plane requests against a worker's HTTP surface.
// The target address comes from the service-instance registration, so one
// client serves every worker.
type Client struct {
	httpClient *http.Client
	authToken  string
}

// New constructs a worker client with the shared process-trust token.
func New(timeout time.Duration, authToken string) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		authToken:  strings.TrimSpace(authToken),
	}
}

// AttachTerminal asks the worker owning a project to attach to its sandbox
// exec stream and register the instance-side terminal socket.
func (c *Client) AttachTerminal(ctx context.Context, address string, projectID int64) error {
	return c.do(ctx, http.MethodPost, address, "/terminal?project_id="+strconv.FormatInt(projectID, 10))
}

// Teardown asks the worker to destroy a project's sandbox and image. A 404
// means the sandbox is already gone and counts as success.
func (c *Client) Teardown(ctx context.Context, address string, projectID int64) error {
	return c.do(ctx, http.MethodDelete, address, "/projects?id="+strconv.FormatInt(projectID, 10))
}

func (c *Client) do(ctx context.Context, method, address, path string) error {
	base := strings.TrimRight(strings.TrimSpace(address), "/")
	if base == "" {
		return fmt.Errorf("worker address is empty")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, nil)
	if err != nil {
		return fmt.Errorf("create worker request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("X-Worker-Token", c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("worker request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("worker request failed (%d): %s", resp.StatusCode, extractError(resp.Body))
	}
	return nil
}

func extractError(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return ""
	}
	return payload.Error
}
