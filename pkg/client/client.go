// Package client provides a typed Go client for the Gantry HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gantryci/gantry/api"
	"github.com/gantryci/gantry/pkg/config"
	"github.com/gantryci/gantry/pkg/version"
)

type Client struct {
	// No global timeout: worker polls and event streams hold their
	// responses open. Callers bound individual calls through ctx.
	http    *http.Client
	baseURL string
}

// New creates an orchestrator client from a node configuration.
func New(node *config.Node) (*Client, error) {
	if node == nil {
		return nil, fmt.Errorf("node configuration cannot be nil")
	}

	// Get TLS configuration from the embedded CA certificate
	tlsConfig, err := node.GetClientTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}

	return &Client{
		http: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		baseURL: baseURL(node),
	}, nil
}

// baseURL derives the server URL from the node address. An address without
// a scheme speaks HTTPS when a CA certificate is configured and plain HTTP
// otherwise.
func baseURL(node *config.Node) string {
	addr := strings.TrimRight(node.Address, "/")
	if strings.Contains(addr, "://") {
		return addr
	}
	if node.CA != "" {
		return "https://" + addr
	}
	return "http://" + addr
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) CreateRun(ctx context.Context, req *api.CreateRunRequest) (*api.Run, error) {
	var run api.Run
	if err := c.do(ctx, http.MethodPost, "/api/v1/pipelines", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (*api.Run, error) {
	var run api.Run
	if err := c.do(ctx, http.MethodGet, "/api/v1/pipelines/"+runID, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns lists live runs, newest first. Empty state means all states;
// limit 0 means no cap.
func (c *Client) ListRuns(ctx context.Context, state string, limit int) ([]api.Run, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var runs []api.Run
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/pipelines", q), nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// ListArchivedRuns lists finished runs from the archive.
func (c *Client) ListArchivedRuns(ctx context.Context, state, pipeline string, limit int) ([]api.ArchivedRun, error) {
	q := url.Values{}
	q.Set("archived", "true")
	if state != "" {
		q.Set("state", state)
	}
	if pipeline != "" {
		q.Set("pipeline", pipeline)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var runs []api.ArchivedRun
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/pipelines", q), nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetArchivedRun fetches the archive record of a finished run. Runs from
// before the server's last restart are only reachable here.
func (c *Client) GetArchivedRun(ctx context.Context, runID string) (*api.ArchivedRun, error) {
	var rec api.ArchivedRun
	if err := c.do(ctx, http.MethodGet, "/api/v1/pipelines/"+runID+"/archive", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) CancelRun(ctx context.Context, runID string) (*api.Run, error) {
	var run api.Run
	if err := c.do(ctx, http.MethodPost, "/api/v1/pipelines/"+runID+"/cancel", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) PlayJob(ctx context.Context, runID, job string) (*api.JobRun, error) {
	var jr api.JobRun
	path := fmt.Sprintf("/api/v1/pipelines/%s/jobs/%s/play", runID, job)
	if err := c.do(ctx, http.MethodPost, path, nil, &jr); err != nil {
		return nil, err
	}
	return &jr, nil
}

func (c *Client) RetryJob(ctx context.Context, runID, job string) (*api.JobRun, error) {
	var jr api.JobRun
	path := fmt.Sprintf("/api/v1/pipelines/%s/jobs/%s/retry", runID, job)
	if err := c.do(ctx, http.MethodPost, path, nil, &jr); err != nil {
		return nil, err
	}
	return &jr, nil
}

func (c *Client) JobArtifacts(ctx context.Context, runID, job string) ([]api.Artifact, error) {
	var arts []api.Artifact
	path := fmt.Sprintf("/api/v1/pipelines/%s/jobs/%s/artifacts", runID, job)
	if err := c.do(ctx, http.MethodGet, path, nil, &arts); err != nil {
		return nil, err
	}
	return arts, nil
}

func (c *Client) RegisterWorker(ctx context.Context, req *api.RegisterWorkerRequest) (*api.Worker, error) {
	var w api.Worker
	if err := c.do(ctx, http.MethodPost, "/api/v1/workers", req, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *Client) ListWorkers(ctx context.Context) ([]api.Worker, error) {
	var workers []api.Worker
	if err := c.do(ctx, http.MethodGet, "/api/v1/workers", nil, &workers); err != nil {
		return nil, err
	}
	return workers, nil
}

// Heartbeat reports the worker alive and returns job run IDs the server
// wants canceled.
func (c *Client) Heartbeat(ctx context.Context, workerID string) ([]string, error) {
	var resp api.HeartbeatResponse
	path := fmt.Sprintf("/api/v1/workers/%s/heartbeat", workerID)
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Cancels, nil
}

// Poll asks for work. The server holds the request open until an
// assignment arrives or its poll window lapses, so callers should not
// wrap ctx in a short deadline.
func (c *Client) Poll(ctx context.Context, workerID string, max int) (*api.PollResponse, error) {
	var resp api.PollResponse
	path := fmt.Sprintf("/api/v1/workers/%s/poll", workerID)
	if err := c.do(ctx, http.MethodPost, path, &api.PollRequest{Max: max}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Report(ctx context.Context, workerID string, req *api.ReportRequest) error {
	path := fmt.Sprintf("/api/v1/workers/%s/result", workerID)
	return c.do(ctx, http.MethodPost, path, req, nil)
}

func (c *Client) DeregisterWorker(ctx context.Context, workerID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/workers/"+workerID, nil, nil)
}

func (c *Client) Health(ctx context.Context) (*api.Health, error) {
	var h api.Health
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Watch opens the event stream for a run. The stream ends when the run
// settles; cancel ctx to leave early.
func (c *Client) Watch(ctx context.Context, runID string) (*EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/pipelines/"+runID+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", userAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to start event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return newEventStream(resp.Body), nil
}

// do sends one JSON request and decodes the response into out when the
// server answers 2xx. A nil out drains the body; a nil in sends no body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func userAgent() string {
	return "gantry-client/" + version.GetVersion()
}
