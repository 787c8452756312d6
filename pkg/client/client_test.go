package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryci/gantry/api"
	"github.com/gantryci/gantry/pkg/config"
)

// newTestClient points a client at a stub server. Handlers run off the
// test goroutine, so they stick to assert and leave require to the test
// body.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c, err := New(&config.Node{Address: ts.URL})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be nil")

	_, err = New(&config.Node{Address: "127.0.0.1:7320", CA: "not a certificate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS config")
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name string
		node config.Node
		want string
	}{
		{"plain address", config.Node{Address: "127.0.0.1:7320"}, "http://127.0.0.1:7320"},
		{"address with ca", config.Node{Address: "gantry.internal:7320", CA: "pem"}, "https://gantry.internal:7320"},
		{"explicit scheme", config.Node{Address: "https://gantry.example.com"}, "https://gantry.example.com"},
		{"trailing slash", config.Node{Address: "http://127.0.0.1:7320/"}, "http://127.0.0.1:7320"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, baseURL(&tt.node))
		})
	}
}

func TestCreateRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/pipelines", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.CreateRunRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "main", req.Ref)
		assert.Contains(t, req.Definition, "stages")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.Run{ID: "run-1", Pipeline: "service", State: "RUNNING"})
	})
	c := newTestClient(t, mux)

	run, err := c.CreateRun(context.Background(), &api.CreateRunRequest{
		Definition: "stages: [build]",
		Ref:        "main",
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, "RUNNING", run.State)
}

func TestErrorDecoding(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/pipelines/run-missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.Error{Error: "pipeline run not found"})
	})
	mux.HandleFunc("GET /api/v1/pipelines/run-broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "<html>bad gateway</html>", http.StatusBadGateway)
	})
	c := newTestClient(t, mux)

	_, err := c.GetRun(context.Background(), "run-missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "pipeline run not found", apiErr.Message)
	assert.Equal(t, "pipeline run not found", err.Error())

	// Non-JSON bodies fall back to the status line
	_, err = c.GetRun(context.Background(), "run-broken")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "502")
}

func TestWorkerEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workers", func(w http.ResponseWriter, r *http.Request) {
		var req api.RegisterWorkerRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "builder-1", req.Name)
		assert.Equal(t, []string{"linux"}, req.Tags)
		assert.Equal(t, 2, req.Capacity)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.Worker{ID: "wrk-1", Name: req.Name, State: "ONLINE"})
	})
	mux.HandleFunc("POST /api/v1/workers/wrk-1/poll", func(w http.ResponseWriter, r *http.Request) {
		var req api.PollRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 1, req.Max)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.PollResponse{
			Assignments: []api.Assignment{{JobRunID: "jr-1", RunID: "run-1", Job: "compile", LeaseID: "lease-1"}},
			Cancels:     []string{},
		})
	})
	mux.HandleFunc("POST /api/v1/workers/wrk-1/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.HeartbeatResponse{Cancels: []string{"jr-9"}})
	})
	mux.HandleFunc("POST /api/v1/workers/wrk-1/result", func(w http.ResponseWriter, r *http.Request) {
		var req api.ReportRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jr-1", req.JobRunID)
		assert.Equal(t, "lease-1", req.LeaseID)
		assert.True(t, req.Success)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /api/v1/workers/wrk-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	worker, err := c.RegisterWorker(ctx, &api.RegisterWorkerRequest{Name: "builder-1", Tags: []string{"linux"}, Capacity: 2})
	require.NoError(t, err)
	assert.Equal(t, "wrk-1", worker.ID)
	assert.Equal(t, "ONLINE", worker.State)

	resp, err := c.Poll(ctx, "wrk-1", 1)
	require.NoError(t, err)
	require.Len(t, resp.Assignments, 1)
	assert.Equal(t, "jr-1", resp.Assignments[0].JobRunID)
	assert.Empty(t, resp.Cancels)

	cancels, err := c.Heartbeat(ctx, "wrk-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"jr-9"}, cancels)

	err = c.Report(ctx, "wrk-1", &api.ReportRequest{
		RunID:    "run-1",
		Job:      "compile",
		JobRunID: "jr-1",
		LeaseID:  "lease-1",
		Success:  true,
	})
	require.NoError(t, err)

	require.NoError(t, c.DeregisterWorker(ctx, "wrk-1"))
}

func TestJobOperations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/pipelines/run-1/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.Run{ID: "run-1", State: "CANCELED"})
	})
	mux.HandleFunc("POST /api/v1/pipelines/run-1/jobs/release/play", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.JobRun{ID: "jr-2", Name: "release", State: "ELIGIBLE"})
	})
	mux.HandleFunc("POST /api/v1/pipelines/run-1/jobs/unit/retry", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.JobRun{ID: "jr-3", Name: "unit", Attempt: 2})
	})
	mux.HandleFunc("GET /api/v1/pipelines/run-1/jobs/compile/artifacts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]api.Artifact{{ID: "art-1", JobName: "compile", StoreKey: "s3://gantry/compile-1"}})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	run, err := c.CancelRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", run.State)

	played, err := c.PlayJob(ctx, "run-1", "release")
	require.NoError(t, err)
	assert.Equal(t, "ELIGIBLE", played.State)

	retried, err := c.RetryJob(ctx, "run-1", "unit")
	require.NoError(t, err)
	assert.Equal(t, 2, retried.Attempt)

	arts, err := c.JobArtifacts(ctx, "run-1", "compile")
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "s3://gantry/compile-1", arts[0].StoreKey)
}

func TestListQueryParameters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/pipelines", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")

		if q.Get("archived") == "true" {
			assert.Equal(t, "SUCCESS", q.Get("state"))
			assert.Equal(t, "service", q.Get("pipeline"))
			assert.Equal(t, "5", q.Get("limit"))
			json.NewEncoder(w).Encode([]api.ArchivedRun{{RunID: "run-old", State: "SUCCESS"}})
			return
		}

		assert.Equal(t, "RUNNING", q.Get("state"))
		assert.Equal(t, "10", q.Get("limit"))
		json.NewEncoder(w).Encode([]api.Run{{ID: "run-1", State: "RUNNING"}})
	})
	c := newTestClient(t, mux)

	runs, err := c.ListRuns(context.Background(), "RUNNING", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)

	archived, err := c.ListArchivedRuns(context.Background(), "SUCCESS", "service", 5)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "run-old", archived[0].RunID)
}

func TestWatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/pipelines/run-1/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": stream open\n\n")
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"job.finished","runId":"run-1","job":"compile","state":"SUCCESS"}`)
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"run.finished","runId":"run-1","state":"SUCCESS"}`)
	})
	mux.HandleFunc("GET /api/v1/pipelines/run-nope/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.Error{Error: "pipeline run not found"})
	})
	c := newTestClient(t, mux)

	stream, err := c.Watch(context.Background(), "run-1")
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "job.finished", first.Type)
	assert.Equal(t, "compile", first.Job)

	second, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "run.finished", second.Type)
	assert.Equal(t, "SUCCESS", second.State)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)

	_, err = c.Watch(context.Background(), "run-nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.Health{Status: "ok", Version: "1.2.3"})
	})
	c := newTestClient(t, mux)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "1.2.3", h.Version)
}
