package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/buildflow"
	"github.com/kode4food/buildflow/internal/client"
	"github.com/kode4food/buildflow/internal/config"
	"github.com/kode4food/buildflow/internal/job"
	"github.com/kode4food/buildflow/pkg/api"
)

type buildServer struct {
	t         *testing.T
	jobs      map[string]bool
	requests  map[string]map[string]any
	results   map[string][]string
	aborted   map[string]bool
	declining bool
	mu        sync.Mutex
}

func newBuildServer(t *testing.T) (*buildServer, *httptest.Server) {
	bs := &buildServer{
		t:        t,
		jobs:     map[string]bool{"compile": true, "frozen": false},
		requests: map[string]map[string]any{},
		results:  map[string][]string{},
		aborted:  map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /job/{name}", bs.getJob)
	mux.HandleFunc("POST /job/{name}/build", bs.schedule)
	mux.HandleFunc("GET /job/{name}/build/{id}", bs.status)
	mux.HandleFunc("POST /job/{name}/build/{id}/abort", bs.abort)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return bs, server
}

func (bs *buildServer) getJob(w http.ResponseWriter, r *http.Request) {
	assert.Equal(bs.t, buildflow.UserAgent, r.Header.Get("User-Agent"))
	assert.Equal(bs.t, "Bearer secret", r.Header.Get("Authorization"))

	buildable, ok := bs.jobs[r.PathValue("name")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{
		"name":      r.PathValue("name"),
		"buildable": buildable,
	})
}

func (bs *buildServer) schedule(w http.ResponseWriter, r *http.Request) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.declining {
		w.WriteHeader(http.StatusConflict)
		return
	}

	var body map[string]any
	require.NoError(bs.t, json.NewDecoder(r.Body).Decode(&body))
	id := fmt.Sprintf("%d", len(bs.requests)+1)
	bs.requests[id] = body

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{"id": len(bs.requests)})
}

func (bs *buildServer) status(w http.ResponseWriter, r *http.Request) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	id := r.PathValue("id")
	if _, ok := bs.requests[id]; !ok {
		http.NotFound(w, r)
		return
	}

	var result any
	if bs.aborted[id] {
		result = "ABORTED"
	} else if queue := bs.results[id]; len(queue) > 0 {
		if queue[0] != "" {
			result = queue[0]
		}
		if len(queue) > 1 {
			bs.results[id] = queue[1:]
		}
	}
	writeJSON(w, map[string]any{
		"build": map[string]any{"id": id, "result": result},
	})
}

func (bs *buildServer) abort(w http.ResponseWriter, r *http.Request) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.aborted[r.PathValue("id")] = true
	w.WriteHeader(http.StatusNoContent)
}

func (bs *buildServer) setResults(id string, results ...string) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.results[id] = results
}

func (bs *buildServer) request(id string) map[string]any {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.requests[id]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newResolver(url string) *client.HTTPResolver {
	return client.NewHTTPResolver(config.BuildServerConfig{
		URL:            url + "/",
		Token:          "secret",
		ResultPath:     "build.result",
		PollInterval:   10 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
	})
}

func schedule(
	t *testing.T, r *client.HTTPResolver, name api.JobName,
) job.Build {
	t.Helper()
	ctx := context.Background()
	j, err := r.Resolve(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, name, j.Name())

	b, err := j.Schedule(ctx, &job.Request{
		Job:    name,
		Params: api.Params{"branch": "main"},
		Cause: job.Cause{
			RunID:    "run-1",
			Flow:     "release",
			Upstream: []int{0, 2},
		},
	})
	require.NoError(t, err)
	return b
}

func TestResolveNotFound(t *testing.T) {
	_, server := newBuildServer(t)
	r := newResolver(server.URL)

	_, err := r.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestScheduleAndAwait(t *testing.T) {
	bs, server := newBuildServer(t)
	r := newResolver(server.URL)

	b := schedule(t, r, "compile")
	require.NotNil(t, b)
	assert.Equal(t, "1", b.ID())

	req := bs.request("1")
	assert.Equal(t, "run-1", req["run_id"])
	assert.Equal(t, "Started by build flow release#run-1", req["cause"])
	assert.Equal(t, "0,2", req["upstream"])
	assert.Equal(t, map[string]any{"branch": "main"}, req["params"])

	bs.setResults("1", "", "", "unstable")
	res, err := b.Await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, api.Unstable, res)
}

func TestScheduleDeclined(t *testing.T) {
	bs, server := newBuildServer(t)
	r := newResolver(server.URL)

	b := schedule(t, r, "frozen")
	assert.Nil(t, b)

	bs.mu.Lock()
	bs.declining = true
	bs.mu.Unlock()
	b = schedule(t, r, "compile")
	assert.Nil(t, b)
}

func TestAwaitInvalidResult(t *testing.T) {
	bs, server := newBuildServer(t)
	r := newResolver(server.URL)

	b := schedule(t, r, "compile")
	bs.setResults("1", "EXPLODED")

	res, err := b.Await(context.Background())
	assert.ErrorIs(t, err, api.ErrInvalidResult)
	assert.Equal(t, api.Failure, res)
}

func TestAwaitContextDone(t *testing.T) {
	_, server := newBuildServer(t)
	r := newResolver(server.URL)

	b := schedule(t, r, "compile")

	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)
	defer cancel()

	res, err := b.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, api.Aborted, res)
}

func TestAbort(t *testing.T) {
	_, server := newBuildServer(t)
	r := newResolver(server.URL)

	b := schedule(t, r, "compile")
	require.NoError(t, b.Abort(context.Background()))

	res, err := b.Await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, api.Aborted, res)
}

func TestBuildServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("internal error"))
		},
	))
	defer server.Close()

	r := newResolver(server.URL)
	_, err := r.Resolve(context.Background(), "compile")
	assert.ErrorIs(t, err, client.ErrBuildServer)
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.Contains(t, err.Error(), "internal error")
}

func TestMissingBuildID(t *testing.T) {
	respond := func(body map[string]any) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, body)
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /job/{name}", respond(map[string]any{}))
	mux.HandleFunc("POST /job/{name}/build",
		respond(map[string]any{"queued": true}),
	)
	server := httptest.NewServer(mux)
	defer server.Close()

	r := newResolver(server.URL)
	j, err := r.Resolve(context.Background(), "compile")
	require.NoError(t, err)

	_, err = j.Schedule(context.Background(), &job.Request{Job: "compile"})
	assert.ErrorIs(t, err, client.ErrMissingBuildID)
}

func TestBuildVanished(t *testing.T) {
	bs, server := newBuildServer(t)
	r := newResolver(server.URL)

	b := schedule(t, r, "compile")
	bs.mu.Lock()
	delete(bs.requests, "1")
	bs.mu.Unlock()

	res, err := b.Await(context.Background())
	assert.ErrorIs(t, err, client.ErrBuildVanished)
	assert.Equal(t, api.Failure, res)
}
