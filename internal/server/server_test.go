package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/buildflow/internal/assert/helpers"
	"github.com/kode4food/buildflow/internal/server"
	"github.com/kode4food/buildflow/pkg/api"
)

type testServerEnv struct {
	*helpers.TestEngineEnv
	Server *server.Server
	Router *gin.Engine
}

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer(t *testing.T) *testServerEnv {
	t.Helper()
	env := helpers.NewTestEngine(t)
	require.NoError(t, env.Engine.Start(context.Background()))
	srv := server.NewServer(env.Engine)
	return &testServerEnv{
		TestEngineEnv: env,
		Server:        srv,
		Router:        srv.SetupRoutes(),
	}
}

func (e *testServerEnv) do(
	method, path string, body any,
) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var res T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestHealthEndpoint(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	for _, path := range []string{"/health", "/engine/health"} {
		w := env.do("GET", path, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		res := decode[api.HealthResponse](t, w)
		assert.Equal(t, "buildflow", res.Service)
		assert.Equal(t, "healthy", res.Status)
		assert.Equal(t, 0, res.ActiveRuns)
	}
}

func TestHealthUnavailable(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	require.NoError(t, env.Engine.Stop())
	w := env.do("GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode[api.HealthResponse](t, w).Status)
}

func TestCORSPreflight(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.do("OPTIONS", "/engine/run", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStartRun(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()
	env.Jobs.Add("compile", "test")

	w := env.do("POST", "/engine/run", &api.StartRunRequest{
		Program: helpers.NewProgram(
			helpers.Invoke("compile"),
			helpers.Invoke("test"),
		),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	res := decode[api.RunStartedResponse](t, w)
	assert.NotEmpty(t, res.RunID)

	rec := env.WaitForPersisted(t, context.Background(), res.RunID)
	assert.Equal(t, api.RunSucceeded, rec.Status)

	w = env.do("GET", "/engine/run/"+string(res.RunID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	got := decode[api.RunRecord](t, w)
	assert.Equal(t, res.RunID, got.ID)
	assert.Equal(t, api.Success, got.Result)
}

func TestStartRunRawJSON(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()
	env.Jobs.Add("compile")

	body := []byte(`{"program": {"name": "nightly", "directives": [
		{"type": "invoke", "job": "compile", "params": {"branch": "main"}}
	]}}`)
	w := env.do("POST", "/engine/run", body)
	require.Equal(t, http.StatusCreated, w.Code)

	id := decode[api.RunStartedResponse](t, w).RunID
	rec := env.WaitForPersisted(t, context.Background(), id)
	assert.Equal(t, "nightly", rec.Flow)
	assert.Equal(t,
		api.Params{"branch": "main"}, env.Jobs.LastRequest("compile").Params,
	)
}

func TestStartRunInvalid(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.do("POST", "/engine/run", []byte("not-json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, w).Error, "invalid JSON")

	w = env.do("POST", "/engine/run", &api.StartRunRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/engine/run", &api.StartRunRequest{
		Program: helpers.NewProgram(helpers.ExitParallel()),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	res := decode[api.ErrorResponse](t, w)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Contains(t, res.Error, "unbalanced parallel block")
}

func TestStartRunStopped(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()
	require.NoError(t, env.Engine.Stop())

	w := env.do("POST", "/engine/run", &api.StartRunRequest{
		Program: helpers.NewProgram(helpers.Invoke("compile")),
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetRunNotFound(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.do("GET", "/engine/run/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("DELETE", "/engine/run/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("GET", "/engine/run/missing/graph?format=dot", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelRun(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()
	release := env.Jobs.Block("slow")
	defer release()

	w := env.do("POST", "/engine/run", &api.StartRunRequest{
		Program: helpers.NewProgram(helpers.Invoke("slow")),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[api.RunStartedResponse](t, w).RunID
	env.WaitForJob(t, "slow")

	w = env.do("DELETE", "/engine/run/"+string(id), nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	rec := env.WaitForPersisted(t, context.Background(), id)
	assert.Equal(t, api.RunAborted, rec.Status)

	w = env.do("DELETE", "/engine/run/"+string(id), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListRuns(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()
	env.Jobs.Add("compile")

	for range 3 {
		env.RunProgram(t, helpers.NewProgram(helpers.Invoke("compile")))
	}

	w := env.do("GET", "/engine/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[api.RunsListResponse](t, w)
	assert.Equal(t, 3, res.Count)
	assert.Len(t, res.Runs, 3)

	w = env.do("GET", "/engine/run?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[api.RunsListResponse](t, w).Count)

	for _, bad := range []string{"0", "-1", "abc", "5000"} {
		w = env.do("GET", "/engine/run?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestGetGraph(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()
	env.Jobs.Add("a", "b", "c")

	rec := env.RunProgram(t, helpers.NewProgram(
		helpers.Invoke("a"),
		helpers.EnterParallel(),
		helpers.Invoke("b"),
		helpers.Invoke("c"),
		helpers.ExitParallel(),
	))

	w := env.do("GET", "/engine/run/"+string(rec.ID)+"/graph", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[api.GraphSnapshot](t, w)
	assert.Len(t, snap.Vertices, 4)
	assert.Len(t, snap.Edges, 3)

	w = env.do("GET", "/engine/run/"+string(rec.ID)+"/graph?format=dot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "graphviz")
	assert.Contains(t, w.Body.String(), "digraph")
}

func TestLocksEndpoints(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()
	release := env.Jobs.Block("deploy")
	defer release()

	w := env.do("POST", "/engine/run", &api.StartRunRequest{
		Program: helpers.NewProgram(
			helpers.Acquire("staging"),
			helpers.Invoke("deploy"),
		),
		Node: "agent-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[api.RunStartedResponse](t, w).RunID
	env.WaitForJob(t, "deploy")

	w = env.do("GET", "/engine/node", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[[]api.NodeID](t, w), api.NodeID("agent-1"))

	w = env.do("GET", "/engine/node/agent-1/lock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	locks := decode[api.LocksResponse](t, w)
	assert.Equal(t, api.NodeID("agent-1"), locks.Node)
	assert.Equal(t, 1, locks.Count)
	assert.Equal(t, string(id), locks.Holders["staging"])

	w = env.do("DELETE", "/engine/node/agent-1/lock/staging", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do("DELETE", "/engine/node/agent-1/lock/staging", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("GET", "/engine/node/agent-1/lock", nil)
	assert.Equal(t, 0, decode[api.LocksResponse](t, w).Count)
}

func TestLocksInvalidNode(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.do("GET", "/engine/node/bad!node/lock", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
