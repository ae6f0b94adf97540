// File: internal/httpapi/httpapi_test.go
package httpapi_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/httpapi"
	"github.com/xkilldash9x/suture-cli/internal/repair"
)

// stubRunner scripts the outcome of Run. When block is non-nil, Run waits
// until the channel closes so tests can observe the running state.
type stubRunner struct {
	mu     sync.Mutex
	calls  []schemas.RunRequest
	result *repair.Result
	err    error
	block  chan struct{}
}

func (r *stubRunner) Run(ctx context.Context, runID string, req schemas.RunRequest) (*repair.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.result, r.err
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func sampleResult(repo string) *repair.Result {
	return &repair.Result{
		Summary: &schemas.RunSummary{
			Repository:     repo,
			TeamName:       "ACME",
			LeaderName:     "BOB",
			BranchName:     "ACME_BOB_AI_Fix",
			Timestamp:      time.Now().UTC(),
			IterationsUsed: 1,
			MaxIterations:  3,
			AllTestsPassed: true,
			CIStatus:       schemas.CIPassed,
		},
	}
}

func newTestServer(t *testing.T, cfg config.ServerConfig, runner *stubRunner) (*httpapi.Server, *gin.Engine) {
	t.Helper()
	srv, err := httpapi.NewServer(cfg, runner, zaptest.NewLogger(t))
	require.NoError(t, err)
	return srv, srv.Routes()
}

func runBody(t *testing.T, repo string) []byte {
	t.Helper()
	body, err := jsoniter.Marshal(schemas.RunRequest{
		RepoPath:      repo,
		TeamName:      "ACME",
		LeaderName:    "BOB",
		MaxIterations: 3,
	})
	require.NoError(t, err)
	return body
}

func doRequest(router *gin.Engine, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), &payload))
	return payload
}

// bodyStatus is safe inside Eventually conditions, which run off the test
// goroutine where require must not be used.
func bodyStatus(w *httptest.ResponseRecorder) string {
	var payload map[string]any
	if err := jsoniter.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		return ""
	}
	status, _ := payload["status"].(string)
	return status
}

func TestNewServerRequiresARunner(t *testing.T) {
	_, err := httpapi.NewServer(config.ServerConfig{}, nil, zaptest.NewLogger(t))
	require.ErrorContains(t, err, "runner is required")
}

func TestCreateRunExecutesInBackground(t *testing.T) {
	repo := t.TempDir()
	runner := &stubRunner{result: sampleResult(repo)}
	_, router := newTestServer(t, config.ServerConfig{}, runner)

	w := doRequest(router, http.MethodPost, "/api/v1/runs", runBody(t, repo), nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	payload := decodeBody(t, w)
	runID, ok := payload["run_id"].(string)
	require.True(t, ok)
	require.Len(t, runID, 8)
	assert.Equal(t, "running", payload["status"])
	assert.Contains(t, payload["message"], runID)

	require.Eventually(t, func() bool {
		return bodyStatus(doRequest(router, http.MethodGet, "/api/v1/runs/"+runID, nil, nil)) == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	status := decodeBody(t, doRequest(router, http.MethodGet, "/api/v1/runs/"+runID, nil, nil))
	assert.Equal(t, runID, status["run_id"])
	assert.Equal(t, true, status["has_results"])
	assert.NotNil(t, status["completed_at"])
	assert.Equal(t, 1, runner.callCount())
}

func TestCreateRunRejectsMissingBody(t *testing.T) {
	runner := &stubRunner{}
	_, router := newTestServer(t, config.ServerConfig{}, runner)

	w := doRequest(router, http.MethodPost, "/api/v1/runs", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "request body required", decodeBody(t, w)["error"])
	assert.Zero(t, runner.callCount())
}

func TestCreateRunRejectsAMissingRepoPath(t *testing.T) {
	runner := &stubRunner{}
	_, router := newTestServer(t, config.ServerConfig{}, runner)

	w := doRequest(router, http.MethodPost, "/api/v1/runs", runBody(t, "/does/not/exist"), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "invalid repo_path: /does/not/exist")
	assert.Zero(t, runner.callCount())
}

func TestGetRunUnknownIDReturnsNotFound(t *testing.T) {
	_, router := newTestServer(t, config.ServerConfig{}, &stubRunner{})

	w := doRequest(router, http.MethodGet, "/api/v1/runs/deadbeef", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "run not found", decodeBody(t, w)["error"])
}

func TestGetSummaryWhileRunningReturnsAccepted(t *testing.T) {
	repo := t.TempDir()
	runner := &stubRunner{result: sampleResult(repo), block: make(chan struct{})}
	_, router := newTestServer(t, config.ServerConfig{}, runner)

	w := doRequest(router, http.MethodPost, "/api/v1/runs", runBody(t, repo), nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	runID := decodeBody(t, w)["run_id"].(string)

	summary := doRequest(router, http.MethodGet, "/api/v1/runs/"+runID+"/summary", nil, nil)
	require.Equal(t, http.StatusAccepted, summary.Code)
	payload := decodeBody(t, summary)
	assert.Equal(t, "run still in progress", payload["error"])
	assert.Equal(t, "running", payload["status"])

	close(runner.block)
	require.Eventually(t, func() bool {
		w := doRequest(router, http.MethodGet, "/api/v1/runs/"+runID+"/summary", nil, nil)
		return w.Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	final := doRequest(router, http.MethodGet, "/api/v1/runs/"+runID+"/summary", nil, nil)
	payload = decodeBody(t, final)
	assert.Equal(t, repo, payload["repository"])
	assert.Equal(t, schemas.CIPassed, payload["ci_status"])
}

func TestGetSummaryOfFailedRunReturnsServerError(t *testing.T) {
	repo := t.TempDir()
	runner := &stubRunner{err: errors.New("analysis failed: ruff missing")}
	_, router := newTestServer(t, config.ServerConfig{}, runner)

	w := doRequest(router, http.MethodPost, "/api/v1/runs", runBody(t, repo), nil)
	runID := decodeBody(t, w)["run_id"].(string)

	require.Eventually(t, func() bool {
		return bodyStatus(doRequest(router, http.MethodGet, "/api/v1/runs/"+runID, nil, nil)) == "failed"
	}, 2*time.Second, 10*time.Millisecond)

	summary := doRequest(router, http.MethodGet, "/api/v1/runs/"+runID+"/summary", nil, nil)
	require.Equal(t, http.StatusInternalServerError, summary.Code)
	payload := decodeBody(t, summary)
	assert.Equal(t, "analysis failed: ruff missing", payload["error"])
	assert.Equal(t, "failed", payload["status"])
}

func TestRunSyncReturnsTheSummaryInline(t *testing.T) {
	repo := t.TempDir()
	runner := &stubRunner{result: sampleResult(repo)}
	_, router := newTestServer(t, config.ServerConfig{}, runner)

	w := doRequest(router, http.MethodPost, "/api/v1/runs/sync", runBody(t, repo), nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decodeBody(t, w)
	assert.Equal(t, repo, payload["repository"])
	assert.Equal(t, "ACME_BOB_AI_Fix", payload["branch_name"])
	assert.Equal(t, 1, runner.callCount())
}

func TestRunSyncSurfacesRunnerErrors(t *testing.T) {
	repo := t.TempDir()
	runner := &stubRunner{err: errors.New("boom")}
	_, router := newTestServer(t, config.ServerConfig{}, runner)

	w := doRequest(router, http.MethodPost, "/api/v1/runs/sync", runBody(t, repo), nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	payload := decodeBody(t, w)
	assert.Equal(t, "boom", payload["error"])
	assert.Equal(t, "failed", payload["status"])
}

func TestHealthzIsAlwaysOpen(t *testing.T) {
	cfg := config.ServerConfig{AuthSecret: "sekrit"}
	_, router := newTestServer(t, cfg, &stubRunner{})

	w := doRequest(router, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decodeBody(t, w)
	assert.Equal(t, "ok", payload["status"])
	_, err := time.Parse(time.RFC3339, payload["timestamp"].(string))
	assert.NoError(t, err)
}

func TestBearerAuthGuardsTheAPI(t *testing.T) {
	const secret = "sekrit"
	repo := t.TempDir()
	runner := &stubRunner{result: sampleResult(repo)}
	_, router := newTestServer(t, config.ServerConfig{AuthSecret: secret}, runner)

	t.Run("rejects requests without a token", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/runs/deadbeef", nil, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "missing bearer token", decodeBody(t, w)["error"])
	})

	t.Run("rejects a token signed with the wrong key", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "ci",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("wrong"))
		require.NoError(t, err)

		w := doRequest(router, http.MethodGet, "/api/v1/runs/deadbeef", nil, map[string]string{
			"Authorization": "Bearer " + signed,
		})
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid token", decodeBody(t, w)["error"])
	})

	t.Run("accepts a valid token", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "ci",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)

		w := doRequest(router, http.MethodPost, "/api/v1/runs/sync", runBody(t, repo), map[string]string{
			"Authorization": "Bearer " + signed,
		})
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestServeShutsDownOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	repo := t.TempDir()
	runner := &stubRunner{result: sampleResult(repo)}
	srv, _ := newTestServer(t, config.ServerConfig{
		ListenAddr:      addr,
		MaxConns:        4,
		ShutdownTimeout: 2 * time.Second,
	}, runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	url := fmt.Sprintf("http://%s/healthz", addr)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 25*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down after cancellation")
	}
}
