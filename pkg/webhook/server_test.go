package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizora/quizora/pkg/quiz"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// fakeSolver records solve requests and signals each one on a channel.
type fakeSolver struct {
	mu     sync.Mutex
	chains []string
	solved chan string
	err    error
}

func newFakeSolver() *fakeSolver {
	return &fakeSolver{solved: make(chan string, 16)}
}

func (f *fakeSolver) Solve(ctx context.Context, chainURL string) (*quiz.ChainResult, error) {
	f.mu.Lock()
	f.chains = append(f.chains, chainURL)
	f.mu.Unlock()
	defer func() { f.solved <- chainURL }()
	if f.err != nil {
		return nil, f.err
	}
	return &quiz.ChainResult{
		ChainURL: chainURL,
		Summary:  quiz.Summary{Correct: 3, Total: 3},
	}, nil
}

func setupServer(t *testing.T, opts ServerOptions, solver Solver) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Secret == "" {
		opts.Secret = "hunter2"
	}
	srv, err := NewServer(opts, solver, nil, testLogger())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.rateLimiter.Stop(); srv.broadcaster.Close() })
	return srv, ts
}

func postSolve(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url+"/quiz", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNewServer(t *testing.T) {
	t.Run("should require a solver", func(t *testing.T) {
		_, err := NewServer(ServerOptions{Secret: "x"}, nil, nil, testLogger())
		assert.ErrorContains(t, err, "solver is required")
	})

	t.Run("should require a secret", func(t *testing.T) {
		_, err := NewServer(ServerOptions{}, newFakeSolver(), nil, testLogger())
		assert.ErrorContains(t, err, "secret is required")
	})

	t.Run("should apply defaults", func(t *testing.T) {
		srv, err := NewServer(ServerOptions{Secret: "x"}, newFakeSolver(), nil, testLogger())
		require.NoError(t, err)
		defer srv.rateLimiter.Stop()
		assert.Equal(t, 3001, srv.options.Port)
		assert.Equal(t, "0.0.0.0", srv.options.Host)
		assert.Equal(t, 100, srv.options.RateLimitPerMinute)
		assert.Equal(t, 30*time.Minute, srv.options.SolveTimeout)
		assert.NotNil(t, srv.Broadcaster())
	})
}

func TestHandleSolve(t *testing.T) {
	t.Run("should accept a solve and run it asynchronously", func(t *testing.T) {
		solver := newFakeSolver()
		_, ts := setupServer(t, ServerOptions{}, solver)

		resp := postSolve(t, ts.URL, SolveRequest{URL: "https://quiz.test/start", Secret: "hunter2"})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var accepted SolveAccepted
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
		assert.Equal(t, "accepted", accepted.Status)
		assert.Equal(t, "https://quiz.test/start", accepted.ChainURL)

		select {
		case chain := <-solver.solved:
			assert.Equal(t, "https://quiz.test/start", chain)
		case <-time.After(2 * time.Second):
			t.Fatal("solver was not invoked")
		}
	})

	t.Run("should reject a bad secret", func(t *testing.T) {
		solver := newFakeSolver()
		_, ts := setupServer(t, ServerOptions{}, solver)

		resp := postSolve(t, ts.URL, SolveRequest{URL: "https://quiz.test/start", Secret: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, solver.chains)
	})

	t.Run("should reject a missing url", func(t *testing.T) {
		_, ts := setupServer(t, ServerOptions{}, newFakeSolver())
		resp := postSolve(t, ts.URL, SolveRequest{Secret: "hunter2"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("should reject a malformed body", func(t *testing.T) {
		_, ts := setupServer(t, ServerOptions{}, newFakeSolver())
		resp, err := http.Post(ts.URL+"/quiz", "application/json", bytes.NewReader([]byte("{not json")))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("should reject non-POST methods", func(t *testing.T) {
		_, ts := setupServer(t, ServerOptions{}, newFakeSolver())
		resp, err := http.Get(ts.URL + "/quiz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("should rate limit repeated triggers", func(t *testing.T) {
		_, ts := setupServer(t, ServerOptions{RateLimitPerMinute: 2}, newFakeSolver())

		for i := 0; i < 2; i++ {
			resp := postSolve(t, ts.URL, SolveRequest{URL: "https://quiz.test/start", Secret: "hunter2"})
			assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		}

		resp := postSolve(t, ts.URL, SolveRequest{URL: "https://quiz.test/start", Secret: "hunter2"})
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	})

	t.Run("should refuse triggers while shutting down", func(t *testing.T) {
		srv, ts := setupServer(t, ServerOptions{}, newFakeSolver())
		srv.shutdownMu.Lock()
		srv.isShuttingDown = true
		srv.shutdownMu.Unlock()

		resp := postSolve(t, ts.URL, SolveRequest{URL: "https://quiz.test/start", Secret: "hunter2"})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("should report liveness", func(t *testing.T) {
		_, ts := setupServer(t, ServerOptions{}, newFakeSolver())

		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var health HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, "ok", health.Status)
		assert.GreaterOrEqual(t, health.UptimeSeconds, 0.0)
		assert.Equal(t, 0, health.StreamClients)
	})

	t.Run("should reject non-GET methods", func(t *testing.T) {
		_, ts := setupServer(t, ServerOptions{}, newFakeSolver())
		resp, err := http.Post(ts.URL+"/healthz", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("should expose prometheus metrics", func(t *testing.T) {
		_, ts := setupServer(t, ServerOptions{}, newFakeSolver())

		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestClientIP(t *testing.T) {
	srv, err := NewServer(ServerOptions{Secret: "x"}, newFakeSolver(), nil, testLogger())
	require.NoError(t, err)
	defer srv.rateLimiter.Stop()

	t.Run("should prefer X-Forwarded-For", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		r.RemoteAddr = "192.168.1.1:1234"
		assert.Equal(t, "10.0.0.1", srv.clientIP(r))
	})

	t.Run("should fall back to X-Real-IP", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Real-IP", "10.0.0.3")
		r.RemoteAddr = "192.168.1.1:1234"
		assert.Equal(t, "10.0.0.3", srv.clientIP(r))
	})

	t.Run("should strip the port from the remote address", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "192.168.1.1:1234"
		assert.Equal(t, "192.168.1.1", srv.clientIP(r))
	})
}
