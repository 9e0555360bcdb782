package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizora/quizora/internal/observability"
)

// Server exposes the solver over HTTP: a solve trigger, liveness,
// prometheus metrics, and a websocket progress stream.
type Server struct {
	options        ServerOptions
	server         *http.Server
	solver         Solver
	broadcaster    *Broadcaster
	rateLimiter    *RateLimiter
	logger         zerolog.Logger
	startTime      time.Time
	activeSolves   int64
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	solves         sync.WaitGroup
}

// NewServer creates the inbound server.
func NewServer(options ServerOptions, solver Solver, broadcaster *Broadcaster, logger zerolog.Logger) (*Server, error) {
	if solver == nil {
		return nil, fmt.Errorf("solver is required")
	}
	if options.Secret == "" {
		return nil, fmt.Errorf("server secret is required")
	}
	if options.Port == 0 {
		options.Port = 3001
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 100
	}
	if options.SolveTimeout == 0 {
		options.SolveTimeout = 30 * time.Minute
	}
	if broadcaster == nil {
		broadcaster = NewBroadcaster(logger)
	}

	observability.EnsureRegistered()

	return &Server{
		options:     options,
		solver:      solver,
		broadcaster: broadcaster,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		logger:      logger,
		startTime:   time.Now(),
	}, nil
}

// Broadcaster returns the progress broadcaster wired to this server.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Handler builds the route mux. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/quiz", s.handleSolve)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/ws/progress", s.broadcaster.HandleWS)
	return mux
}

// Start runs the server until Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting inbound server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start inbound server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and running solves, then shuts down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down inbound server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		s.solves.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight work completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()
	s.broadcaster.Close()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown inbound server: %w", err)
	}

	s.logger.Info().Msg("Inbound server stopped")
	return nil
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	ip := s.clientIP(r)
	if !s.rateLimiter.Allow(ip) {
		retryAfter := s.rateLimiter.RetryAfter(ip)
		s.logger.Warn().Str("ip", ip).Int("retryAfter", retryAfter).Msg("Rate limit exceeded")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	var req SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.options.Secret)) != 1 {
		s.logger.Warn().Str("ip", ip).Msg("Solve trigger with bad secret")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	s.solves.Add(1)
	atomic.AddInt64(&s.activeSolves, 1)
	go func() {
		defer s.solves.Done()
		defer atomic.AddInt64(&s.activeSolves, -1)

		ctx, cancel := context.WithTimeout(context.Background(), s.options.SolveTimeout)
		defer cancel()

		result, err := s.solver.Solve(ctx, req.URL)
		if err != nil {
			s.logger.Error().Err(err).Str("chain", req.URL).Msg("Chain solve failed")
			return
		}
		s.logger.Info().
			Str("chain", req.URL).
			Int("correct", result.Summary.Correct).
			Int("wrong", result.Summary.Wrong).
			Msg("Chain solve finished")
	}()

	s.logger.Info().Str("ip", ip).Str("chain", req.URL).Msg("Solve accepted")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SolveAccepted{Status: "accepted", ChainURL: req.URL})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		ActiveSolves:  int(atomic.LoadInt64(&s.activeSolves)),
		StreamClients: s.broadcaster.ClientCount(),
		Timestamp:     time.Now().UnixMilli(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// clientIP prefers proxy headers over the raw remote address.
func (s *Server) clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
