package webhook

import (
	"context"
	"time"

	"github.com/quizora/quizora/pkg/quiz"
)

// Solver runs one quiz chain to completion. Implemented by quiz.Driver.
type Solver interface {
	Solve(ctx context.Context, chainURL string) (*quiz.ChainResult, error)
}

// ServerOptions configures the inbound HTTP server.
type ServerOptions struct {
	Host               string        // default "0.0.0.0"
	Port               int           // default 3001
	Secret             string        // shared secret required on POST /quiz
	RateLimitPerMinute int           // per-IP request budget (default: 100)
	SolveTimeout       time.Duration // per-chain solve budget (default: 30m)
}

// SolveRequest is the POST /quiz payload.
type SolveRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

// SolveAccepted is the 202 response to a solve trigger.
type SolveAccepted struct {
	Status   string `json:"status"`
	ChainURL string `json:"chain_url"`
}

// HealthResponse is the GET /healthz payload.
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	ActiveSolves  int     `json:"active_solves"`
	StreamClients int     `json:"stream_clients"`
	Timestamp     int64   `json:"timestamp"`
}
