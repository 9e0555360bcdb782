package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/quizora/quizora/internal/observability"
	"github.com/quizora/quizora/pkg/keypool"
)

// baseRequestsPerKey is the per-credential request budget per minute used to
// size the shared rate limiter. More credentials buy more throughput.
const baseRequestsPerKey = 15

// ProviderSpec is one link in the fallback chain.
type ProviderSpec struct {
	Name        string  `json:"name"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// InvokerConfig configures the fallback invoker.
type InvokerConfig struct {
	Pool             *keypool.Pool
	Chain            []ProviderSpec // ordered: primary first
	Factory          ProviderCreator
	Logger           zerolog.Logger
	TransientRetries int // same-credential retries on transient errors, default 1
	RequestsPerKey   int // per-minute budget per credential, default 15
}

// Invoker wraps one logical "ask the model" operation behind the full
// provider/credential fallback chain.
type Invoker struct {
	pool             *keypool.Pool
	chain            []ProviderSpec
	factory          ProviderCreator
	logger           zerolog.Logger
	limiter          *rate.Limiter
	transientRetries int
}

// NewInvoker creates an invoker over the given credential pool and chain.
func NewInvoker(cfg InvokerConfig) (*Invoker, error) {
	observability.EnsureRegistered()

	if cfg.Pool == nil {
		return nil, fmt.Errorf("credential pool is required")
	}
	if len(cfg.Chain) == 0 {
		return nil, fmt.Errorf("at least one provider is required in the chain")
	}
	for _, spec := range cfg.Chain {
		if spec.Model == "" {
			return nil, fmt.Errorf("provider %s has no model configured", spec.Name)
		}
	}

	factory := cfg.Factory
	if factory == nil {
		factory = &ProviderFactory{}
	}

	retries := cfg.TransientRetries
	if retries <= 0 {
		retries = 1
	}

	perKey := cfg.RequestsPerKey
	if perKey <= 0 {
		perKey = baseRequestsPerKey
	}

	totalKeys := 0
	for _, spec := range cfg.Chain {
		totalKeys += cfg.Pool.Size(spec.Name)
	}
	if totalKeys == 0 {
		return nil, fmt.Errorf("no credentials available for any chained provider")
	}
	rpm := perKey * totalKeys

	return &Invoker{
		pool:             cfg.Pool,
		chain:            cfg.Chain,
		factory:          factory,
		logger:           cfg.Logger,
		limiter:          rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		transientRetries: retries,
	}, nil
}

// Invoke walks the provider chain until one call succeeds. Quota errors
// rotate credentials within a provider, transient errors retry the same
// credential a bounded number of times, fatal errors skip to the next
// provider. When every option is spent it returns ErrAllProvidersExhausted.
func (inv *Invoker) Invoke(ctx context.Context, messages []Message, tools []map[string]interface{}, systemPrompt string) (*Decision, error) {
	var lastErr error

	for _, spec := range inv.chain {
		dec, err := inv.tryProvider(ctx, spec, messages, tools, systemPrompt)
		if err == nil {
			return dec, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		inv.logger.Warn().
			Str("provider", spec.Name).
			Err(err).
			Msg("Provider failed, moving to next in chain")
	}

	return nil, fmt.Errorf("%w: %v", ErrAllProvidersExhausted, lastErr)
}

// attemptOutcome drives the per-attempt state machine.
type attemptOutcome int

const (
	attemptSucceeded attemptOutcome = iota
	attemptRotate                   // quota: next credential, same provider
	attemptRetrySame                // transient: same credential again
	attemptAbandon                  // fatal: leave this provider
)

func (inv *Invoker) tryProvider(ctx context.Context, spec ProviderSpec, messages []Message, tools []map[string]interface{}, systemPrompt string) (*Decision, error) {
	// Hard bound: each credential may be handed out at most
	// 1 + transientRetries times before it lands in cooldown.
	maxAttempts := inv.pool.Size(spec.Name) * (inv.transientRetries + 1)
	if maxAttempts == 0 {
		return nil, fmt.Errorf("provider %s: %w", spec.Name, keypool.ErrExhausted)
	}

	retriesLeft := inv.transientRetries
	lastCredential := ""
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		cred, err := inv.pool.Next(spec.Name)
		if errors.Is(err, keypool.ErrExhausted) {
			observability.SetProviderCooldown(spec.Name, true)
			if lastErr != nil {
				return nil, fmt.Errorf("provider %s exhausted: %w", spec.Name, lastErr)
			}
			return nil, fmt.Errorf("provider %s: %w", spec.Name, err)
		}
		if err != nil {
			return nil, err
		}

		if cred.ID != lastCredential {
			retriesLeft = inv.transientRetries
			lastCredential = cred.ID
		}

		if err := inv.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		dec, outcome, err := inv.attempt(ctx, spec, cred, messages, tools, systemPrompt)
		observability.SetCredentialsAvailable(spec.Name, inv.pool.AvailableCount(spec.Name))

		switch outcome {
		case attemptSucceeded:
			observability.SetProviderCooldown(spec.Name, false)
			return dec, nil

		case attemptRotate:
			lastErr = err
			inv.logger.Info().
				Str("provider", spec.Name).
				Str("credential", cred.ID).
				Msg("Credential quota exhausted, rotating")

		case attemptRetrySame:
			lastErr = err
			if retriesLeft > 0 {
				retriesLeft--
				inv.logger.Debug().
					Str("provider", spec.Name).
					Str("credential", cred.ID).
					Err(err).
					Msg("Transient error, retrying same credential")
				continue
			}
			// Retries spent: take this credential out of the running.
			inv.pool.MarkExhausted(cred.ID, 0)

		case attemptAbandon:
			return nil, err
		}
	}

	return nil, fmt.Errorf("provider %s: attempt budget spent: %w", spec.Name, lastErr)
}

// attempt performs a single provider call with a single credential and
// classifies the result.
func (inv *Invoker) attempt(ctx context.Context, spec ProviderSpec, cred keypool.Credential, messages []Message, tools []map[string]interface{}, systemPrompt string) (*Decision, attemptOutcome, error) {
	start := time.Now()

	provider, err := inv.factory.NewProvider(cred)
	if err != nil {
		observability.RecordProviderCall(spec.Name, time.Since(start), string(FailureFatal))
		return nil, attemptAbandon, fmt.Errorf("failed to create provider %s: %w", spec.Name, err)
	}

	resp, err := provider.Call(ctx, LLMRequest{
		Model:        spec.Model,
		Messages:     messages,
		Tools:        tools,
		Temperature:  spec.Temperature,
		MaxTokens:    spec.MaxTokens,
		SystemPrompt: systemPrompt,
	})
	if err == nil {
		inv.pool.MarkSuccess(cred.ID)
		observability.RecordProviderCall(spec.Name, time.Since(start), "success")
		return DecisionFrom(resp, spec.Name, cred.ID), attemptSucceeded, nil
	}

	if ctx.Err() != nil {
		// Cancellation must not mutate cooldown state.
		return nil, attemptAbandon, ctx.Err()
	}

	kind := ClassifyError(err)
	observability.RecordProviderCall(spec.Name, time.Since(start), string(kind))

	switch kind {
	case FailureQuota:
		inv.pool.MarkExhausted(cred.ID, retryAfterHint(err))
		return nil, attemptRotate, err
	case FailureTransient:
		return nil, attemptRetrySame, err
	default:
		return nil, attemptAbandon, err
	}
}

var retryAfterRe = regexp.MustCompile(`(?i)retry(?:ing)?\D{0,10}(\d+(?:\.\d+)?)\s*s`)

// retryAfterHint extracts a provider-supplied backoff from the error text.
// Returns zero when no hint is present, deferring to the pool default.
func retryAfterHint(err error) time.Duration {
	m := retryAfterRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	secs, perr := strconv.ParseFloat(m[1], 64)
	if perr != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
