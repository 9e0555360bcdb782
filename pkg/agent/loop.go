package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizora/quizora/internal/observability"
	"github.com/quizora/quizora/pkg/session"
	"github.com/quizora/quizora/pkg/toolkit"
)

// State is the agent loop's machine state.
type State string

const (
	StateAwaitingDecision State = "AWAITING_DECISION"
	StateExecutingTools   State = "EXECUTING_TOOLS"
	StateComplete         State = "COMPLETE"
	StateAborted          State = "ABORTED"
)

// Abort reasons surfaced in EpisodeResult.Reason.
const (
	ReasonStepLimit          = "step-limit exceeded"
	ReasonProviderExhausted  = "all providers exhausted"
	ReasonCancelled          = "cancelled"
	ReasonDecisionFailed     = "decision failed"
	ReasonContextPersistence = "context persistence failed"
)

// DefaultStepLimit bounds decision round-trips per question.
const DefaultStepLimit = 15

// DecisionMaker is the loop's view of the provider fallback invoker.
type DecisionMaker interface {
	Invoke(ctx context.Context, messages []Message, tools []map[string]interface{}, systemPrompt string) (*Decision, error)
}

// Episode is one quiz question's decision/tool-execution cycle.
type Episode struct {
	Key          string // conversation context key
	Prompt       string // opening user message, usually the question URL
	SystemPrompt string
}

// EpisodeResult is the terminal outcome of one loop run.
type EpisodeResult struct {
	State     State         `json:"state"`
	Answer    string        `json:"answer,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Steps     int           `json:"steps"`
	ToolCalls int           `json:"tool_calls"`
	Usage     TokenUsage    `json:"usage"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Aborted reports whether the episode ended without a final answer.
func (r EpisodeResult) Aborted() bool {
	return r.State == StateAborted
}

// LoopConfig configures the agent loop.
type LoopConfig struct {
	Invoker     DecisionMaker
	Registry    *toolkit.Registry
	Sessions    *session.Manager // optional transcript persistence
	Logger      zerolog.Logger
	StepLimit   int           // decision round-trips per question, default 15
	ToolTimeout time.Duration // per tool invocation, default toolkit.DefaultTimeout

	// Progress reports whether a tool observation advanced the quiz to a
	// new question. When set, the step limit counts decisions since the
	// last advancement, so one episode can walk an arbitrarily long chain
	// while each question stays bounded.
	Progress func(toolkit.Observation) bool
}

// Loop alternates between model decisions and tool executions until the
// model yields a final answer or a hard stop fires.
type Loop struct {
	invoker     DecisionMaker
	registry    *toolkit.Registry
	sessions    *session.Manager
	logger      zerolog.Logger
	stepLimit   int
	toolTimeout time.Duration
	progress    func(toolkit.Observation) bool
}

// NewLoop creates an agent loop.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}

	stepLimit := cfg.StepLimit
	if stepLimit <= 0 {
		stepLimit = DefaultStepLimit
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = toolkit.DefaultTimeout
	}

	return &Loop{
		invoker:     cfg.Invoker,
		registry:    cfg.Registry,
		sessions:    cfg.Sessions,
		logger:      cfg.Logger,
		stepLimit:   stepLimit,
		toolTimeout: toolTimeout,
		progress:    cfg.Progress,
	}, nil
}

// RunEpisode drives one episode to a terminal state. All failures are
// represented in the result; the only returned values are data.
func (l *Loop) RunEpisode(ctx context.Context, ep Episode) EpisodeResult {
	start := time.Now()
	logger := l.logger.With().Str("episode", ep.Key).Logger()

	messages := []Message{{Role: "user", Content: ep.Prompt}}
	l.record(ctx, ep.Key, session.Turn{Role: "user", Content: ep.Prompt})

	var usage TokenUsage
	totalToolCalls := 0
	state := StateAwaitingDecision

	// window counts decisions since the last chain advancement; without a
	// progress hook it equals step and the limit covers the whole episode.
	step, window := 0, 0
	for {
		step++
		window++
		// The step limit allows exactly stepLimit decisions per question;
		// the next attempt aborts.
		if window > l.stepLimit {
			logger.Warn().Int("step_limit", l.stepLimit).Msg("Episode exceeded step limit")
			return l.finish(ctx, ep.Key, EpisodeResult{
				State:     StateAborted,
				Reason:    ReasonStepLimit,
				Steps:     step - 1,
				ToolCalls: totalToolCalls,
				Usage:     usage,
				Elapsed:   time.Since(start),
			})
		}

		select {
		case <-ctx.Done():
			return l.finish(ctx, ep.Key, EpisodeResult{
				State:     StateAborted,
				Reason:    ReasonCancelled,
				Steps:     step - 1,
				ToolCalls: totalToolCalls,
				Usage:     usage,
				Elapsed:   time.Since(start),
			})
		default:
		}

		state = StateAwaitingDecision
		logger.Debug().Int("step", step).Str("state", string(state)).Msg("Requesting decision")

		decision, err := l.invoker.Invoke(ctx, messages, l.registry.Descriptors(), ep.SystemPrompt)
		if err != nil {
			reason := ReasonDecisionFailed
			if errors.Is(err, ErrAllProvidersExhausted) {
				reason = ReasonProviderExhausted
			}
			if ctx.Err() != nil {
				reason = ReasonCancelled
			}
			logger.Error().Err(err).Str("reason", reason).Msg("Decision unavailable, aborting episode")
			return l.finish(ctx, ep.Key, EpisodeResult{
				State:     StateAborted,
				Reason:    reason,
				Steps:     step,
				ToolCalls: totalToolCalls,
				Usage:     usage,
				Elapsed:   time.Since(start),
			})
		}

		usage.Add(decision.Usage)

		switch decision.Kind {
		case DecisionFinal:
			l.record(ctx, ep.Key, session.Turn{
				Role:    "assistant",
				Content: decision.Content,
				Metadata: map[string]interface{}{
					"provider": decision.Provider,
					"final":    true,
				},
			})
			logger.Info().Int("steps", step).Str("provider", decision.Provider).Msg("Episode complete")
			return l.finish(ctx, ep.Key, EpisodeResult{
				State:     StateComplete,
				Answer:    decision.Content,
				Steps:     step,
				ToolCalls: totalToolCalls,
				Usage:     usage,
				Elapsed:   time.Since(start),
			})

		case DecisionToolCalls:
			state = StateExecutingTools
			messages = append(messages, Message{
				Role:      "assistant",
				Content:   decision.Content,
				ToolCalls: decision.ToolCalls,
			})
			l.record(ctx, ep.Key, session.Turn{
				Role:    "assistant",
				Content: decision.Content,
				Metadata: map[string]interface{}{
					"provider":   decision.Provider,
					"tool_calls": toolCallNames(decision.ToolCalls),
				},
			})

			// Observations are appended in request order; no reordering
			// relative to the decision that asked for them.
			for _, call := range decision.ToolCalls {
				obs := l.registry.Invoke(ctx, toolkit.Invocation{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Arguments,
				}, l.toolTimeout)

				if l.progress != nil && l.progress(obs) {
					logger.Debug().Int("step", step).Msg("Chain advanced, decision budget restarted")
					window = 0
				}

				totalToolCalls++
				content := obs.Content()
				messages = append(messages, Message{
					Role:       "tool",
					Content:    content,
					ToolCallID: obs.CallID,
				})
				l.record(ctx, ep.Key, session.Turn{
					Role:    "tool",
					Content: content,
					Metadata: map[string]interface{}{
						"tool":       obs.Tool,
						"kind":       string(obs.Kind),
						"elapsed_ms": obs.Elapsed.Milliseconds(),
					},
				})
			}

		default:
			// Exhaustive over the Decision variant; unreachable.
			logger.Error().Int("kind", int(decision.Kind)).Msg("Unknown decision kind")
			return l.finish(ctx, ep.Key, EpisodeResult{
				State:     StateAborted,
				Reason:    ReasonDecisionFailed,
				Steps:     step,
				ToolCalls: totalToolCalls,
				Usage:     usage,
				Elapsed:   time.Since(start),
			})
		}
	}
}

func (l *Loop) finish(ctx context.Context, key string, result EpisodeResult) EpisodeResult {
	observability.RecordEpisode(string(result.State), result.Steps, result.Elapsed)
	if result.State == StateAborted {
		l.record(ctx, key, session.Turn{
			Role:    "assistant",
			Content: fmt.Sprintf("episode aborted: %s", result.Reason),
			Metadata: map[string]interface{}{
				"aborted": true,
				"reason":  result.Reason,
			},
		})
	}
	return result
}

// record appends a turn to the transcript. Persistence failures are logged
// and do not interrupt the episode; the in-memory context stays canonical.
func (l *Loop) record(ctx context.Context, key string, turn session.Turn) {
	if l.sessions == nil {
		return
	}
	if err := l.sessions.Append(ctx, key, turn); err != nil && ctx.Err() == nil {
		l.logger.Warn().Str("episode", key).Err(err).Msg("Failed to persist conversation turn")
	}
}

func toolCallNames(calls []ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
