package agent

import (
	"errors"
	"strings"
)

// Message represents a single conversation turn sent to a provider.
type Message struct {
	Role       string                 `json:"role"` // system, user, assistant, tool
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// TokenUsage tracks token consumption across provider calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from a single response.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// LLMRequest contains the request parameters for one provider call.
type LLMRequest struct {
	Model        string
	Messages     []Message
	Tools        []map[string]interface{}
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the raw response from a provider.
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// DecisionKind discriminates the model decision variant.
type DecisionKind int

const (
	// DecisionFinal means the model produced a final answer and requested no tools.
	DecisionFinal DecisionKind = iota
	// DecisionToolCalls means the model requested one or more tool invocations.
	DecisionToolCalls
)

// Decision is the tagged result of one logical "ask the model" operation.
type Decision struct {
	Kind       DecisionKind
	Content    string
	ToolCalls  []ToolCall
	Usage      *TokenUsage
	Provider   string
	Credential string
}

// DecisionFrom converts a provider response into a tagged decision.
func DecisionFrom(resp *LLMResponse, provider, credentialID string) *Decision {
	d := &Decision{
		Content:    resp.Content,
		Usage:      resp.Usage,
		Provider:   provider,
		Credential: credentialID,
	}
	if len(resp.ToolCalls) > 0 {
		d.Kind = DecisionToolCalls
		d.ToolCalls = resp.ToolCalls
		return d
	}
	d.Kind = DecisionFinal
	return d
}

// FailureKind classifies a failed provider attempt.
type FailureKind string

const (
	FailureQuota     FailureKind = "quota_exceeded"
	FailureTransient FailureKind = "transient"
	FailureFatal     FailureKind = "fatal"
)

// ErrAllProvidersExhausted is the terminal invoker failure: every credential
// of every provider in the chain was tried or is cooling down.
var ErrAllProvidersExhausted = errors.New("agent: all providers exhausted")

// ErrEmptyResponse is returned when a provider answers with neither content
// nor tool calls.
var ErrEmptyResponse = errors.New("agent: provider returned empty response")

var quotaMarkers = []string{
	"429",
	"quota",
	"rate limit",
	"rate_limit",
	"RESOURCE_EXHAUSTED",
	"insufficient_quota",
}

var transientMarkers = []string{
	"500", "502", "503", "504",
	"ECONNRESET",
	"ETIMEDOUT",
	"connection reset",
	"connection refused",
	"timeout",
	"temporarily unavailable",
	"overloaded",
}

// ClassifyError maps a provider error onto the failure taxonomy. Quota errors
// trigger credential rotation, transient errors a bounded same-credential
// retry, fatal errors abandon the provider.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, m := range quotaMarkers {
		if containsFold(msg, m) {
			return FailureQuota
		}
	}
	if errors.Is(err, ErrEmptyResponse) {
		return FailureTransient
	}
	for _, m := range transientMarkers {
		if containsFold(msg, m) {
			return FailureTransient
		}
	}
	return FailureFatal
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// EstimateTokens provides a rough token count for context compaction.
// 1 token is roughly 4 characters.
func EstimateTokens(messages []Message) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
	}
	return (totalChars + 3) / 4
}
