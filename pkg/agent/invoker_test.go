package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizora/quizora/pkg/keypool"
)

// scriptedProvider returns canned outcomes in order, one per Call.
type scriptedProvider struct {
	name    string
	mu      *sync.Mutex
	script  *[]scriptStep
	credits *[]string // credential IDs observed, in call order
	credID  string
}

type scriptStep struct {
	resp *LLMResponse
	err  error
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Call(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	*p.credits = append(*p.credits, p.credID)
	if len(*p.script) == 0 {
		return nil, fmt.Errorf("script exhausted")
	}
	step := (*p.script)[0]
	*p.script = (*p.script)[1:]
	return step.resp, step.err
}

// scriptedFactory hands every credential a provider sharing one script.
type scriptedFactory struct {
	mu      sync.Mutex
	script  []scriptStep
	credits []string
}

func (f *scriptedFactory) NewProvider(cred keypool.Credential) (LLMProvider, error) {
	return &scriptedProvider{
		name:    cred.Provider,
		mu:      &f.mu,
		script:  &f.script,
		credits: &f.credits,
		credID:  cred.ID,
	}, nil
}

func okResponse(content string) scriptStep {
	return scriptStep{resp: &LLMResponse{Content: content, Usage: &TokenUsage{InputTokens: 10, OutputTokens: 5}}}
}

func quotaError() scriptStep {
	return scriptStep{err: errors.New("429: quota exceeded for this key")}
}

func setupInvoker(t *testing.T, creds []keypool.Credential, chain []ProviderSpec, factory ProviderCreator) (*Invoker, *keypool.Pool) {
	t.Helper()

	pool, err := keypool.New(creds)
	require.NoError(t, err)

	inv, err := NewInvoker(InvokerConfig{
		Pool:           pool,
		Chain:          chain,
		Factory:        factory,
		Logger:         zerolog.New(os.Stdout).Level(zerolog.Disabled),
		RequestsPerKey: 100000, // keep tests fast
	})
	require.NoError(t, err)

	return inv, pool
}

func geminiOpenAICreds() []keypool.Credential {
	return []keypool.Credential{
		{ID: "gem-1", Provider: "gemini", APIKey: "gk1", Priority: 1},
		{ID: "gem-2", Provider: "gemini", APIKey: "gk2", Priority: 2},
		{ID: "oai-1", Provider: "openai", APIKey: "ok1", Priority: 1},
	}
}

func geminiOpenAIChain() []ProviderSpec {
	return []ProviderSpec{
		{Name: "gemini", Model: "gemini-2.5-flash"},
		{Name: "openai", Model: "gpt-4o-mini"},
	}
}

func TestNewInvoker(t *testing.T) {
	t.Run("should fail without pool", func(t *testing.T) {
		_, err := NewInvoker(InvokerConfig{Chain: geminiOpenAIChain()})
		assert.Error(t, err)
	})

	t.Run("should fail with empty chain", func(t *testing.T) {
		pool, err := keypool.New(geminiOpenAICreds())
		require.NoError(t, err)

		_, err = NewInvoker(InvokerConfig{Pool: pool})
		assert.Error(t, err)
	})

	t.Run("should fail when a chained provider has no model", func(t *testing.T) {
		pool, err := keypool.New(geminiOpenAICreds())
		require.NoError(t, err)

		_, err = NewInvoker(InvokerConfig{Pool: pool, Chain: []ProviderSpec{{Name: "gemini"}}})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "model")
	})
}

func TestInvoke(t *testing.T) {
	t.Run("should return success immediately on first attempt", func(t *testing.T) {
		factory := &scriptedFactory{script: []scriptStep{okResponse("hello")}}
		inv, _ := setupInvoker(t, geminiOpenAICreds(), geminiOpenAIChain(), factory)

		dec, err := inv.Invoke(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "")
		require.NoError(t, err)

		assert.Equal(t, DecisionFinal, dec.Kind)
		assert.Equal(t, "hello", dec.Content)
		assert.Equal(t, "gemini", dec.Provider)
		assert.Equal(t, []string{"gem-1"}, factory.credits)
	})

	t.Run("should rotate credentials on quota and record mutations", func(t *testing.T) {
		// quota, quota, success within the primary provider's pool plus
		// fallback: two cooldown mutations, one success mutation.
		creds := []keypool.Credential{
			{ID: "gem-1", Provider: "gemini", APIKey: "gk1", Priority: 1},
			{ID: "gem-2", Provider: "gemini", APIKey: "gk2", Priority: 2},
			{ID: "gem-3", Provider: "gemini", APIKey: "gk3", Priority: 3},
		}
		factory := &scriptedFactory{script: []scriptStep{quotaError(), quotaError(), okResponse("42")}}
		inv, pool := setupInvoker(t, creds, []ProviderSpec{{Name: "gemini", Model: "gemini-2.5-flash"}}, factory)

		dec, err := inv.Invoke(context.Background(), nil, nil, "")
		require.NoError(t, err)

		assert.Equal(t, "42", dec.Content)
		assert.Equal(t, []string{"gem-1", "gem-2", "gem-3"}, factory.credits)

		// gem-1 and gem-2 cooling down, gem-3 successful and clear.
		assert.Equal(t, 1, pool.AvailableCount("gemini"))
		for _, c := range pool.Snapshot() {
			switch c.ID {
			case "gem-1", "gem-2":
				assert.NotNil(t, c.CooldownUntil, c.ID)
				assert.Equal(t, 1, c.FailureCount, c.ID)
			case "gem-3":
				assert.Nil(t, c.CooldownUntil)
				assert.Zero(t, c.FailureCount)
			}
		}
	})

	t.Run("should fall through to secondary provider when primary exhausted", func(t *testing.T) {
		// Both gemini credentials quota out; openai succeeds.
		factory := &scriptedFactory{script: []scriptStep{quotaError(), quotaError(), okResponse("fallback answer")}}
		inv, pool := setupInvoker(t, geminiOpenAICreds(), geminiOpenAIChain(), factory)

		dec, err := inv.Invoke(context.Background(), nil, nil, "")
		require.NoError(t, err)

		assert.Equal(t, "openai", dec.Provider)
		assert.Equal(t, "oai-1", dec.Credential)
		assert.Equal(t, 0, pool.AvailableCount("gemini"))
		assert.Equal(t, 1, pool.AvailableCount("openai"))
	})

	t.Run("should retry same credential once on transient error", func(t *testing.T) {
		factory := &scriptedFactory{script: []scriptStep{
			{err: errors.New("503 service temporarily unavailable")},
			okResponse("recovered"),
		}}
		inv, _ := setupInvoker(t, geminiOpenAICreds(), geminiOpenAIChain(), factory)

		dec, err := inv.Invoke(context.Background(), nil, nil, "")
		require.NoError(t, err)

		assert.Equal(t, "recovered", dec.Content)
		assert.Equal(t, []string{"gem-1", "gem-1"}, factory.credits)
	})

	t.Run("should move to next provider on fatal error", func(t *testing.T) {
		factory := &scriptedFactory{script: []scriptStep{
			{err: errors.New("400 invalid request payload")},
			okResponse("from openai"),
		}}
		inv, pool := setupInvoker(t, geminiOpenAICreds(), geminiOpenAIChain(), factory)

		dec, err := inv.Invoke(context.Background(), nil, nil, "")
		require.NoError(t, err)

		assert.Equal(t, "openai", dec.Provider)
		// Fatal errors do not put credentials into cooldown.
		assert.Equal(t, 2, pool.AvailableCount("gemini"))
	})

	t.Run("should return terminal failure when everything is exhausted", func(t *testing.T) {
		factory := &scriptedFactory{script: []scriptStep{quotaError(), quotaError(), quotaError()}}
		inv, _ := setupInvoker(t, geminiOpenAICreds(), geminiOpenAIChain(), factory)

		_, err := inv.Invoke(context.Background(), nil, nil, "")
		assert.ErrorIs(t, err, ErrAllProvidersExhausted)
	})

	t.Run("should fall through without raising when a pool starts exhausted", func(t *testing.T) {
		factory := &scriptedFactory{script: []scriptStep{okResponse("openai only")}}
		inv, pool := setupInvoker(t, geminiOpenAICreds(), geminiOpenAIChain(), factory)

		pool.MarkExhausted("gem-1", keypool.DefaultCooldown)
		pool.MarkExhausted("gem-2", keypool.DefaultCooldown)

		dec, err := inv.Invoke(context.Background(), nil, nil, "")
		require.NoError(t, err)
		assert.Equal(t, "openai", dec.Provider)
	})

	t.Run("should stop promptly on cancellation", func(t *testing.T) {
		factory := &scriptedFactory{script: []scriptStep{okResponse("never used")}}
		inv, _ := setupInvoker(t, geminiOpenAICreds(), geminiOpenAIChain(), factory)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := inv.Invoke(ctx, nil, nil, "")
		assert.Error(t, err)
		assert.Empty(t, factory.credits)
	})

	t.Run("should produce tool call decision when model requests tools", func(t *testing.T) {
		factory := &scriptedFactory{script: []scriptStep{{resp: &LLMResponse{
			ToolCalls: []ToolCall{{ID: "c1", Name: "render_page", Arguments: map[string]interface{}{"url": "http://q"}}},
		}}}}
		inv, _ := setupInvoker(t, geminiOpenAICreds(), geminiOpenAIChain(), factory)

		dec, err := inv.Invoke(context.Background(), nil, nil, "")
		require.NoError(t, err)

		assert.Equal(t, DecisionToolCalls, dec.Kind)
		require.Len(t, dec.ToolCalls, 1)
		assert.Equal(t, "render_page", dec.ToolCalls[0].Name)
	})
}

func TestClassifyError(t *testing.T) {
	t.Run("should classify quota errors", func(t *testing.T) {
		assert.Equal(t, FailureQuota, ClassifyError(errors.New("429 Too Many Requests")))
		assert.Equal(t, FailureQuota, ClassifyError(errors.New("RESOURCE_EXHAUSTED: quota exceeded")))
		assert.Equal(t, FailureQuota, ClassifyError(errors.New("rate limit reached")))
	})

	t.Run("should classify transient errors", func(t *testing.T) {
		assert.Equal(t, FailureTransient, ClassifyError(errors.New("502 Bad Gateway")))
		assert.Equal(t, FailureTransient, ClassifyError(errors.New("read tcp: connection reset by peer")))
		assert.Equal(t, FailureTransient, ClassifyError(ErrEmptyResponse))
	})

	t.Run("should classify everything else as fatal", func(t *testing.T) {
		assert.Equal(t, FailureFatal, ClassifyError(errors.New("401 invalid api key")))
		assert.Equal(t, FailureFatal, ClassifyError(errors.New("model not found")))
	})
}

func TestRetryAfterHint(t *testing.T) {
	t.Run("should parse retry hints from error text", func(t *testing.T) {
		d := retryAfterHint(errors.New("quota exceeded, retry after 12s"))
		assert.Equal(t, float64(12), d.Seconds())
	})

	t.Run("should return zero when no hint present", func(t *testing.T) {
		assert.Zero(t, retryAfterHint(errors.New("quota exceeded")))
	})
}
