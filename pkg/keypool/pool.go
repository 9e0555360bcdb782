// Package keypool manages prioritized credential pools for LLM providers.
//
// Invariants:
// - Credential mutations (cooldown, failure count) are serialized by the pool.
// - A credential in cooldown is never handed out before its cooldown expires.
// - Exhaustion is a normal outcome (ErrExhausted), not a fault.
package keypool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrExhausted is returned when every credential for a provider is cooling down.
var ErrExhausted = errors.New("keypool: all credentials exhausted")

// DefaultCooldown is applied when the provider gives no backoff hint.
const DefaultCooldown = 60 * time.Second

// Credential is one API key bound to a provider.
type Credential struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"` // "gemini", "openai", "anthropic"
	APIKey        string     `json:"api_key"`
	Priority      int        `json:"priority"` // lower = tried first
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	FailureCount  int        `json:"failure_count"`
}

// InCooldown reports whether the credential is cooling down at t.
func (c Credential) InCooldown(t time.Time) bool {
	return c.CooldownUntil != nil && t.Before(*c.CooldownUntil)
}

// Pool holds credentials for all providers, ordered by priority per provider.
type Pool struct {
	mu    sync.Mutex
	creds map[string][]*Credential // provider -> priority-ordered
	now   func() time.Time
}

// New creates a pool from the given credentials. Credentials are grouped by
// provider and sorted by ascending priority.
func New(creds []Credential) (*Pool, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("at least one credential is required")
	}

	p := &Pool{
		creds: make(map[string][]*Credential),
		now:   time.Now,
	}

	seen := make(map[string]bool)
	for i := range creds {
		c := creds[i]
		if c.Provider == "" {
			return nil, fmt.Errorf("credential %q has empty provider", c.ID)
		}
		if c.APIKey == "" {
			return nil, fmt.Errorf("credential %q has empty api key", c.ID)
		}
		key := c.Provider + ":" + c.APIKey
		if seen[key] {
			return nil, fmt.Errorf("duplicate credential for provider %s", c.Provider)
		}
		seen[key] = true
		if c.ID == "" {
			c.ID = fmt.Sprintf("%s-%d", c.Provider, len(p.creds[c.Provider])+1)
		}
		p.creds[c.Provider] = append(p.creds[c.Provider], &c)
	}

	for provider := range p.creds {
		list := p.creds[provider]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Priority < list[j].Priority
		})
	}

	return p, nil
}

// Next returns the highest-priority credential for provider that is not
// cooling down. Returns ErrExhausted when none is eligible.
func (p *Pool) Next(provider string) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list, ok := p.creds[provider]
	if !ok || len(list) == 0 {
		return Credential{}, fmt.Errorf("keypool: unknown provider %q", provider)
	}

	now := p.now()
	for _, c := range list {
		if c.InCooldown(now) {
			continue
		}
		return *c, nil
	}

	return Credential{}, ErrExhausted
}

// MarkExhausted places the credential in cooldown. When hint is zero the
// default cooldown is used, scaled by the consecutive failure count.
func (p *Pool) MarkExhausted(id string, hint time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.findLocked(id)
	if c == nil {
		return
	}

	c.FailureCount++
	d := hint
	if d <= 0 {
		d = DefaultCooldown * time.Duration(c.FailureCount)
	}
	until := p.now().Add(d)
	c.CooldownUntil = &until
}

// MarkSuccess clears any cooldown and resets the failure count.
func (p *Pool) MarkSuccess(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.findLocked(id)
	if c == nil {
		return
	}

	c.FailureCount = 0
	c.CooldownUntil = nil
}

// ResetProvider clears cooldown state for every credential of a provider.
func (p *Pool) ResetProvider(provider string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	reset := 0
	for _, c := range p.creds[provider] {
		if c.CooldownUntil != nil || c.FailureCount > 0 {
			reset++
		}
		c.CooldownUntil = nil
		c.FailureCount = 0
	}
	return reset
}

// AvailableCount returns the number of credentials for provider that are not
// cooling down.
func (p *Pool) AvailableCount(provider string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := 0
	for _, c := range p.creds[provider] {
		if !c.InCooldown(now) {
			n++
		}
	}
	return n
}

// Size returns the total credential count for provider.
func (p *Pool) Size(provider string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds[provider])
}

// Providers returns the providers that have at least one credential.
func (p *Pool) Providers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	providers := make([]string, 0, len(p.creds))
	for provider := range p.creds {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	return providers
}

// Snapshot returns a copy of all credentials, for status reporting. API keys
// are not redacted here; redaction belongs to the logging layer.
func (p *Pool) Snapshot() []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Credential
	for _, provider := range p.providersLocked() {
		for _, c := range p.creds[provider] {
			cp := *c
			if c.CooldownUntil != nil {
				t := *c.CooldownUntil
				cp.CooldownUntil = &t
			}
			out = append(out, cp)
		}
	}
	return out
}

// Replace swaps the pool contents, preserving cooldown state for credentials
// whose (provider, api key) pair survives. Used by config hot reload.
func (p *Pool) Replace(creds []Credential) error {
	fresh, err := New(creds)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prev := make(map[string]*Credential)
	for _, list := range p.creds {
		for _, c := range list {
			prev[c.Provider+":"+c.APIKey] = c
		}
	}

	for _, list := range fresh.creds {
		for _, c := range list {
			if old, ok := prev[c.Provider+":"+c.APIKey]; ok {
				c.CooldownUntil = old.CooldownUntil
				c.FailureCount = old.FailureCount
			}
		}
	}

	p.creds = fresh.creds
	return nil
}

func (p *Pool) findLocked(id string) *Credential {
	for _, list := range p.creds {
		for _, c := range list {
			if c.ID == id {
				return c
			}
		}
	}
	return nil
}

func (p *Pool) providersLocked() []string {
	providers := make([]string, 0, len(p.creds))
	for provider := range p.creds {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	return providers
}
