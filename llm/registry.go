package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// Preference represents a single provider/model preference.
type Preference struct {
	Provider    string
	Model       string
	Temperature *float64
}

// Resolution is the outcome of preference-based provider selection.
type Resolution struct {
	Provider    Provider
	Name        string
	Model       string // Empty means the provider's default model
	Temperature *float64
}

// ProviderRegistry holds the configured providers and resolves caller
// preferences against the enabled set.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	enabled   []string // Resolution order when no preference matches
}

// NewProviderRegistry creates a registry. enabledProviders lists, in order,
// which registered providers may be selected; empty enables every provider.
func NewProviderRegistry(enabledProviders []string) *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]Provider),
		enabled:   lo.Uniq(enabledProviders),
	}
}

// Register adds or replaces the provider under name.
func (r *ProviderRegistry) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
}

// Get returns the provider registered under name.
func (r *ProviderRegistry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names, sorted.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.providers)
	sort.Strings(names)
	return names
}

// IsProviderEnabled checks if a provider is in the enabled providers list.
func (r *ProviderRegistry) IsProviderEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isEnabledUnlocked(name)
}

func (r *ProviderRegistry) isEnabledUnlocked(name string) bool {
	if len(r.enabled) == 0 {
		return true
	}
	return lo.Contains(r.enabled, name)
}

// Resolve returns the first preference whose provider is enabled and
// registered. Without preferences it returns the first enabled, registered
// provider with its default model.
func (r *ProviderRegistry) Resolve(prefs []Preference) (*Resolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(prefs) > 0 {
		for _, pref := range prefs {
			if !r.isEnabledUnlocked(pref.Provider) {
				continue
			}
			p, ok := r.providers[pref.Provider]
			if !ok {
				continue
			}
			return &Resolution{Provider: p, Name: pref.Provider, Model: pref.Model, Temperature: pref.Temperature}, nil
		}
		attempted := lo.Map(prefs, func(p Preference, _ int) string { return p.Provider })
		return nil, fmt.Errorf("no available provider from preferences %v (enabled: %v)", attempted, r.enabledListUnlocked())
	}

	for _, name := range r.enabledListUnlocked() {
		if p, ok := r.providers[name]; ok {
			return &Resolution{Provider: p, Name: name}, nil
		}
	}
	return nil, fmt.Errorf("no providers enabled")
}

func (r *ProviderRegistry) enabledListUnlocked() []string {
	if len(r.enabled) > 0 {
		return r.enabled
	}
	names := lo.Keys(r.providers)
	sort.Strings(names)
	return names
}
