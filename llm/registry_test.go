package llm

import (
	"context"
	"testing"
)

type stubProvider struct {
	name string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Complete(ctx context.Context, req *Request) (*Message, error) {
	msg := NewTextMessage(RoleAssistant, p.name)
	return &msg, nil
}

func (p *stubProvider) Stream(ctx context.Context, req *Request) (ChunkStream, error) {
	return nil, ErrUnsupported
}

func TestProviderRegistry_IsProviderEnabled(t *testing.T) {
	registry := NewProviderRegistry([]string{"anthropic", "ollama"})

	if !registry.IsProviderEnabled("anthropic") {
		t.Error("anthropic should be enabled")
	}
	if !registry.IsProviderEnabled("ollama") {
		t.Error("ollama should be enabled")
	}
	if registry.IsProviderEnabled("openai") {
		t.Error("openai should not be enabled")
	}
}

func TestProviderRegistry_EmptyEnabledListEnablesAll(t *testing.T) {
	registry := NewProviderRegistry(nil)
	if !registry.IsProviderEnabled("gemini") {
		t.Error("every provider should be enabled when no list is given")
	}
}

func TestProviderRegistry_Resolve_WithPreferences(t *testing.T) {
	registry := NewProviderRegistry([]string{ProviderAnthropic, ProviderOllama})
	registry.Register(ProviderAnthropic, &stubProvider{name: ProviderAnthropic})
	registry.Register(ProviderOllama, &stubProvider{name: ProviderOllama})

	res, err := registry.Resolve([]Preference{
		{Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514"},
		{Provider: ProviderOllama, Model: "mistral:20b"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Name != ProviderAnthropic {
		t.Errorf("Expected provider %s, got %s", ProviderAnthropic, res.Name)
	}
	if res.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Expected model claude-sonnet-4-20250514, got %s", res.Model)
	}
}

func TestProviderRegistry_Resolve_FallbackToNextPreference(t *testing.T) {
	registry := NewProviderRegistry([]string{ProviderOllama, ProviderOpenAI})
	registry.Register(ProviderOllama, &stubProvider{name: ProviderOllama})

	res, err := registry.Resolve([]Preference{
		{Provider: ProviderAnthropic, Model: "claude-haiku-4-5"}, // not enabled
		{Provider: ProviderOpenAI, Model: "gpt-4o"},              // enabled but not registered
		{Provider: ProviderOllama, Model: "llama3"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Name != ProviderOllama {
		t.Errorf("Expected fallback to %s, got %s", ProviderOllama, res.Name)
	}
	if res.Provider.Name() != ProviderOllama {
		t.Errorf("Expected resolved provider %s, got %s", ProviderOllama, res.Provider.Name())
	}
}

func TestProviderRegistry_Resolve_NoPreferences(t *testing.T) {
	registry := NewProviderRegistry([]string{ProviderOpenAI, ProviderOllama})
	registry.Register(ProviderOllama, &stubProvider{name: ProviderOllama})

	res, err := registry.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Name != ProviderOllama {
		t.Errorf("Expected first registered enabled provider %s, got %s", ProviderOllama, res.Name)
	}
	if res.Model != "" {
		t.Errorf("Expected default model, got %s", res.Model)
	}
}

func TestProviderRegistry_Resolve_NoneAvailable(t *testing.T) {
	registry := NewProviderRegistry([]string{ProviderAnthropic})

	if _, err := registry.Resolve([]Preference{{Provider: ProviderOpenAI}}); err == nil {
		t.Error("Expected error when no preference is available")
	}
	if _, err := registry.Resolve(nil); err == nil {
		t.Error("Expected error when no provider is registered")
	}
}

func TestProviderRegistry_Names(t *testing.T) {
	registry := NewProviderRegistry(nil)
	registry.Register(ProviderOpenAI, &stubProvider{name: ProviderOpenAI})
	registry.Register(ProviderAnthropic, &stubProvider{name: ProviderAnthropic})

	names := registry.Names()
	if len(names) != 2 || names[0] != ProviderAnthropic || names[1] != ProviderOpenAI {
		t.Errorf("Expected sorted names, got %v", names)
	}
	if _, ok := registry.Get(ProviderOpenAI); !ok {
		t.Error("Expected openai to be registered")
	}
}
