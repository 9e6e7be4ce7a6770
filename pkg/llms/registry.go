package llms

import (
	"errors"
	"fmt"
	"sync"

	"github.com/reelix-ai/reelix/pkg/config"
)

// New creates a provider from config.
func New(cfg *config.LLMConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config cannot be nil")
	}

	switch cfg.Type {
	case config.LLMTypeOpenAI:
		return NewOpenAIProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM type: %s (supported: openai)", cfg.Type)
	}
}

// Registry holds providers keyed by role name. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

func (r *Registry) Register(name string, provider Provider) error {
	if name == "" {
		return fmt.Errorf("LLM name cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("LLM provider cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("LLM '%s' already registered", name)
	}
	r.providers[name] = provider
	return nil
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("LLM provider '%s' not found", name)
	}
	return provider, nil
}

// CreateFromConfig builds, registers and returns a provider. Registering a
// name twice returns the already-registered provider, so roles sharing one
// config share one provider.
func (r *Registry) CreateFromConfig(name string, cfg *config.LLMConfig) (Provider, error) {
	if existing, err := r.Get(name); err == nil {
		return existing, nil
	}

	provider, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	if err := r.Register(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register LLM: %w", err)
	}

	return provider, nil
}

// Close closes every registered provider, joining errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, provider := range r.providers {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing LLM '%s': %w", name, err))
		}
	}
	r.providers = make(map[string]Provider)
	return errors.Join(errs...)
}
