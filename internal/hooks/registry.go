package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type registered struct {
	hook        Hook
	timeout     time.Duration
	failureMode string
}

// Registry maps lifecycle events to the hooks that handle them
type Registry struct {
	mu        sync.RWMutex
	hooks     map[EventType][]registered
	factories map[string]HookFactory
}

// NewRegistry creates a registry with the script and webhook factories registered
func NewRegistry() *Registry {
	r := &Registry{
		hooks:     make(map[EventType][]registered),
		factories: make(map[string]HookFactory),
	}
	r.RegisterFactory("script", NewScriptHook)
	r.RegisterFactory("webhook", NewWebhookHook)
	return r
}

// NewRegistryFromConfig builds a registry from configuration, skipping disabled hooks
func NewRegistryFromConfig(configs []HookConfig) (*Registry, error) {
	r := NewRegistry()
	for i := range configs {
		if err := r.RegisterFromConfig(&configs[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RegisterFactory registers a hook factory
func (r *Registry) RegisterFactory(hookType string, factory HookFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[hookType] = factory
}

// Register adds a hook for each event type it handles
func (r *Registry) Register(hook Hook, timeout time.Duration, failureMode string) error {
	if hook == nil {
		return fmt.Errorf("hook cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if failureMode == "" {
		failureMode = "warn"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, eventType := range hook.EventTypes() {
		r.hooks[eventType] = append(r.hooks[eventType], registered{hook: hook, timeout: timeout, failureMode: failureMode})
	}
	return nil
}

// RegisterFromConfig creates and registers a hook from configuration
func (r *Registry) RegisterFromConfig(config *HookConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if !config.Enabled {
		return nil
	}

	r.mu.RLock()
	factory, exists := r.factories[config.Type]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("unknown hook type: %s", config.Type)
	}

	hook, err := factory(config)
	if err != nil {
		return fmt.Errorf("failed to create hook %s: %w", config.Name, err)
	}
	return r.Register(hook, config.Timeout, config.FailureMode)
}

// Trigger runs every hook registered for the event concurrently and waits for all of them
func (r *Registry) Trigger(ctx context.Context, event *Event) []ExecutionResult {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	hooks := append([]registered(nil), r.hooks[event.Type]...)
	r.mu.RUnlock()

	if len(hooks) == 0 {
		return nil
	}

	results := make([]ExecutionResult, len(hooks))
	var wg sync.WaitGroup
	for i, h := range hooks {
		wg.Add(1)
		go func(index int, h registered) {
			defer wg.Done()
			results[index] = execute(ctx, h, event)
		}(i, h)
	}
	wg.Wait()
	return results
}

// Count returns the number of distinct registered hooks
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, hooks := range r.hooks {
		for _, h := range hooks {
			seen[h.hook.Name()] = true
		}
	}
	return len(seen)
}

func execute(ctx context.Context, h registered, event *Event) ExecutionResult {
	hookCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := h.hook.Execute(hookCtx, event)

	result := ExecutionResult{
		HookName:    h.hook.Name(),
		EventType:   event.Type,
		Success:     err == nil,
		Duration:    time.Since(start),
		FailureMode: h.failureMode,
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
