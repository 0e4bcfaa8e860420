package provider

import (
	"sort"
	"sync"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/errors"
)

// Factory builds a Service from its settings block.
type Factory func(settings *conf.ProviderSettings) Service

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a provider factory under a name. The built-in adapters
// register themselves in init(); the set is fixed at build time.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Names lists the registered provider names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get builds the named provider from the loaded settings.
func Get(name string, settings *conf.Settings) (Service, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Newf("unknown provider %q, available: %v", name, Names()).
			Component("provider").
			Category(errors.CategoryValidation).
			Build()
	}

	ps := settings.Provider(name)
	if ps == nil {
		return nil, errors.Newf("no settings block for provider %q", name).
			Component("provider").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if !ps.Enabled {
		return nil, errors.Newf("provider %q is disabled", name).
			Component("provider").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return factory(ps), nil
}
