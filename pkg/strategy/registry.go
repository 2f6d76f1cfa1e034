package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a strategy for symbol from raw parameters. Missing
// parameters take the strategy's defaults.
type Factory func(symbol string, params map[string]any) (Strategy, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a factory under name, replacing any existing one.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// New builds the strategy registered under name.
func New(name, symbol string, params map[string]any) (Strategy, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	s, err := f(symbol, params)
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", name, err)
	}
	return s, nil
}

// Has reports whether a factory is registered under name.
func Has(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Names returns all registered strategy names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered factories.
func Count() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(factories)
}
