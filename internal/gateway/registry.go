package gateway

import (
	"sort"
	"sync"

	"payment-ledger/internal/core/ports"
	"payment-ledger/pkg/apperror"
)

// Registry maps provider codes to adapters. Adding a provider means
// registering another GatewayAdapter implementation, never branching on the
// code elsewhere.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ports.GatewayAdapter
}

// NewRegistry creates a registry with the given adapters.
func NewRegistry(adapters ...ports.GatewayAdapter) *Registry {
	r := &Registry{adapters: make(map[string]ports.GatewayAdapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter under its code.
func (r *Registry) Register(a ports.GatewayAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Code()] = a
}

// Get resolves an adapter by provider code.
func (r *Registry) Get(code string) (ports.GatewayAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[code]
	if !ok {
		return nil, apperror.ErrUnknownProvider(code)
	}
	return a, nil
}

// Codes lists the registered provider codes, sorted.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
