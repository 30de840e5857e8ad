package gateway

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry 按场所类型（sim/binance/alpaca）登记 VenueFactory。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]VenueFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]VenueFactory)}
}

func (r *Registry) Register(kind string, factory VenueFactory) {
	if factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(kind)] = factory
}

func (r *Registry) Lookup(kind string) (VenueFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.ToLower(kind)]
	if !ok {
		return nil, fmt.Errorf("unsupported venue kind: %s", kind)
	}
	return f, nil
}

func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
