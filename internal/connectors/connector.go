package connectors

import (
	"context"
	"strings"
	"sync"

	"github.com/undarez/synexa-sub003/internal/domain"
)

// Connector adapts a generic device command to one provider's bridge protocol.
// Implementations perform the actual network call; a nil return means the
// command was accepted by the bridge.
type Connector interface {
	Send(ctx context.Context, device *domain.Device, cmd domain.Command) error
}

// Registry maps provider names to connectors. Adding a provider is a Register
// call, not a new switch branch. Lookups are case-insensitive.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

func (r *Registry) Register(provider string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[strings.ToLower(provider)] = c
}

// Lookup returns the connector for a provider, or nil when none is registered.
func (r *Registry) Lookup(provider string) Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectors[strings.ToLower(provider)]
}

// Providers returns the registered provider names.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	return names
}
