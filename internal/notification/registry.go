package notification

import (
	"fmt"
	"sync"

	"github.com/shaharia-lab/dispatchd/internal/storage"
)

// NoProviderError is returned by Registry.Lookup when no enabled provider
// serves the requested channel kind.
type NoProviderError struct {
	Type   storage.NotificationType
	Reason string
}

func (e *NoProviderError) Error() string {
	return fmt.Sprintf("no provider for type %q: %s", e.Type, e.Reason)
}

// ProviderInfo describes a registered provider.
type ProviderInfo struct {
	Type    storage.NotificationType `json:"type"`
	Name    string                   `json:"name"`
	Enabled bool                     `json:"enabled"`
}

type registryEntry struct {
	provider Provider
	enabled  bool
}

// Registry maps channel kinds to providers. It is populated at startup and
// read concurrently by the dispatcher.
type Registry struct {
	mu      sync.RWMutex
	entries map[storage.NotificationType]registryEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[storage.NotificationType]registryEntry)}
}

// Register adds p under p.Type(), replacing any provider already registered
// for that kind.
func (r *Registry) Register(p Provider, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p.Type()] = registryEntry{provider: p, enabled: enabled}
}

// Lookup returns the enabled provider for t.
func (r *Registry) Lookup(t storage.NotificationType) (Provider, error) {
	if !t.Valid() {
		return nil, &NoProviderError{Type: t, Reason: "unknown notification type"}
	}

	r.mu.RLock()
	e, ok := r.entries[t]
	r.mu.RUnlock()

	switch {
	case !ok:
		return nil, &NoProviderError{Type: t, Reason: "not registered"}
	case !e.enabled:
		return nil, &NoProviderError{Type: t, Reason: "provider disabled"}
	}
	return e.provider, nil
}

// Providers lists registered providers in channel-kind order.
func (r *Registry) Providers() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderInfo, 0, len(r.entries))
	for _, t := range storage.NotificationTypes {
		e, ok := r.entries[t]
		if !ok {
			continue
		}
		out = append(out, ProviderInfo{Type: t, Name: e.provider.Name(), Enabled: e.enabled})
	}
	return out
}
