package quake

import (
	"fmt"
	"sort"
	"time"
)

// Normalizer converts one provider-specific wire payload into an Event.
// Unknown fields in the payload are ignored; missing or unparseable
// required fields return a *ValidationError (or *ImplausibleTimeError for
// timestamps outside the sanity bounds).
type Normalizer interface {
	Normalize(raw []byte, receivedAt time.Time) (*Event, error)
}

// NormalizerFunc adapts a function to the Normalizer interface.
type NormalizerFunc func(raw []byte, receivedAt time.Time) (*Event, error)

func (f NormalizerFunc) Normalize(raw []byte, receivedAt time.Time) (*Event, error) {
	return f(raw, receivedAt)
}

// Registry maps provider names to their normalizers. It is populated at
// startup from static configuration; an unknown provider is a hard error,
// not a silent absence.
type Registry struct {
	normalizers map[string]Normalizer
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{normalizers: make(map[string]Normalizer)}
}

// Register adds a normalizer for a provider name. Registering the same
// provider twice replaces the earlier entry.
func (r *Registry) Register(provider string, n Normalizer) {
	r.normalizers[provider] = n
}

// Lookup returns the normalizer for a provider, or a *ConfigError when the
// provider is unknown.
func (r *Registry) Lookup(provider string) (Normalizer, error) {
	n, ok := r.normalizers[provider]
	if !ok {
		return nil, &ConfigError{Reason: fmt.Sprintf("unknown provider %q (registered: %v)", provider, r.Providers())}
	}
	return n, nil
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.normalizers))
	for name := range r.normalizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
