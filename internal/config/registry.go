package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/readtutor/pkg/provider/phonemizer"
	"github.com/MrWong99/readtutor/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned when a config names a backend no
// factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is a name-keyed set of constructors taking config section C.
type factories[C, P any] struct {
	kind string
	m    map[string]func(C) (P, error)
}

func (f *factories[C, P]) create(name string, section C) (P, error) {
	fn, ok := f.m[name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s %q (registered: %v)", ErrProviderNotRegistered, f.kind, name, f.names())
	}
	return fn(section)
}

func (f *factories[C, P]) names() []string {
	return slices.Sorted(maps.Keys(f.m))
}

// Registry maps backend names to constructors for the two pluggable
// pipeline stages. main registers the built-in backends; tests register
// mocks. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	decoders    factories[ProviderEntry, stt.Provider]
	phonemizers factories[PhonemizerConfig, phonemizer.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		decoders:    factories[ProviderEntry, stt.Provider]{kind: "decoder", m: map[string]func(ProviderEntry) (stt.Provider, error){}},
		phonemizers: factories[PhonemizerConfig, phonemizer.Provider]{kind: "phonemizer", m: map[string]func(PhonemizerConfig) (phonemizer.Provider, error){}},
	}
}

// RegisterSTT registers a decoder factory, replacing any previous one with
// the same name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	r.decoders.m[name] = factory
	r.mu.Unlock()
}

// RegisterPhonemizer registers a phonemizer factory.
func (r *Registry) RegisterPhonemizer(name string, factory func(PhonemizerConfig) (phonemizer.Provider, error)) {
	r.mu.Lock()
	r.phonemizers.m[name] = factory
	r.mu.Unlock()
}

// CreateSTT builds the decoder named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.decoders.create(entry.Name, entry)
}

// CreatePhonemizer builds the phonemizer named by cfg.Name.
func (r *Registry) CreatePhonemizer(cfg PhonemizerConfig) (phonemizer.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phonemizers.create(cfg.Name, cfg)
}

// Names lists the registered backends per kind ("decoder", "phonemizer"),
// sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.decoders.kind:    r.decoders.names(),
		r.phonemizers.kind: r.phonemizers.names(),
	}
}

// OptString returns opts[key] when it is a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptFloat returns opts[key] as a float64. YAML decodes both 3 and 3.0, so
// ints are accepted too.
func OptFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
