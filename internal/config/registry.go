package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// ErrRecognizerNotRegistered is returned by [Registry.CreateRecognizer] when
// no factory is registered under the requested name.
var ErrRecognizerNotRegistered = errors.New("config: recognizer not registered")

// RecognizerFactory builds a recognizer from its config entry.
type RecognizerFactory func(ProviderEntry) (stt.Recognizer, error)

// Registry maps recognizer names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[string]RecognizerFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{recognizers: make(map[string]RecognizerFactory)}
}

// RegisterRecognizer registers factory under name. A later registration with
// the same name replaces the earlier one.
func (r *Registry) RegisterRecognizer(name string, factory RecognizerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = factory
}

// CreateRecognizer instantiates the recognizer registered under entry.Name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (stt.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRecognizerNotRegistered, entry.Name)
	}
	rec, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create recognizer %q: %w", entry.Name, err)
	}
	return rec, nil
}

// Recognizers returns the registered names in sorted order.
func (r *Registry) Recognizers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.recognizers))
	for n := range r.recognizers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
