package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
	"github.com/MrWong99/livescribe/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TranscriberFactory builds a transcriber from its config block.
type TranscriberFactory func(ProviderEntry) (stt.Transcriber, error)

// ClassifierFactory builds a voice activity classifier for an aggressiveness
// level.
type ClassifierFactory func(level vad.Aggressiveness) (vad.Classifier, error)

// Registry maps provider names to constructors. It keeps this package free of
// the concrete backend packages. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[string]TranscriberFactory
	classifier  map[string]ClassifierFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: make(map[string]TranscriberFactory),
		classifier:  make(map[string]ClassifierFactory),
	}
}

// RegisterTranscriber registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterClassifier registers a classifier factory under name.
func (r *Registry) RegisterClassifier(name string, factory ClassifierFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier[name] = factory
}

// CreateTranscriber instantiates the transcriber registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	t, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create stt/%q: %w", entry.Name, err)
	}
	return t, nil
}

// CreateClassifier instantiates the classifier registered under name.
func (r *Registry) CreateClassifier(name string, level vad.Aggressiveness) (vad.Classifier, error) {
	r.mu.RLock()
	factory, ok := r.classifier[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, name)
	}
	c, err := factory(level)
	if err != nil {
		return nil, fmt.Errorf("config: create vad/%q: %w", name, err)
	}
	return c, nil
}

// Transcribers returns the registered transcriber names, sorted.
func (r *Registry) Transcribers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transcriber))
	for name := range r.transcriber {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
