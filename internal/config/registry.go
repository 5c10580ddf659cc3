package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/hermes/pkg/provider/stt"
	"github.com/MrWong99/hermes/pkg/provider/translator"
	"github.com/MrWong99/hermes/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	stt        map[string]func(ProviderEntry) (stt.Provider, error)
	translator map[string]func(ProviderEntry) (translator.Provider, error)
	tts        map[string]func(ProviderEntry) (tts.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        make(map[string]func(ProviderEntry) (stt.Provider, error)),
		translator: make(map[string]func(ProviderEntry) (translator.Provider, error)),
		tts:        make(map[string]func(ProviderEntry) (tts.Provider, error)),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTranslator registers a translation backend factory under name.
func (r *Registry) RegisterTranslator(name string, factory func(ProviderEntry) (translator.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translator[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranslator instantiates a translation backend using the factory
// registered under entry.Name.
func (r *Registry) CreateTranslator(entry ProviderEntry) (translator.Provider, error) {
	r.mu.RLock()
	factory, ok := r.translator[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translator/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered provider names of kind ("stt", "translator"
// or "tts"), sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "stt":
		for n := range r.stt {
			names = append(names, n)
		}
	case "translator":
		for n := range r.translator {
			names = append(names, n)
		}
	case "tts":
		for n := range r.tts {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}
