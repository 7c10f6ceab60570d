package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/wakecore/pkg/acoustic"
	"github.com/MrWong99/wakecore/pkg/audio"
	"github.com/MrWong99/wakecore/pkg/display"
	"github.com/MrWong99/wakecore/pkg/led"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is a name → constructor table for one collaborator kind.
type factories[T any] struct {
	kind string
	m    map[string]func(ProviderEntry) (T, error)
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]func(ProviderEntry) (T, error))}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	v, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return v, nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps implementation names to constructors for each collaborator
// kind: codecs, displays, LEDs and acoustic engines. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	codec    factories[audio.Codec]
	display  factories[display.Display]
	led      factories[led.LED]
	acoustic factories[acoustic.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		codec:    newFactories[audio.Codec]("codec"),
		display:  newFactories[display.Display]("display"),
		led:      newFactories[led.LED]("led"),
		acoustic: newFactories[acoustic.Provider]("acoustic"),
	}
}

// RegisterCodec registers a codec factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCodec(name string, factory func(ProviderEntry) (audio.Codec, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codec.m[name] = factory
}

// RegisterDisplay registers a display factory under name.
func (r *Registry) RegisterDisplay(name string, factory func(ProviderEntry) (display.Display, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.display.m[name] = factory
}

// RegisterLED registers a status LED factory under name.
func (r *Registry) RegisterLED(name string, factory func(ProviderEntry) (led.LED, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.led.m[name] = factory
}

// RegisterAcoustic registers an acoustic engine factory under name.
func (r *Registry) RegisterAcoustic(name string, factory func(ProviderEntry) (acoustic.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acoustic.m[name] = factory
}

// CreateCodec instantiates the codec registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateCodec(entry ProviderEntry) (audio.Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codec.create(entry)
}

// CreateDisplay instantiates the display registered under entry.Name.
func (r *Registry) CreateDisplay(entry ProviderEntry) (display.Display, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.display.create(entry)
}

// CreateLED instantiates the LED registered under entry.Name.
func (r *Registry) CreateLED(entry ProviderEntry) (led.LED, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.led.create(entry)
}

// CreateAcoustic instantiates the acoustic engine registered under
// entry.Name.
func (r *Registry) CreateAcoustic(entry ProviderEntry) (acoustic.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.acoustic.create(entry)
}

// Names returns the sorted registered names for kind ("codec", "display",
// "led" or "acoustic").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "codec":
		return r.codec.names()
	case "display":
		return r.display.names()
	case "led":
		return r.led.names()
	case "acoustic":
		return r.acoustic.names()
	}
	return nil
}
