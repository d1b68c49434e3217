package hooks

import (
	"fmt"
	"sync"

	"github.com/Readm/hart_sim/core"
)

// GlobalPluginFactory installs global hooks into the broker.
type GlobalPluginFactory func(broker *PluginBroker) error

// HartPluginFactory installs hooks scoped to a specific hart.
type HartPluginFactory func(hart core.HartID, broker *PluginBroker) error

type registryEntry struct {
	desc    PluginDescriptor
	factory GlobalPluginFactory
}

type hartRegistryEntry struct {
	desc    PluginDescriptor
	factory HartPluginFactory
}

// Registry keeps plugin factories that can be activated via configuration.
type Registry struct {
	mu     sync.RWMutex
	broker *PluginBroker

	global map[string]registryEntry
	hart   map[string]hartRegistryEntry
}

// NewRegistry creates an empty plugin registry bound to a broker.
func NewRegistry(broker *PluginBroker) *Registry {
	if broker == nil {
		broker = NewPluginBroker()
	}
	return &Registry{
		broker: broker,
		global: make(map[string]registryEntry),
		hart:   make(map[string]hartRegistryEntry),
	}
}

// Broker returns the underlying broker associated with the registry.
func (r *Registry) Broker() *PluginBroker {
	if r == nil {
		return nil
	}
	return r.broker
}

// RegisterGlobal registers a global plugin factory.
func (r *Registry) RegisterGlobal(name string, desc PluginDescriptor, factory GlobalPluginFactory) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.global[name]; exists {
		return fmt.Errorf("global plugin already registered: %s", name)
	}

	r.global[name] = registryEntry{
		desc:    desc,
		factory: factory,
	}
	return nil
}

// RegisterHart registers a hart-scoped plugin factory.
func (r *Registry) RegisterHart(name string, desc PluginDescriptor, factory HartPluginFactory) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.hart[name]; exists {
		return fmt.Errorf("hart plugin already registered: %s", name)
	}

	r.hart[name] = hartRegistryEntry{
		desc:    desc,
		factory: factory,
	}
	return nil
}

// LoadGlobal activates the requested global plugins.
func (r *Registry) LoadGlobal(names []string) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, name := range names {
		entry, err := r.getGlobal(name)
		if err != nil {
			return err
		}
		if err := entry.factory(r.broker); err != nil {
			return fmt.Errorf("global plugin %s failed: %w", name, err)
		}
		r.broker.RegisterPluginMetadata(entry.desc)
	}
	return nil
}

// LoadForHart activates the requested hart-scoped plugins.
func (r *Registry) LoadForHart(hart core.HartID, names []string) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, name := range names {
		entry, err := r.getHart(name)
		if err != nil {
			return err
		}
		if err := entry.factory(hart, r.broker); err != nil {
			return fmt.Errorf("hart plugin %s failed: %w", name, err)
		}
		r.broker.RegisterPluginMetadata(entry.desc)
	}
	return nil
}

// Descriptor returns metadata registered under the provided name.
func (r *Registry) Descriptor(name string) (PluginDescriptor, bool) {
	if r == nil {
		return PluginDescriptor{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.global[name]; ok {
		return entry.desc, true
	}
	if entry, ok := r.hart[name]; ok {
		return entry.desc, true
	}
	return PluginDescriptor{}, false
}

func (r *Registry) getGlobal(name string) (registryEntry, error) {
	r.mu.RLock()
	entry, ok := r.global[name]
	r.mu.RUnlock()
	if !ok {
		return registryEntry{}, fmt.Errorf("global plugin not found: %s", name)
	}
	return entry, nil
}

func (r *Registry) getHart(name string) (hartRegistryEntry, error) {
	r.mu.RLock()
	entry, ok := r.hart[name]
	r.mu.RUnlock()
	if !ok {
		return hartRegistryEntry{}, fmt.Errorf("hart plugin not found: %s", name)
	}
	return entry, nil
}
