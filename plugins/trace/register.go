package trace

import (
	"fmt"

	"github.com/Readm/hart_sim/hooks"
)

// PluginName is the registry name of the timeline recorder.
const PluginName = "trace/recorder"

// Options configure trace plugin registration.
type Options struct {
	Recorder *Recorder
}

// Register registers the recorder as a global plugin. Loading it installs
// the recorder's hook bundle into the registry broker.
func Register(reg *hooks.Registry, opts Options) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	if opts.Recorder == nil {
		return fmt.Errorf("recorder is required")
	}
	desc := hooks.PluginDescriptor{
		Name:        PluginName,
		Category:    hooks.PluginCategoryTrace,
		Description: "rendezvous timeline recorder",
	}
	rec := opts.Recorder
	return reg.RegisterGlobal(desc.Name, desc, func(b *hooks.PluginBroker) error {
		if b == nil {
			return fmt.Errorf("plugin broker is nil")
		}
		b.RegisterBundle(desc, rec.Bundle())
		return nil
	})
}
