package hooks

import (
	"sync"

	"github.com/Readm/hart_sim/core"
)

// PluginCategory represents the high-level role of a plugin.
type PluginCategory string

const (
	// PluginCategoryTrace covers timeline recorders and event streams.
	PluginCategoryTrace PluginCategory = "trace"
	// PluginCategoryVisualization covers UI and monitoring plugins.
	PluginCategoryVisualization PluginCategory = "visualization"
	// PluginCategoryInstrumentation covers logging, counters and diagnostics.
	PluginCategoryInstrumentation PluginCategory = "instrumentation"
)

// PluginDescriptor describes a plugin registered with the broker.
type PluginDescriptor struct {
	Name        string
	Category    PluginCategory
	Description string
}

// HookBundle groups multiple hook handlers that belong to one plugin.
type HookBundle struct {
	StateChange []StateChangeHook
	Signal      []SignalHook
	Interrupt   []InterruptHook
	Lock        []LockHook
	Wait        []WaitHook
	Fault       []FaultHook
}

// StateContext carries a wake-state transition of one hart.
type StateContext struct {
	Hart  core.HartID
	From  core.WakeState
	To    core.WakeState
	Cycle int
}

// SignalContext carries a directed software interrupt.
type SignalContext struct {
	Source core.HartID
	Target core.HartID
	Resend bool
	Cycle  int
}

// InterruptContext carries a software interrupt taken by a hart's handler.
type InterruptContext struct {
	Hart  core.HartID
	Count uint64
	Cycle int
}

// LockContext carries a spinlock acquisition or release on a shared lock.
type LockContext struct {
	Hart     core.HartID
	Lock     string
	Acquired bool
	Cycle    int
}

// WaitContext carries a re-entrant wait: Parked is true on entry, false on wake.
type WaitContext struct {
	Hart   core.HartID
	Parked bool
	Cycle  int
}

// FaultContext carries a fatal hart condition.
type FaultContext struct {
	Hart  core.HartID
	Err   error
	Cycle int
}

// StateChangeHook observes wake-state transitions. Observers cannot veto a
// transition; errors are reported back to the emitter only.
type StateChangeHook func(ctx *StateContext) error

// SignalHook observes raised software interrupts.
type SignalHook func(ctx *SignalContext) error

// InterruptHook observes handler invocations.
type InterruptHook func(ctx *InterruptContext) error

// LockHook observes shared-lock brackets.
type LockHook func(ctx *LockContext) error

// WaitHook observes re-entrant waits after boot.
type WaitHook func(ctx *WaitContext) error

// FaultHook observes fatal hart conditions.
type FaultHook func(ctx *FaultContext) error

// PluginBroker coordinates hook registration and triggering.
type PluginBroker struct {
	mu sync.RWMutex

	stateHooks     []StateChangeHook
	signalHooks    []SignalHook
	interruptHooks []InterruptHook
	lockHooks      []LockHook
	waitHooks      []WaitHook
	faultHooks     []FaultHook

	pluginCatalog map[PluginCategory][]PluginDescriptor
	pluginIndex   map[string]PluginDescriptor
}

// NewPluginBroker creates an empty broker instance.
func NewPluginBroker() *PluginBroker {
	return &PluginBroker{
		stateHooks:     make([]StateChangeHook, 0),
		signalHooks:    make([]SignalHook, 0),
		interruptHooks: make([]InterruptHook, 0),
		lockHooks:      make([]LockHook, 0),
		waitHooks:      make([]WaitHook, 0),
		faultHooks:     make([]FaultHook, 0),
		pluginCatalog:  make(map[PluginCategory][]PluginDescriptor),
		pluginIndex:    make(map[string]PluginDescriptor),
	}
}

// RegisterStateChange adds a hook executed on every wake-state transition.
func (p *PluginBroker) RegisterStateChange(h StateChangeHook) {
	if p == nil || h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateHooks = append(p.stateHooks, h)
}

// RegisterSignal adds a hook executed when a software interrupt is raised.
func (p *PluginBroker) RegisterSignal(h SignalHook) {
	if p == nil || h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signalHooks = append(p.signalHooks, h)
}

// RegisterInterrupt adds a hook executed when a hart handler runs.
func (p *PluginBroker) RegisterInterrupt(h InterruptHook) {
	if p == nil || h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interruptHooks = append(p.interruptHooks, h)
}

// RegisterLock adds a hook executed around shared-lock brackets.
func (p *PluginBroker) RegisterLock(h LockHook) {
	if p == nil || h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lockHooks = append(p.lockHooks, h)
}

// RegisterWait adds a hook executed when a running hart parks or resumes.
func (p *PluginBroker) RegisterWait(h WaitHook) {
	if p == nil || h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waitHooks = append(p.waitHooks, h)
}

// RegisterFault adds a hook executed on fatal hart conditions.
func (p *PluginBroker) RegisterFault(h FaultHook) {
	if p == nil || h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faultHooks = append(p.faultHooks, h)
}

// EmitStateChange triggers state change hooks.
func (p *PluginBroker) EmitStateChange(ctx *StateContext) error {
	if p == nil || ctx == nil {
		return nil
	}
	p.mu.RLock()
	handlers := make([]StateChangeHook, len(p.stateHooks))
	copy(handlers, p.stateHooks)
	p.mu.RUnlock()
	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			return err
		}
	}
	return nil
}

// EmitSignal triggers signal hooks.
func (p *PluginBroker) EmitSignal(ctx *SignalContext) error {
	if p == nil || ctx == nil {
		return nil
	}
	p.mu.RLock()
	handlers := make([]SignalHook, len(p.signalHooks))
	copy(handlers, p.signalHooks)
	p.mu.RUnlock()
	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			return err
		}
	}
	return nil
}

// EmitInterrupt triggers interrupt hooks.
func (p *PluginBroker) EmitInterrupt(ctx *InterruptContext) error {
	if p == nil || ctx == nil {
		return nil
	}
	p.mu.RLock()
	handlers := make([]InterruptHook, len(p.interruptHooks))
	copy(handlers, p.interruptHooks)
	p.mu.RUnlock()
	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			return err
		}
	}
	return nil
}

// EmitLock triggers lock hooks.
func (p *PluginBroker) EmitLock(ctx *LockContext) error {
	if p == nil || ctx == nil {
		return nil
	}
	p.mu.RLock()
	handlers := make([]LockHook, len(p.lockHooks))
	copy(handlers, p.lockHooks)
	p.mu.RUnlock()
	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			return err
		}
	}
	return nil
}

// EmitWait triggers wait hooks.
func (p *PluginBroker) EmitWait(ctx *WaitContext) error {
	if p == nil || ctx == nil {
		return nil
	}
	p.mu.RLock()
	handlers := make([]WaitHook, len(p.waitHooks))
	copy(handlers, p.waitHooks)
	p.mu.RUnlock()
	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			return err
		}
	}
	return nil
}

// EmitFault triggers fault hooks.
func (p *PluginBroker) EmitFault(ctx *FaultContext) error {
	if p == nil || ctx == nil {
		return nil
	}
	p.mu.RLock()
	handlers := make([]FaultHook, len(p.faultHooks))
	copy(handlers, p.faultHooks)
	p.mu.RUnlock()
	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RegisterBundle registers a plugin descriptor together with all hook handlers.
func (p *PluginBroker) RegisterBundle(desc PluginDescriptor, bundle HookBundle) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.registerDescriptorLocked(desc)

	if len(bundle.StateChange) > 0 {
		p.stateHooks = append(p.stateHooks, bundle.StateChange...)
	}
	if len(bundle.Signal) > 0 {
		p.signalHooks = append(p.signalHooks, bundle.Signal...)
	}
	if len(bundle.Interrupt) > 0 {
		p.interruptHooks = append(p.interruptHooks, bundle.Interrupt...)
	}
	if len(bundle.Lock) > 0 {
		p.lockHooks = append(p.lockHooks, bundle.Lock...)
	}
	if len(bundle.Wait) > 0 {
		p.waitHooks = append(p.waitHooks, bundle.Wait...)
	}
	if len(bundle.Fault) > 0 {
		p.faultHooks = append(p.faultHooks, bundle.Fault...)
	}
}

// RegisterPluginMetadata stores plugin metadata without registering hooks.
func (p *PluginBroker) RegisterPluginMetadata(desc PluginDescriptor) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registerDescriptorLocked(desc)
}

// ListPlugins returns descriptors for plugins in the requested category.
func (p *PluginBroker) ListPlugins(category PluginCategory) []PluginDescriptor {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	catalog := p.pluginCatalog[category]
	if len(catalog) == 0 {
		return nil
	}
	out := make([]PluginDescriptor, len(catalog))
	copy(out, catalog)
	return out
}

// ListAllPlugins returns descriptors of every registered plugin.
func (p *PluginBroker) ListAllPlugins() []PluginDescriptor {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]PluginDescriptor, 0, len(p.pluginIndex))
	for _, desc := range p.pluginIndex {
		out = append(out, desc)
	}
	return out
}

func (p *PluginBroker) registerDescriptorLocked(desc PluginDescriptor) {
	if desc.Name == "" {
		return
	}
	if _, exists := p.pluginIndex[desc.Name]; exists {
		return
	}
	p.pluginIndex[desc.Name] = desc
	category := desc.Category
	p.pluginCatalog[category] = append(p.pluginCatalog[category], desc)
}
