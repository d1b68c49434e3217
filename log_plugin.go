package main

import (
	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hooks"
)

const (
	logPluginName   = "log/global"
	watchPluginName = "log/watch"
)

// registerLogPlugins makes hook events visible through the global logger.
// The global plugin logs every hart at debug level, the hart-scoped watch
// plugin promotes one hart's events to info.
func registerLogPlugins(reg *hooks.Registry) error {
	global := hooks.PluginDescriptor{
		Name:        logPluginName,
		Category:    hooks.PluginCategoryInstrumentation,
		Description: "log rendezvous events",
	}
	err := reg.RegisterGlobal(global.Name, global, func(b *hooks.PluginBroker) error {
		b.RegisterBundle(global, logBundle(func(core.HartID) bool { return true }, GetLogger().Debugf))
		return nil
	})
	if err != nil {
		return err
	}
	watch := hooks.PluginDescriptor{
		Name:        watchPluginName,
		Category:    hooks.PluginCategoryInstrumentation,
		Description: "log one hart's rendezvous events at info level",
	}
	return reg.RegisterHart(watch.Name, watch, func(h core.HartID, b *hooks.PluginBroker) error {
		b.RegisterBundle(watch, logBundle(func(id core.HartID) bool { return id == h }, GetLogger().Infof))
		return nil
	})
}

func logBundle(match func(core.HartID) bool, logf func(string, ...any)) hooks.HookBundle {
	return hooks.HookBundle{
		StateChange: []hooks.StateChangeHook{func(ctx *hooks.StateContext) error {
			if match(ctx.Hart) {
				logf("[cycle %d] %s %s -> %s", ctx.Cycle, ctx.Hart.Label(), ctx.From, ctx.To)
			}
			return nil
		}},
		Signal: []hooks.SignalHook{func(ctx *hooks.SignalContext) error {
			if !match(ctx.Target) {
				return nil
			}
			verb := "signal"
			if ctx.Resend {
				verb = "resend"
			}
			logf("[cycle %d] %s %s -> %s", ctx.Cycle, verb, ctx.Source.Label(), ctx.Target.Label())
			return nil
		}},
		Interrupt: []hooks.InterruptHook{func(ctx *hooks.InterruptContext) error {
			if match(ctx.Hart) {
				logf("[cycle %d] %s software interrupt #%d", ctx.Cycle, ctx.Hart.Label(), ctx.Count)
			}
			return nil
		}},
		Wait: []hooks.WaitHook{func(ctx *hooks.WaitContext) error {
			if !match(ctx.Hart) {
				return nil
			}
			if ctx.Parked {
				logf("[cycle %d] %s parked", ctx.Cycle, ctx.Hart.Label())
			} else {
				logf("[cycle %d] %s resumed", ctx.Cycle, ctx.Hart.Label())
			}
			return nil
		}},
		Fault: []hooks.FaultHook{func(ctx *hooks.FaultContext) error {
			GetLogger().Errorf("[cycle %d] %s fault: %v", ctx.Cycle, ctx.Hart.Label(), ctx.Err)
			return nil
		}},
	}
}
