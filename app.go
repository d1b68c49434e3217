package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hooks"
	"github.com/Readm/hart_sim/plugins/trace"
	"github.com/Readm/hart_sim/queue"
	"github.com/Readm/hart_sim/simulator"
	"github.com/Readm/hart_sim/soc"
	"github.com/Readm/hart_sim/visual"
)

// AppOptions configure the host side of a boot.
type AppOptions struct {
	// UART receives the shared UART output.
	UART io.Writer
	// Status receives the output of status commands. Defaults to stdout.
	Status io.Writer
	// Headless disables frame publishing.
	Headless bool
	// Publish receives every frame when not headless.
	Publish func(*Frame)
	// Watch lists harts whose events are logged at info level.
	Watch []core.HartID
	// Commands overrides the control command queue.
	Commands      CommandQueue
	FrameInterval time.Duration
}

// App boots one configuration and feeds it control commands while it runs.
type App struct {
	cfg      *Config
	sys      *soc.System
	recorder *trace.Recorder
	registry *hooks.Registry
	commands CommandQueue
	schedule *queue.TrackedQueue[ScheduledCommand]
	runner   *simulator.Runner[visual.ControlCommand, *Frame]
	status   io.Writer
	interval time.Duration
	epoch    atomic.Int64

	mu       sync.Mutex
	ctx      context.Context
	lastSeq  int64
	frameSeq int64
	latest   *Frame
	inflight sync.WaitGroup
}

// NewApp validates cfg and builds the system it describes.
func NewApp(cfg *Config, opts AppOptions) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &App{
		cfg:      cfg,
		recorder: trace.NewRecorder(cfg.TraceCapacity),
		commands: opts.Commands,
		status:   opts.Status,
		interval: opts.FrameInterval,
		ctx:      context.Background(),
	}
	if a.commands == nil {
		a.commands = newChannelCommandQueue(DefaultCommandBuffer)
	}
	if a.status == nil {
		a.status = os.Stdout
	}
	if a.interval <= 0 {
		a.interval = DefaultFrameInterval
	}
	a.epoch.Store(time.Now().UnixNano())

	broker := hooks.NewPluginBroker()
	a.registry = hooks.NewRegistry(broker)
	if err := trace.Register(a.registry, trace.Options{Recorder: a.recorder}); err != nil {
		return nil, err
	}
	if err := registerLogPlugins(a.registry); err != nil {
		return nil, err
	}
	if err := a.registry.LoadGlobal([]string{trace.PluginName, logPluginName}); err != nil {
		return nil, err
	}
	for _, h := range opts.Watch {
		if err := a.registry.LoadForHart(h, []string{watchPluginName}); err != nil {
			return nil, err
		}
	}

	sysOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	sysOpts.Broker = broker
	sysOpts.Clock = a.elapsedMs
	sysOpts.UART = opts.UART
	if a.sys, err = soc.New(sysOpts); err != nil {
		return nil, err
	}

	a.schedule = queue.NewTrackedQueue[ScheduledCommand]("schedule", DefaultScheduleCapacity, nil, queue.QueueHooks[ScheduledCommand]{
		OnDequeue: func(s ScheduledCommand) {
			GetLogger().Debugf("scheduled %s due after %dms", s.Type, s.AfterMs)
		},
		OnReject: func(s ScheduledCommand) {
			GetLogger().Warnf("schedule full, dropping %s after %dms", s.Type, s.AfterMs)
		},
	})
	schedule := append([]ScheduledCommand(nil), cfg.Schedule...)
	sort.SliceStable(schedule, func(i, j int) bool { return schedule[i].AfterMs < schedule[j].AfterMs })
	for _, s := range schedule {
		a.schedule.Enqueue(s)
	}

	loop := simulator.NewCommandLoop[visual.ControlCommand](a.commands, simulator.CommandHandlerFunc[visual.ControlCommand](a.HandleCommand))
	bridge := simulator.NewVisualBridge[*Frame](opts.Headless, opts.Publish)
	a.runner = simulator.NewRunner(loop, bridge)
	return a, nil
}

// Config returns the validated configuration.
func (a *App) Config() *Config {
	return a.cfg
}

// System returns the booted system.
func (a *App) System() *soc.System {
	return a.sys
}

// Recorder returns the rendezvous timeline.
func (a *App) Recorder() *trace.Recorder {
	return a.recorder
}

// Commands returns the queue the app reads control commands from.
func (a *App) Commands() CommandQueue {
	return a.commands
}

// Registry returns the plugin registry.
func (a *App) Registry() *hooks.Registry {
	return a.registry
}

// Latest returns the last frame, or nil before the first one. Headless apps
// only build the final frame.
func (a *App) Latest() *Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest
}

func (a *App) elapsedMs() int {
	return int(time.Duration(time.Now().UnixNano() - a.epoch.Load()).Milliseconds())
}

func (a *App) runContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

// Run boots the system and serves commands until ctx is done or a stop
// command arrives. It returns the joined hart faults.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
	a.epoch.Store(time.Now().UnixNano())
	GetLogger().Infof("booting %s: %d harts, monitor %s", a.cfg.Name, a.cfg.Harts, a.cfg.FirstHart.Label())

	bootDone := make(chan error, 1)
	go func() {
		bootDone <- a.sys.Boot(ctx, a.sys.DefaultEntries())
	}()

	for {
		select {
		case err := <-bootDone:
			cancel()
			return a.finish(err)
		default:
		}
		if ctx.Err() != nil {
			return a.finish(<-bootDone)
		}
		keep := a.runDue()
		if keep {
			keep = a.runner.Step(ctx, a.interval)
		}
		a.publish(false)
		if !keep {
			cancel()
		}
	}
}

func (a *App) finish(err error) error {
	a.inflight.Wait()
	a.publish(true)
	if err != nil {
		GetLogger().Errorf("%s stopped with faults: %v", a.cfg.Name, err)
	} else {
		GetLogger().Infof("%s powered off", a.cfg.Name)
	}
	return err
}

// Close releases the simulated memory. Call it after Run returned.
func (a *App) Close() error {
	return a.sys.Close()
}

func (a *App) runDue() bool {
	elapsed := a.elapsedMs()
	for _, s := range a.schedule.PopWhile(func(s ScheduledCommand) bool { return s.AfterMs <= elapsed }) {
		if !a.HandleCommand(s.Command()) {
			return false
		}
	}
	return true
}

// HandleCommand applies one control command. It returns false when the app
// should stop. Raises run in the background so a slow target does not stall
// other commands.
func (a *App) HandleCommand(cmd visual.ControlCommand) bool {
	switch cmd.Type {
	case visual.CommandNone:
	case visual.CommandRaise:
		ctx := a.runContext()
		a.inflight.Add(1)
		go func() {
			defer a.inflight.Done()
			rctx, cancel := context.WithTimeout(ctx, DefaultRaiseTimeout)
			defer cancel()
			res, err := a.sys.Raise(rctx, cmd.Hart)
			if err != nil {
				GetLogger().Warnf("raise %s: %v", cmd.Hart.Label(), err)
			} else {
				GetLogger().Infof("raised %s (polls=%d resends=%d skipped=%v)", cmd.Hart.Label(), res.Polls, res.Resends, res.Skipped)
			}
			cmd.Done(err)
		}()
	case visual.CommandPublish:
		err := a.sys.Publish(cmd.Key, cmd.Value)
		if err != nil {
			GetLogger().Warnf("publish %s: %v", cmd.Key, err)
		} else {
			GetLogger().Infof("published %s=%#x", cmd.Key, cmd.Value)
		}
		cmd.Done(err)
	case visual.CommandStatus:
		PrintStats(a.status, a.sys.Report())
		cmd.Done(nil)
	case visual.CommandStop:
		GetLogger().Infof("stop requested")
		cmd.Done(nil)
		return false
	default:
		cmd.Done(fmt.Errorf("unknown command %q", cmd.Type))
	}
	return true
}

func (a *App) publish(done bool) {
	if !done && !a.runner.VisualEnabled() {
		return
	}
	a.mu.Lock()
	events := a.recorder.Since(a.lastSeq)
	if n := len(events); n > 0 {
		a.lastSeq = events[n-1].Sequence
	}
	if len(events) > DefaultFrameEvents {
		events = events[len(events)-DefaultFrameEvents:]
	}
	a.frameSeq++
	frame := &Frame{
		Sequence:  a.frameSeq,
		Config:    a.cfg.Name,
		ElapsedMs: int64(a.elapsedMs()),
		Report:    a.sys.Report(),
		Events:    events,
		Dropped:   a.recorder.Dropped(),
		Pending:   a.schedule.Items(),
		Commands:  a.runner.Handled(),
		Done:      done,
	}
	a.latest = frame
	a.mu.Unlock()
	a.runner.PublishFrame(frame)
}
