package soc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Readm/hart_sim/clint"
	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hls"
	"github.com/Readm/hart_sim/memory"
	"github.com/Readm/hart_sim/rendezvous"
	"github.com/Readm/hart_sim/serial"
	"github.com/Readm/hart_sim/shared"
)

var (
	// ErrSharedDisabled is returned by shared-region operations when the
	// system was built without one.
	ErrSharedDisabled = errors.New("shared memory disabled")
	// ErrBooted is returned by a second Boot.
	ErrBooted = errors.New("system already booted")
)

// System is an assembled hart complex.
type System struct {
	opts    Options
	link    hls.LinkMap
	mem     *memory.Arena
	ctrl    *clint.Controller
	cluster *rendezvous.Cluster
	monitor *rendezvous.Monitor
	harts   []*rendezvous.Hart
	region  *shared.Region
	uart    *serial.Port
	// debugger is the agent id the host uses for diagnostic reads; it is
	// one past the last hart so it never collides with a hart's lock owner.
	debugger core.HartID

	monitorMu sync.Mutex

	mu       sync.Mutex
	booted   bool
	releases []rendezvous.Release
	faults   []error
}

// New builds a system in reset. Nothing runs until Boot.
func New(opts Options) (*System, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	link := hls.DefaultLinkMap(opts.Harts)
	if opts.Link != nil {
		link = *opts.Link
	}
	if opts.SharedMemory && opts.SharedLayout.Size() > link.SharedSize {
		return nil, fmt.Errorf("shared layout needs %d bytes, link map reserves %d", opts.SharedLayout.Size(), link.SharedSize)
	}
	mem, err := memory.New(link.StackBase, link.Span())
	if err != nil {
		return nil, err
	}
	ctrl := clint.New(opts.Harts)
	cluster, err := rendezvous.NewCluster(rendezvous.Config{
		Controller: ctrl,
		Memory:     mem,
		Link:       link,
		Broker:     opts.Broker,
		Clock:      opts.Clock,
	})
	if err != nil {
		_ = mem.Close()
		return nil, err
	}
	s := &System{
		opts:     opts,
		link:     link,
		mem:      mem,
		ctrl:     ctrl,
		cluster:  cluster,
		harts:    make([]*rendezvous.Hart, opts.Harts),
		debugger: core.HartID(opts.Harts),
	}
	s.monitor = rendezvous.NewMonitor(cluster, opts.FirstHart, rendezvous.MonitorOptions{
		ResendAfter: opts.ResendAfter,
		Poll:        opts.MonitorPoll,
	})
	for i := range s.harts {
		id := core.HartID(i)
		var parker rendezvous.Parker
		if opts.Parker != nil {
			parker = opts.Parker(id)
		}
		h, err := cluster.NewHart(id, rendezvous.HartOptions{
			Role:        opts.RoleOf(id),
			Parker:      parker,
			ClearPolicy: opts.ClearPolicy,
		})
		if err != nil {
			_ = mem.Close()
			return nil, err
		}
		s.harts[i] = h
	}
	if opts.SharedMemory {
		region, err := shared.Init(mem, link.SharedBase(), opts.SharedLayout)
		if err != nil {
			_ = mem.Close()
			return nil, err
		}
		s.region = region
	}
	port := serial.PortConfig{Name: "uart0", Out: opts.UART, Broker: opts.Broker, Clock: opts.Clock}
	if s.region != nil {
		port.Region = s.region
		if _, ok := opts.SharedLayout.Guards["uart0_lines"]; ok {
			port.Counter = "uart0_lines"
		}
	}
	if s.uart, err = serial.NewPort(port); err != nil {
		_ = mem.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the simulated memory. Call it after Boot returned.
func (s *System) Close() error {
	return s.mem.Close()
}

// Options returns the validated options.
func (s *System) Options() Options {
	return s.opts
}

// Cluster returns the rendezvous cluster.
func (s *System) Cluster() *rendezvous.Cluster {
	return s.cluster
}

// Controller returns the interrupt controller.
func (s *System) Controller() *clint.Controller {
	return s.ctrl
}

// Hart returns the context of hart h, or nil.
func (s *System) Hart(h core.HartID) *rendezvous.Hart {
	if !h.Valid(len(s.harts)) {
		return nil
	}
	return s.harts[h]
}

// Region returns the shared region, nil when disabled.
func (s *System) Region() *shared.Region {
	return s.region
}

// UART returns the shared UART.
func (s *System) UART() *serial.Port {
	return s.uart
}

// Link returns the link map in use.
func (s *System) Link() hls.LinkMap {
	return s.link
}

// Boot runs every hart until ctx is done. It returns once all harts have
// stopped, with the fatal faults joined, or nil on a clean power-off.
func (s *System) Boot(ctx context.Context, entries Entries) error {
	s.mu.Lock()
	if s.booted {
		s.mu.Unlock()
		return ErrBooted
	}
	s.booted = true
	s.mu.Unlock()

	errs := make([]error, len(s.harts))
	var wg sync.WaitGroup
	for i, h := range s.harts {
		wg.Add(1)
		go func(i int, h *rendezvous.Hart) {
			defer wg.Done()
			errs[i] = s.runHart(ctx, h, s.entryFor(entries, h.ID()))
		}(i, h)
	}
	wg.Wait()

	err := errors.Join(errs...)
	if err != nil {
		s.mu.Lock()
		for _, e := range errs {
			if e != nil {
				s.faults = append(s.faults, e)
			}
		}
		s.mu.Unlock()
	}
	return err
}

func (s *System) runHart(ctx context.Context, h *rendezvous.Hart, entry Entry) error {
	if err := h.Startup(s.opts.ClearMemory); err != nil {
		return err
	}
	if s.opts.HWConfig != nil {
		if err := s.opts.HWConfig(h); err != nil {
			return fmt.Errorf("%s hardware config: %w", h.ID().Label(), err)
		}
	}
	h.MarkConfigured()

	switch h.Role() {
	case core.RoleMonitor:
		if err := h.BootImmediate(); err != nil {
			return err
		}
		if s.opts.AutoRelease {
			s.monitorMu.Lock()
			res, err := s.monitor.Release(ctx, s.opts.Order())
			s.monitorMu.Unlock()
			s.recordReleases(res)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	case core.RoleStartImmediately:
		if err := h.BootImmediate(); err != nil {
			return err
		}
	default:
		if err := h.BootWait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return h.Run(ctx, entry)
}

func (s *System) recordReleases(res []rendezvous.Release) {
	s.mu.Lock()
	s.releases = append(s.releases, res...)
	s.mu.Unlock()
}

// Raise releases hart h on demand from the monitor, the way a monitor menu
// starts a hart that is outside the automatic range. A running hart parked
// in WaitForSignal is woken instead; without Options.Reentrant raising a
// running hart fails with ErrWrongState. Raise blocks until the hart reports it
// left its wait or ctx is done.
func (s *System) Raise(ctx context.Context, h core.HartID) (rendezvous.Release, error) {
	if !h.Valid(len(s.harts)) {
		return rendezvous.Release{Hart: h}, fmt.Errorf("raise %s: %w", h.Label(), clint.ErrNoSuchHart)
	}
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	var (
		res rendezvous.Release
		err error
	)
	if s.cluster.State(h) == core.StateRunning {
		if !s.opts.Reentrant {
			v := &core.ProtocolViolation{Kind: core.ViolationWakeRunning, Hart: h, Detail: "worker does not wait for signals"}
			return rendezvous.Release{Hart: h}, fmt.Errorf("raise %s: %w: %w", h.Label(), v, rendezvous.ErrWrongState)
		}
		res, err = s.monitor.Wake(ctx, h)
	} else {
		res, err = s.monitor.ReleaseOne(ctx, h)
	}
	s.recordReleases([]rendezvous.Release{res})
	return res, err
}

// Kick resumes h's WFI without raising an interrupt. A waiting hart finds
// nothing deliverable and parks again.
func (s *System) Kick(h core.HartID) error {
	if !h.Valid(len(s.harts)) {
		return fmt.Errorf("kick %s: %w", h.Label(), clint.ErrNoSuchHart)
	}
	s.ctrl.Kick(h)
	return nil
}

func (s *System) guard(key string) string {
	if g, ok := s.opts.SharedLayout.Guards[key]; ok {
		return g
	}
	return "boot"
}

// Publish stores a value in the shared region from the monitor. A hart
// raised after Publish returns observes the value.
func (s *System) Publish(key string, v uint64) error {
	if s.region == nil {
		return ErrSharedDisabled
	}
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	return s.region.With(s.debugger, s.guard(key), func(a *shared.Access) error {
		return a.SetCounter(key, v)
	})
}

// Read loads a shared value on behalf of hart h.
func (s *System) Read(h core.HartID, key string) (uint64, error) {
	if s.region == nil {
		return 0, ErrSharedDisabled
	}
	var v uint64
	err := s.region.With(h, s.guard(key), func(a *shared.Access) error {
		var err error
		v, err = a.Counter(key)
		return err
	})
	return v, err
}
