package simulator

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hooks"
	"github.com/Readm/hart_sim/plugins/trace"
	"github.com/Readm/hart_sim/rendezvous"
	"github.com/Readm/hart_sim/soc"
)

// Scenario is a scripted boot run in lockstep. Raises maps a cycle to the
// harts the monitor signals at the start of that cycle; a hart parked in
// its wait observes a raise in the same cycle.
type Scenario struct {
	Name   string
	Harts  int
	Cycles int
	Roles  map[core.HartID]core.Role
	// Early harts are raised before any hart enters its wait. The wait
	// entry drops those stale requests.
	Early       []core.HartID
	Raises      map[int][]core.HartID
	ClearPolicy rendezvous.ClearPolicy
	// StallAfter is the cycle from which a hart that is still parked is
	// reported stalled. Zero reports the harts left parked after the last
	// cycle.
	StallAfter int
	// Out receives the UART output of the run.
	Out io.Writer
}

// Outcome is what a scenario run observed.
type Outcome struct {
	States     map[core.HartID]core.WakeState `json:"states"`
	WakeCycles map[core.HartID]int            `json:"wakeCycles"`
	Events     []core.HartEvent               `json:"events"`
	Report     soc.Report                     `json:"report"`
	// Stalled lists the harts that were still parked at the stall cycle
	// and never woke, in id order.
	Stalled []core.HartID `json:"stalled"`
	// Cycle is the coordinator's target cycle when the run ended.
	Cycle int `json:"cycle"`
}

// Waiting returns the harts still parked at the end, in id order.
func (o Outcome) Waiting() []core.HartID {
	out := make([]core.HartID, 0)
	for h, st := range o.States {
		if st == core.StateWaiting || st == core.StateSignaled {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run executes the scenario. Hart 0 is the monitor; it only raises what the
// scenario scripts. The error is a boot fault or ctx's error.
func (sc Scenario) Run(ctx context.Context) (Outcome, error) {
	n := sc.Harts
	if n <= 0 {
		n = core.DefaultHartCount
	}
	if sc.Cycles < 0 {
		return Outcome{}, fmt.Errorf("scenario %s: negative cycle count", sc.Name)
	}
	if sc.StallAfter < 0 {
		return Outcome{}, fmt.Errorf("scenario %s: negative stall cycle", sc.Name)
	}
	stallAt := sc.StallAfter
	if stallAt == 0 {
		stallAt = sc.Cycles + 1
	}
	out := sc.Out
	if out == nil {
		out = io.Discard
	}

	waiters := make([]core.HartID, 0, n)
	for i := 1; i < n; i++ {
		h := core.HartID(i)
		if sc.Roles[h] != core.RoleStartImmediately {
			waiters = append(waiters, h)
		}
	}
	ids := make([]string, len(waiters))
	for i, h := range waiters {
		ids[i] = ComponentID(h)
	}
	coord := NewCoordinator(ids)
	coord.SetMaxTarget(-1)
	parker := NewLockstepParker(coord)

	rec := trace.NewRecorder(0)
	broker := hooks.NewPluginBroker()
	broker.RegisterBundle(hooks.PluginDescriptor{Name: trace.PluginName, Category: hooks.PluginCategoryTrace}, rec.Bundle())
	var mu sync.Mutex
	wakes := make(map[core.HartID]int)
	broker.RegisterStateChange(func(c *hooks.StateContext) error {
		if c.To == core.StateRunning {
			mu.Lock()
			wakes[c.Hart] = c.Cycle
			mu.Unlock()
		}
		return nil
	})

	opts := soc.DefaultOptions()
	opts.Harts = n
	opts.LastHart = core.HartID(n - 1)
	opts.Roles = sc.Roles
	opts.AutoRelease = false
	opts.ClearPolicy = sc.ClearPolicy
	opts.Parker = func(core.HartID) rendezvous.Parker { return parker }
	opts.Broker = broker
	opts.Clock = coord.TargetCycle
	opts.UART = out
	sys, err := soc.New(opts)
	if err != nil {
		return Outcome{}, err
	}

	for _, h := range sc.Early {
		if err := sys.Controller().Raise(h); err != nil {
			_ = sys.Close()
			return Outcome{}, err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(runCtx, coord.Stop)
	bootErr := make(chan error, 1)
	// harts touch the arena until Boot returns, so memory is unmapped only
	// after that, also when a violation unwinds Run
	powerOff := sync.OnceValue(func() error {
		cancel()
		err := <-bootErr
		stop()
		_ = sys.Close()
		return err
	})
	defer powerOff()

	entries := make(soc.Entries, n)
	for _, h := range waiters {
		entries[h] = func(ctx context.Context, h *rendezvous.Hart) error {
			coord.Retire(ComponentID(h.ID()))
			return sys.Worker(ctx, h)
		}
	}
	go func() { bootErr <- sys.Boot(runCtx, entries) }()

	cluster := sys.Cluster()
	settled := func(cycle int) bool {
		for _, h := range waiters {
			if cluster.State(h) >= core.StateRunning {
				continue
			}
			if c, ok := parker.WaitingFor(h); !ok || c != cycle {
				return false
			}
		}
		return true
	}
	waitSettled := func(cycle int) error {
		for !settled(cycle) {
			if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
		}
		if cycle >= stallAt {
			for _, h := range waiters {
				if cluster.State(h) < core.StateRunning {
					coord.ReportStall(ComponentID(h))
				}
			}
		}
		return nil
	}

	for cycle := 0; cycle <= sc.Cycles; cycle++ {
		if err := waitSettled(cycle); err != nil {
			return Outcome{}, err
		}
		for _, h := range sc.Raises[cycle] {
			if err := cluster.Signal(opts.FirstHart, h); err != nil {
				return Outcome{}, err
			}
		}
		coord.SetMaxTarget(cycle)
	}
	if err := waitSettled(sc.Cycles + 1); err != nil {
		return Outcome{}, err
	}

	res := Outcome{
		States:     make(map[core.HartID]core.WakeState, n),
		WakeCycles: make(map[core.HartID]int),
		Stalled:    make([]core.HartID, 0),
	}
	for i := 0; i < n; i++ {
		res.States[core.HartID(i)] = cluster.State(core.HartID(i))
	}
	res.Report = sys.Report()
	res.Cycle, _, _ = coord.SnapshotProgress()
	stalls := coord.SnapshotStallBitmap()
	for _, h := range waiters {
		// a hart woken in the stall cycle may not have retired yet
		if stalls[ComponentID(h)] && res.States[h] < core.StateRunning {
			res.Stalled = append(res.Stalled, h)
		}
	}
	err = powerOff()

	mu.Lock()
	for h, c := range wakes {
		res.WakeCycles[h] = c
	}
	mu.Unlock()
	res.Events = rec.Events()
	return res, err
}
