package rendezvous

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Readm/hart_sim/clint"
	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hls"
	"github.com/Readm/hart_sim/hooks"
	"github.com/Readm/hart_sim/memory"
)

func expectViolation(t *testing.T, kind core.ViolationKind, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		v, ok := core.AsViolation(recover())
		if !ok {
			t.Fatalf("expected %s violation, got none", kind)
		}
		if v.Kind != kind {
			t.Fatalf("expected %s violation, got %s", kind, v.Kind)
		}
	}()
	fn()
}

func newTestCluster(t *testing.T, n int, broker *hooks.PluginBroker) *Cluster {
	t.Helper()
	link := hls.DefaultLinkMap(n)
	mem, err := memory.New(link.StackBase, link.Span())
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })
	c, err := NewCluster(Config{Controller: clint.New(n), Memory: mem, Link: link, Broker: broker})
	if err != nil {
		t.Fatalf("cluster: %v", err)
	}
	return c
}

func startHart(t *testing.T, c *Cluster, id core.HartID, opts HartOptions) *Hart {
	t.Helper()
	h, err := c.NewHart(id, opts)
	if err != nil {
		t.Fatalf("new hart %d: %v", id, err)
	}
	if err := h.Startup(true); err != nil {
		t.Fatalf("startup %d: %v", id, err)
	}
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBootWaitReleasedBySignal(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	h := startHart(t, c, 1, HartOptions{})

	done := make(chan error, 1)
	go func() { done <- h.BootWait(context.Background()) }()

	waitFor(t, "InWFI marker", func() bool { return c.Inspect(1).InWFI() })
	if st := c.State(1); st != core.StateWaiting {
		t.Fatalf("expected WAITING, got %s", st)
	}
	if err := c.Signal(core.MonitorHart, 1); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("boot wait: %v", err)
	}
	if st := c.State(1); st != core.StateRunning {
		t.Fatalf("expected RUNNING, got %s", st)
	}
	view := c.Inspect(1)
	if !view.PassedWFI() {
		t.Fatalf("expected PassedWFI marker, got %#x", view.WFIIndicator())
	}
	if view.SoftInts() != 1 {
		t.Fatalf("expected one software interrupt, got %d", view.SoftInts())
	}
	if c.Controller().Pending(1) {
		t.Fatalf("pending bit should be clear after wake")
	}
	if !c.Controller().GlobalEnabled(1) {
		t.Fatalf("interrupts should be enabled after wake")
	}
	want := core.FlagStartup | core.FlagWaiting | core.FlagReleased | core.FlagRunning
	if view.BootFlags()&want != want {
		t.Fatalf("boot flags %#x missing %#x", view.BootFlags(), want)
	}
}

func TestOnlySignaledHartWakes(t *testing.T) {
	c := newTestCluster(t, 5, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make([]error, 5)
	var wg sync.WaitGroup
	for id := core.HartID(1); id < 5; id++ {
		h := startHart(t, c, id, HartOptions{})
		if err := h.EnterWait(); err != nil {
			t.Fatalf("enter wait: %v", err)
		}
		wg.Add(1)
		go func(h *Hart) {
			defer wg.Done()
			errs[h.ID()] = h.AwaitRelease(ctx)
		}(h)
	}

	if err := c.Signal(core.MonitorHart, 2); err != nil {
		t.Fatalf("signal: %v", err)
	}
	waitFor(t, "hart 2 running", func() bool { return c.State(2) == core.StateRunning })
	time.Sleep(20 * time.Millisecond)
	for _, id := range []core.HartID{1, 3, 4} {
		if st := c.State(id); st != core.StateWaiting {
			t.Fatalf("%s should still be WAITING, got %s", id.Label(), st)
		}
	}
	cancel()
	wg.Wait()
	if errs[2] != nil {
		t.Fatalf("hart 2: %v", errs[2])
	}
	for _, id := range []core.HartID{1, 3, 4} {
		if !errors.Is(errs[id], context.Canceled) {
			t.Fatalf("%s: expected context.Canceled, got %v", id.Label(), errs[id])
		}
		if st := c.State(id); st != core.StateWaiting {
			t.Fatalf("%s should stay WAITING after cancel, got %s", id.Label(), st)
		}
	}
}

func TestStaleSignalDroppedByEnterWait(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	h := startHart(t, c, 1, HartOptions{})

	if err := c.Controller().Raise(1); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := h.EnterWait(); err != nil {
		t.Fatalf("enter wait: %v", err)
	}
	woke, err := h.PollWake()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if woke {
		t.Fatalf("a raise before the wait must not wake the hart")
	}
	if err := c.Signal(core.MonitorHart, 1); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if st := c.State(1); st != core.StateSignaled {
		t.Fatalf("expected SIGNALED, got %s", st)
	}
	woke, err = h.PollWake()
	if err != nil || !woke {
		t.Fatalf("expected wake after signal, woke=%v err=%v", woke, err)
	}
}

func TestMissedWakeWaitsUntilDeadline(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	h := startHart(t, c, 1, HartOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := h.BootWait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if st := c.State(1); st != core.StateWaiting {
		t.Fatalf("expected WAITING, got %s", st)
	}
	if !c.Inspect(1).InWFI() {
		t.Fatalf("marker should still say InWFI")
	}
}

func TestSpinParkerWakes(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	h := startHart(t, c, 1, HartOptions{Parker: SpinParker{}})
	done := make(chan error, 1)
	go func() { done <- h.BootWait(context.Background()) }()
	waitFor(t, "InWFI marker", func() bool { return c.Inspect(1).InWFI() })
	if err := c.Signal(0, 1); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("boot wait: %v", err)
	}
}

func TestMonitorReleasesInOrder(t *testing.T) {
	broker := hooks.NewPluginBroker()
	var mu sync.Mutex
	var cleared []core.HartID
	broker.RegisterStateChange(func(ctx *hooks.StateContext) error {
		if ctx.To == core.StateCleared {
			mu.Lock()
			cleared = append(cleared, ctx.Hart)
			mu.Unlock()
		}
		return nil
	})
	c := newTestCluster(t, 5, broker)

	var wg sync.WaitGroup
	for id := core.HartID(1); id < 5; id++ {
		h := startHart(t, c, id, HartOptions{})
		wg.Add(1)
		go func(h *Hart) {
			defer wg.Done()
			if err := h.BootWait(context.Background()); err != nil {
				t.Errorf("%s: %v", h.ID().Label(), err)
			}
		}(h)
	}

	m := NewMonitor(c, core.MonitorHart, MonitorOptions{})
	results, err := m.Release(context.Background(), core.Ascending(1, 4, core.NoHart))
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	wg.Wait()
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Skipped {
			t.Fatalf("%s should not be skipped", r.Hart.Label())
		}
	}
	mu.Lock()
	defer mu.Unlock()
	for i, id := range cleared {
		if id != core.HartID(i+1) {
			t.Fatalf("expected wake order 1..4, got %v", cleared)
		}
	}
}

func TestMonitorSkipsImmediateHart(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	h := startHart(t, c, 1, HartOptions{Role: core.RoleStartImmediately})
	if err := h.BootImmediate(); err != nil {
		t.Fatalf("boot immediate: %v", err)
	}
	r, err := NewMonitor(c, 0, MonitorOptions{}).ReleaseOne(context.Background(), 1)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !r.Skipped {
		t.Fatalf("hart that starts immediately should be skipped")
	}
}

func TestMonitorResendsWhileTargetInWFI(t *testing.T) {
	broker := hooks.NewPluginBroker()
	resends := 0
	broker.RegisterSignal(func(ctx *hooks.SignalContext) error {
		if ctx.Resend {
			resends++
		}
		return nil
	})
	c := newTestCluster(t, 2, broker)
	h := startHart(t, c, 1, HartOptions{})
	if err := h.EnterWait(); err != nil {
		t.Fatalf("enter wait: %v", err)
	}

	polls := 0
	poll := func(ctx context.Context) error {
		polls++
		if polls < 5 {
			// the interrupt is lost on the way
			_ = c.Controller().ClearPending(1)
			return nil
		}
		_, _ = h.PollWake()
		return nil
	}
	r, err := NewMonitor(c, 0, MonitorOptions{ResendAfter: 2, Poll: poll}).ReleaseOne(context.Background(), 1)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if r.Resends == 0 || r.Resends != resends {
		t.Fatalf("expected resends, result %d hook %d", r.Resends, resends)
	}
	if st := c.State(1); st != core.StateRunning {
		t.Fatalf("expected RUNNING, got %s", st)
	}
}

func TestMonitorGivesUpWithContext(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	startHart(t, c, 1, HartOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewMonitor(c, 0, MonitorOptions{}).ReleaseOne(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while target never waits, got %v", err)
	}
	if _, err := NewMonitor(c, 0, MonitorOptions{}).ReleaseOne(ctx, 0); err == nil {
		t.Fatalf("monitor must not release itself")
	}
}

func TestSignalRunningHartIsViolation(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	h := startHart(t, c, 1, HartOptions{Role: core.RoleStartImmediately})
	if err := h.BootImmediate(); err != nil {
		t.Fatalf("boot immediate: %v", err)
	}
	expectViolation(t, core.ViolationWakeRunning, func() { _ = c.Signal(0, 1) })
}

func TestStateRegressionIsViolation(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	h := startHart(t, c, 1, HartOptions{})
	if err := h.EnterWait(); err != nil {
		t.Fatalf("enter wait: %v", err)
	}
	expectViolation(t, core.ViolationStateRegression, func() { _ = h.EnterWait() })
}

func TestForeignHLSIsViolation(t *testing.T) {
	c := newTestCluster(t, 3, nil)
	h := startHart(t, c, 1, HartOptions{})
	if _, err := h.HLS(); err != nil {
		t.Fatalf("hls: %v", err)
	}
	_ = c.Memory().StoreUint32(c.Link().HLSBase(1)+hls.OffsetHartID, 2)
	expectViolation(t, core.ViolationForeignHLS, func() { _, _ = h.HLS() })
}

func TestClearInHandlerVariant(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	var pendingInHandler bool
	h := startHart(t, c, 1, HartOptions{
		ClearPolicy: ClearInHandler,
		OnSoftware: func(h *Hart, _ uint64) {
			pendingInHandler = h.Cluster().Controller().Pending(h.ID())
		},
	})
	if err := h.EnterWait(); err != nil {
		t.Fatalf("enter wait: %v", err)
	}
	if err := c.Signal(0, 1); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if woke, _ := h.PollWake(); !woke {
		t.Fatalf("expected wake")
	}
	if pendingInHandler {
		t.Fatalf("handler should have cleared the bit before the hook ran")
	}
	if c.Controller().Pending(1) || c.Inspect(1).SoftInts() != 1 {
		t.Fatalf("unexpected end state: pending=%v count=%d", c.Controller().Pending(1), c.Inspect(1).SoftInts())
	}
}

func TestWaitForSignalReentrant(t *testing.T) {
	broker := hooks.NewPluginBroker()
	var mu sync.Mutex
	parked := 0
	broker.RegisterWait(func(ctx *hooks.WaitContext) error {
		if ctx.Parked {
			mu.Lock()
			parked++
			mu.Unlock()
		}
		return nil
	})
	c := newTestCluster(t, 2, broker)
	h := startHart(t, c, 1, HartOptions{})
	if err := h.EnterWait(); err != nil {
		t.Fatalf("enter wait: %v", err)
	}
	if err := c.Signal(0, 1); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if woke, _ := h.PollWake(); !woke {
		t.Fatalf("expected boot wake")
	}

	const rounds = 3
	done := make(chan error, 1)
	go func() {
		for i := 0; i < rounds; i++ {
			if err := h.WaitForSignal(context.Background()); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	m := NewMonitor(c, 0, MonitorOptions{})
	for i := 0; i < rounds; i++ {
		if _, err := m.Wake(context.Background(), 1); err != nil {
			t.Fatalf("wake %d: %v", i, err)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("wait for signal: %v", err)
	}
	if h.Rewakes() != rounds {
		t.Fatalf("expected %d rewakes, got %d", rounds, h.Rewakes())
	}
	if st := c.State(1); st != core.StateRunning {
		t.Fatalf("re-entrant waits must not change state, got %s", st)
	}
	if c.Inspect(1).SoftInts() != rounds+1 {
		t.Fatalf("expected %d interrupts, got %d", rounds+1, c.Inspect(1).SoftInts())
	}
	mu.Lock()
	defer mu.Unlock()
	if parked != rounds {
		t.Fatalf("expected %d parked events, got %d", rounds, parked)
	}
}

func TestReleaseFinishesWhenHartReentersWait(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	h := startHart(t, c, 1, HartOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		if err := h.BootWait(ctx); err != nil {
			done <- err
			return
		}
		done <- h.WaitForSignal(ctx)
	}()
	waitFor(t, "InWFI marker", func() bool { return c.Inspect(1).InWFI() })

	// hold each check_wake poll until the hart is parked again, so the
	// marker reads InWFI instead of PassedWFI
	poll := func(ctx context.Context) error {
		for c.State(1) == core.StateRunning && h.slot.parks.Load() == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			time.Sleep(time.Millisecond)
		}
		return Yield(ctx)
	}
	m := NewMonitor(c, 0, MonitorOptions{Poll: poll})
	r, err := m.ReleaseOne(ctx, 1)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if r.Skipped || r.Resends != 0 {
		t.Fatalf("unexpected release %+v", r)
	}
	waitFor(t, "hart 1 parked again", func() bool { return c.Inspect(1).InWFI() })
	if _, err := m.Wake(ctx, 1); err != nil {
		t.Fatalf("wake: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("hart 1: %v", err)
	}
}

func TestWaitForSignalNeedsRunningHart(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	h := startHart(t, c, 1, HartOptions{})
	if err := h.WaitForSignal(context.Background()); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
}

func TestRunEntryReturnIsFatal(t *testing.T) {
	broker := hooks.NewPluginBroker()
	var fault error
	broker.RegisterFault(func(ctx *hooks.FaultContext) error {
		fault = ctx.Err
		return nil
	})
	c := newTestCluster(t, 2, broker)
	h := startHart(t, c, 1, HartOptions{Role: core.RoleStartImmediately})
	if err := h.BootImmediate(); err != nil {
		t.Fatalf("boot immediate: %v", err)
	}
	err := h.Run(context.Background(), func(context.Context, *Hart) error { return nil })
	if !errors.Is(err, ErrEntryReturned) {
		t.Fatalf("expected ErrEntryReturned, got %v", err)
	}
	if !errors.Is(fault, ErrEntryReturned) {
		t.Fatalf("fault hook should see the error, got %v", fault)
	}
	if st := c.State(1); st != core.StateHalted {
		t.Fatalf("expected HALTED, got %s", st)
	}
}

func TestRunReturnAfterPowerOff(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	h := startHart(t, c, 1, HartOptions{Role: core.RoleStartImmediately})
	if err := h.BootImmediate(); err != nil {
		t.Fatalf("boot immediate: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	err := h.Run(ctx, func(ctx context.Context, _ *Hart) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("power-off return should not be fatal: %v", err)
	}
	if st := c.State(1); st != core.StateRunning {
		t.Fatalf("expected RUNNING, got %s", st)
	}
}

func TestCheckInterruptsWhileRunning(t *testing.T) {
	c := newTestCluster(t, 2, nil)
	h := startHart(t, c, 1, HartOptions{Role: core.RoleStartImmediately})
	if err := h.BootImmediate(); err != nil {
		t.Fatalf("boot immediate: %v", err)
	}
	if h.CheckInterrupts() {
		t.Fatalf("nothing pending yet")
	}
	_ = c.Controller().Raise(1)
	if !h.CheckInterrupts() {
		t.Fatalf("expected pending interrupt to be taken")
	}
	if c.Controller().Pending(1) {
		t.Fatalf("trap exit should clear the bit")
	}
	snap := c.Snapshot(1)
	if snap.SoftInts != 1 || snap.Role != core.RoleStartImmediately || snap.Entry != "u54_1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestParseClearPolicy(t *testing.T) {
	if p, err := ParseClearPolicy(""); err != nil || p != ClearByWaiter {
		t.Fatalf("empty policy should default to waiter, got %q %v", p, err)
	}
	if _, err := ParseClearPolicy("sometimes"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
