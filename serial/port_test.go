package serial

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hooks"
	"github.com/Readm/hart_sim/memory"
	"github.com/Readm/hart_sim/shared"
)

func newRegion(t *testing.T) *shared.Region {
	t.Helper()
	layout := shared.DefaultLayout()
	mem, err := memory.New(0x1000, layout.Size())
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })
	r, err := shared.Init(mem, 0x1000, layout)
	if err != nil {
		t.Fatalf("init region: %v", err)
	}
	return r
}

func TestPortLinesDoNotInterleave(t *testing.T) {
	region := newRegion(t)
	var out Buffer
	port, err := NewPort(PortConfig{Name: "uart0", Counter: "uart0_lines", Out: &out, Region: region})
	if err != nil {
		t.Fatalf("new port: %v", err)
	}

	const perHart = 50
	var wg sync.WaitGroup
	for h := core.HartID(1); h <= 4; h++ {
		wg.Add(1)
		go func(h core.HartID) {
			defer wg.Done()
			for i := 0; i < perHart; i++ {
				if err := port.Printf(h, "%s line %d", h.EntryName(), i); err != nil {
					t.Errorf("printf: %v", err)
					return
				}
			}
		}(h)
	}
	wg.Wait()

	lines := out.Lines()
	if len(lines) != 4*perHart {
		t.Fatalf("expected %d lines, got %d", 4*perHart, len(lines))
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "u54_") || strings.Count(l, "line") != 1 {
			t.Fatalf("interleaved line %q", l)
		}
	}
	counts, err := region.Snapshot(0, "boot")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if counts["uart0_lines"] != 4*perHart {
		t.Fatalf("expected line counter %d, got %d", 4*perHart, counts["uart0_lines"])
	}
}

func TestPortEmitsLockHooks(t *testing.T) {
	broker := hooks.NewPluginBroker()
	var events []string
	broker.RegisterLock(func(ctx *hooks.LockContext) error {
		events = append(events, fmt.Sprintf("%d:%s:%v", ctx.Hart, ctx.Lock, ctx.Acquired))
		return nil
	})
	var out Buffer
	port, err := NewPort(PortConfig{Out: &out, Broker: broker})
	if err != nil {
		t.Fatalf("new port: %v", err)
	}
	if err := port.Printf(2, "hello\n"); err != nil {
		t.Fatalf("printf: %v", err)
	}
	if out.String() != "hello\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
	want := []string{"2:uart0:true", "2:uart0:false"}
	if len(events) != 2 || events[0] != want[0] || events[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, events)
	}
}

func TestNewPortUnknownLock(t *testing.T) {
	if _, err := NewPort(PortConfig{Name: "uart9", Region: newRegion(t)}); err == nil {
		t.Fatalf("expected error for lock missing from the layout")
	}
}
