package spinlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Readm/hart_sim/core"
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

func TestMutualExclusionAcrossHarts(t *testing.T) {
	l := New()
	l.Init()

	const harts = 5
	const rounds = 2000
	var inside int32
	var overlaps int32
	counter := 0

	var wg sync.WaitGroup
	for h := 0; h < harts; h++ {
		wg.Add(1)
		go func(id core.HartID) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				l.Acquire(id)
				if atomic.AddInt32(&inside, 1) != 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				counter++
				atomic.AddInt32(&inside, -1)
				l.Release(id)
			}
		}(core.HartID(h))
	}
	wg.Wait()

	if overlaps != 0 {
		t.Fatalf("observed %d overlapping critical sections", overlaps)
	}
	if counter != harts*rounds {
		t.Fatalf("expected counter %d, got %d", harts*rounds, counter)
	}
	if l.Held() {
		t.Fatalf("lock should be free after all releases")
	}
}

func TestContendedAcquireWaitsForRelease(t *testing.T) {
	// Hart 2 holds the shared UART lock; hart 3 must not get in before release.
	l := New()
	l.Init()
	l.Acquire(2)

	granted := make(chan struct{})
	go func() {
		l.Acquire(3)
		close(granted)
	}()

	select {
	case <-granted:
		t.Fatalf("hart 3 acquired while hart 2 held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	if h, ok := l.Holder(); !ok || h != 2 {
		t.Fatalf("expected hart 2 as holder, got %v ok=%v", h, ok)
	}
	l.Release(2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-granted:
	case <-ctx.Done():
		t.Fatalf("hart 3 never acquired after release")
	}
	if h, _ := l.Holder(); h != 3 {
		t.Fatalf("expected hart 3 as holder, got %v", h)
	}
	l.Release(3)
}

func TestTryAcquire(t *testing.T) {
	l := New()
	l.Init()
	if !l.TryAcquire(1) {
		t.Fatalf("first TryAcquire should succeed")
	}
	if l.TryAcquire(2) {
		t.Fatalf("second TryAcquire by another hart should fail")
	}
	l.Release(1)
	if !l.TryAcquire(2) {
		t.Fatalf("TryAcquire after release should succeed")
	}
	l.Release(2)
}

func TestReleaseViolations(t *testing.T) {
	l := New()
	l.Init()
	expectViolation(t, core.ViolationReleaseFree, func() { l.Release(1) })

	l.Acquire(1)
	expectViolation(t, core.ViolationReleaseForeign, func() { l.Release(2) })
	expectViolation(t, core.ViolationRecursiveAcquire, func() { l.Acquire(1) })
	l.Release(1)
}

func TestWithReleasesOnPanic(t *testing.T) {
	l := New()
	l.Init()
	func() {
		defer func() { recover() }()
		_ = l.With(4, func() error { panic("boom") })
	}()
	if l.Held() {
		t.Fatalf("lock must be released when the critical section panics")
	}
}

func TestAtUsesExternalWords(t *testing.T) {
	words := make([]uint32, 2)
	l := At(&words[0], &words[1])
	l.Init()
	l.Acquire(0)
	if words[0] != 1 || words[1] != 1 {
		t.Fatalf("expected lock word 1 and owner word 1, got %v", words)
	}
	l.Release(0)
	if words[0] != 0 || words[1] != 0 {
		t.Fatalf("expected cleared words, got %v", words)
	}
}
