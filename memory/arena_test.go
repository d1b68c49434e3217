package memory

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestArena(t *testing.T, base, size uint64) *Arena {
	t.Helper()
	a, err := New(base, size)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArenaLoadStoreLittleEndian(t *testing.T) {
	a := newTestArena(t, 0x08000000, 4096)

	if err := a.PutUint64(0x08000010, 0x1122334455667788); err != nil {
		t.Fatalf("PutUint64: %v", err)
	}
	b, err := a.Bytes(0x08000010, 8)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if b[0] != 0x88 || b[7] != 0x11 {
		t.Fatalf("expected little endian layout, got % x", b)
	}
	v, err := a.Uint32(0x08000014)
	if err != nil || v != 0x11223344 {
		t.Fatalf("Uint32 upper half: got %#x err=%v", v, err)
	}
}

func TestArenaBounds(t *testing.T) {
	a := newTestArena(t, 0x1000, 64)

	if _, err := a.Uint64(0x1000 + 60); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if _, err := a.Word(0x0ffc); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected out of range below base, got %v", err)
	}
	if _, err := a.Word(0x1002); !errors.Is(err, ErrMisaligned) {
		t.Fatalf("expected misaligned, got %v", err)
	}
	if !a.Contains(0x1000, 64) || a.Contains(0x1000, 65) {
		t.Fatalf("Contains bounds wrong")
	}
}

func TestArenaWordIsSharedAcrossGoroutines(t *testing.T) {
	a := newTestArena(t, 0, 4096)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := a.Word(64)
			if err != nil {
				t.Errorf("Word: %v", err)
				return
			}
			for j := 0; j < 1000; j++ {
				atomic.AddUint32(w, 1)
			}
		}()
	}
	wg.Wait()
	got, err := a.LoadUint32(64)
	if err != nil {
		t.Fatalf("LoadUint32: %v", err)
	}
	if got != 8000 {
		t.Fatalf("expected 8000 increments, got %d", got)
	}
}

func TestArenaZero(t *testing.T) {
	a := newTestArena(t, 0, 128)
	_ = a.PutUint64(8, ^uint64(0))
	if err := a.Zero(8, 8); err != nil {
		t.Fatalf("Zero: %v", err)
	}
	if v, _ := a.Uint64(8); v != 0 {
		t.Fatalf("expected zeroed word, got %#x", v)
	}
}
