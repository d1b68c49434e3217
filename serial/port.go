// Package serial models the UART shared by the harts. Every line is written
// while holding the UART's spinlock, which lives in the shared region when
// one is configured.
package serial

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hooks"
	"github.com/Readm/hart_sim/shared"
	"github.com/Readm/hart_sim/spinlock"
)

// Port is one UART. Writers on any hart call Printf; lines never interleave.
type Port struct {
	name    string
	counter string
	out     io.Writer
	region  *shared.Region
	local   *spinlock.Spinlock
	broker  *hooks.PluginBroker
	clock   func() int
}

// PortConfig describes a UART. Lock and Counter name entries of the region
// layout; without a region a private lock is used and no lines are counted.
type PortConfig struct {
	Name    string
	Lock    string
	Counter string
	Out     io.Writer
	Region  *shared.Region
	Broker  *hooks.PluginBroker
	Clock   func() int
}

// NewPort creates a port writing to cfg.Out.
func NewPort(cfg PortConfig) (*Port, error) {
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.Name == "" {
		cfg.Name = "uart0"
	}
	p := &Port{name: cfg.Name, out: cfg.Out, broker: cfg.Broker, clock: cfg.Clock}
	if cfg.Region != nil {
		lock := cfg.Lock
		if lock == "" {
			lock = cfg.Name
		}
		if _, err := cfg.Region.Lock(lock); err != nil {
			return nil, fmt.Errorf("port %s: %w", cfg.Name, err)
		}
		p.region = cfg.Region
		p.name = lock
		p.counter = cfg.Counter
	} else {
		p.local = spinlock.New()
	}
	return p, nil
}

// Name returns the lock name guarding the port.
func (p *Port) Name() string {
	return p.name
}

func (p *Port) cycle() int {
	if p.clock == nil {
		return 0
	}
	return p.clock()
}

// Printf formats one line and writes it under the UART lock on behalf of h.
func (p *Port) Printf(h core.HartID, format string, args ...any) error {
	line := fmt.Sprintf(format, args...)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\r\n"
	}
	if p.region == nil {
		return p.local.With(h, func() error {
			p.emit(h, true)
			defer p.emit(h, false)
			_, err := io.WriteString(p.out, line)
			return err
		})
	}
	return p.region.With(h, p.name, func(a *shared.Access) error {
		p.emit(h, true)
		defer p.emit(h, false)
		if _, err := io.WriteString(p.out, line); err != nil {
			return err
		}
		if p.counter == "" {
			return nil
		}
		_, err := a.Add(p.counter, 1)
		return err
	})
}

func (p *Port) emit(h core.HartID, acquired bool) {
	_ = p.broker.EmitLock(&hooks.LockContext{Hart: h, Lock: p.name, Acquired: acquired, Cycle: p.cycle()})
}

// Buffer is an io.Writer that keeps everything written, safe to read while
// harts write.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns the text written so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Lines returns the complete lines written so far, without terminators.
func (b *Buffer) Lines() []string {
	text := b.String()
	out := make([]string, 0)
	for _, l := range bytes.Split([]byte(text), []byte("\n")) {
		l = bytes.TrimRight(l, "\r")
		if len(l) > 0 {
			out = append(out, string(l))
		}
	}
	return out
}
