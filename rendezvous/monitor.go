package rendezvous

import (
	"context"
	"fmt"
	"runtime"

	"github.com/Readm/hart_sim/core"
)

type releaseStep int

const (
	stepInit releaseStep = iota
	stepCheckWFI
	stepSend
	stepCheckWake
	stepDone
)

// PollFunc runs between two reads of a target's HLS marker.
type PollFunc func(ctx context.Context) error

// Yield is the default PollFunc.
func Yield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runtime.Gosched()
	return nil
}

// MonitorOptions configure the release sequence.
type MonitorOptions struct {
	// ResendAfter re-raises a target that still reports InWFI after this
	// many polls of check_wake. Zero disables resends.
	ResendAfter int
	Poll        PollFunc
}

// Release is the outcome of releasing one hart.
type Release struct {
	Hart    core.HartID `json:"hart"`
	Polls   int         `json:"polls"`
	Resends int         `json:"resends"`
	Skipped bool        `json:"skipped"`
}

// Monitor drives the release of application harts from the monitor hart.
type Monitor struct {
	c    *Cluster
	self core.HartID
	opts MonitorOptions
}

// NewMonitor returns the release driver running on hart self.
func NewMonitor(c *Cluster, self core.HartID, opts MonitorOptions) *Monitor {
	if opts.Poll == nil {
		opts.Poll = Yield
	}
	if opts.ResendAfter < 0 {
		opts.ResendAfter = 0
	}
	return &Monitor{c: c, self: self, opts: opts}
}

// Self returns the monitor's hart id.
func (m *Monitor) Self() core.HartID {
	return m.self
}

// Release releases each hart of order in turn. Harts that start immediately
// or are already running are skipped. It stops at the first error, which is
// ctx's error when the caller gives up.
func (m *Monitor) Release(ctx context.Context, order []core.HartID) ([]Release, error) {
	out := make([]Release, 0, len(order))
	for _, target := range order {
		r, err := m.run(ctx, target)
		out = append(out, r)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// ReleaseOne releases a single hart from its boot wait.
func (m *Monitor) ReleaseOne(ctx context.Context, target core.HartID) (Release, error) {
	return m.run(ctx, target)
}

// Wake signals a running hart parked in WaitForSignal and waits until that
// wait has returned. The HLS marker cannot tell one re-entrant wait from
// the next, so Wake follows the cluster's park and rewake counts instead.
func (m *Monitor) Wake(ctx context.Context, target core.HartID) (Release, error) {
	r := Release{Hart: target}
	s := m.c.slot(target)
	if s == nil || target == m.self {
		return r, fmt.Errorf("wake %s: not a peer of %s", target.Label(), m.self.Label())
	}
	for s.parks.Load() <= s.rewakes.Load() {
		r.Polls++
		if err := m.opts.Poll(ctx); err != nil {
			return r, err
		}
	}
	before := s.rewakes.Load()
	if err := m.c.Signal(m.self, target); err != nil {
		return r, err
	}
	for s.rewakes.Load() == before {
		r.Polls++
		if err := m.opts.Poll(ctx); err != nil {
			return r, err
		}
	}
	return r, nil
}

func (m *Monitor) run(ctx context.Context, target core.HartID) (Release, error) {
	r := Release{Hart: target}
	step := stepInit
	if target == m.self {
		return r, fmt.Errorf("monitor %s cannot release itself", m.self.Label())
	}
	if !target.Valid(m.c.Harts()) {
		return r, fmt.Errorf("release %s: no such hart", target.Label())
	}
	view := m.c.Inspect(target)
	sinceSend := 0
	for step != stepDone {
		switch step {
		case stepInit:
			if m.c.Role(target) == core.RoleStartImmediately || m.c.State(target) >= core.StateRunning {
				r.Skipped = true
				step = stepDone
				continue
			}
			step = stepCheckWFI
			continue
		case stepCheckWFI:
			if view.InWFI() {
				step = stepSend
				continue
			}
		case stepSend:
			if err := m.c.Signal(m.self, target); err != nil {
				return r, err
			}
			sinceSend = 0
			step = stepCheckWake
			continue
		case stepCheckWake:
			// a re-entrant worker may already be back in WaitForSignal,
			// which rewrites the marker to InWFI
			if view.PassedWFI() || view.BootFlags()&core.FlagReleased != 0 || m.c.State(target) >= core.StateRunning {
				step = stepDone
				continue
			}
			if m.opts.ResendAfter > 0 && view.InWFI() {
				sinceSend++
				if sinceSend >= m.opts.ResendAfter {
					if err := m.c.resend(m.self, target); err != nil {
						return r, err
					}
					r.Resends++
					sinceSend = 0
				}
			}
		}
		r.Polls++
		if err := m.opts.Poll(ctx); err != nil {
			return r, err
		}
	}
	return r, nil
}
