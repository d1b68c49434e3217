package soc

import (
	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/rendezvous"
)

// Report is a point-in-time summary of the system.
type Report struct {
	Harts    []core.HartSnapshot  `json:"harts"`
	Releases []rendezvous.Release `json:"releases"`
	Counters map[string]uint64    `json:"counters,omitempty"`
	States   map[string]int       `json:"states"`
	Faults   []string             `json:"faults,omitempty"`
}

// Report snapshots hart states, HLS counters, releases and shared counters.
// Shared counters are read under their locks by a debug agent that is not
// one of the harts.
func (s *System) Report() Report {
	r := Report{
		Harts:  s.cluster.Snapshots(),
		States: make(map[string]int),
	}
	for _, h := range r.Harts {
		r.States[h.State.String()]++
	}
	if s.region != nil {
		if counters, err := s.region.Snapshot(s.debugger, "boot"); err == nil {
			r.Counters = counters
		}
	}
	s.mu.Lock()
	r.Releases = append([]rendezvous.Release(nil), s.releases...)
	for _, f := range s.faults {
		r.Faults = append(r.Faults, f.Error())
	}
	s.mu.Unlock()
	return r
}
