package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/Readm/hart_sim/soc"
)

// PrintStats writes a human readable summary of a report.
func PrintStats(w io.Writer, r soc.Report) {
	if len(r.Harts) == 0 {
		fmt.Fprintln(w, "No stats available")
		return
	}
	fmt.Fprintln(w, "=== Hart States ===")
	for _, h := range r.Harts {
		fmt.Fprintf(w, "%s (%s, %s): %s, softInts=%d, rewakes=%d, wfi=%#x, flags=%#x\n",
			h.ID.Label(), h.Entry, h.Role, h.State, h.SoftInts, h.Rewakes, h.WFIIndicator, h.BootFlags)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== State Totals ===")
	states := make([]string, 0, len(r.States))
	for s := range r.States {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Fprintf(w, "%s: %d\n", s, r.States[s])
	}

	if len(r.Releases) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Releases ===")
		for _, rel := range r.Releases {
			fmt.Fprintf(w, "%s: polls=%d, resends=%d, skipped=%v\n", rel.Hart.Label(), rel.Polls, rel.Resends, rel.Skipped)
		}
	}

	if len(r.Counters) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Shared Counters ===")
		keys := make([]string, 0, len(r.Counters))
		for k := range r.Counters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s: %d\n", k, r.Counters[k])
		}
	}

	if len(r.Faults) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Faults ===")
		for _, f := range r.Faults {
			fmt.Fprintln(w, f)
		}
	}
}
