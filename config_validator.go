package main

import (
	"errors"
	"fmt"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/rendezvous"
	"github.com/Readm/hart_sim/visual"
)

// ValidateConfig applies structural checks to Config and populates defaults where required.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if cfg.Harts == 0 {
		cfg.Harts = core.DefaultHartCount
	}
	if cfg.Harts < 0 {
		return fmt.Errorf("Harts must be positive, got %d", cfg.Harts)
	}
	if !cfg.FirstHart.Valid(cfg.Harts) {
		return fmt.Errorf("FirstHart %d outside [0,%d)", cfg.FirstHart, cfg.Harts)
	}
	if !cfg.LastHart.Valid(cfg.Harts) {
		return fmt.Errorf("LastHart %d outside [0,%d)", cfg.LastHart, cfg.Harts)
	}
	if cfg.ResendAfter < 0 {
		return fmt.Errorf("ResendAfter must be non-negative, got %d", cfg.ResendAfter)
	}
	if _, err := rendezvous.ParseClearPolicy(cfg.ClearPolicy); err != nil {
		return err
	}
	if cfg.ClearPolicy == "" {
		cfg.ClearPolicy = string(rendezvous.ClearByWaiter)
	}
	switch cfg.Parker {
	case "":
		cfg.Parker = ParkerWFI
	case ParkerWFI, ParkerSpin:
	default:
		return fmt.Errorf("Parker must be %q or %q, got %q", ParkerWFI, ParkerSpin, cfg.Parker)
	}

	seen := make(map[core.HartID]bool, len(cfg.ReleaseOrder))
	for _, h := range cfg.ReleaseOrder {
		if !h.Valid(cfg.Harts) {
			return fmt.Errorf("ReleaseOrder names hart %d outside [0,%d)", h, cfg.Harts)
		}
		if seen[h] {
			return fmt.Errorf("ReleaseOrder names hart %d twice", h)
		}
		seen[h] = true
	}
	for h, r := range cfg.Roles {
		if !h.Valid(cfg.Harts) {
			return fmt.Errorf("Roles names hart %d outside [0,%d)", h, cfg.Harts)
		}
		if _, err := core.ParseRole(string(r)); err != nil {
			return err
		}
		if r == core.RoleMonitor && h != cfg.FirstHart {
			return fmt.Errorf("hart %d cannot be monitor, FirstHart is %d", h, cfg.FirstHart)
		}
	}

	for i, s := range cfg.Schedule {
		if s.AfterMs < 0 {
			return fmt.Errorf("Schedule[%d]: AfterMs must be non-negative, got %d", i, s.AfterMs)
		}
		switch s.Type {
		case visual.CommandRaise:
			if !s.Hart.Valid(cfg.Harts) {
				return fmt.Errorf("Schedule[%d]: hart %d outside [0,%d)", i, s.Hart, cfg.Harts)
			}
		case visual.CommandPublish:
			if !cfg.SharedMemory {
				return fmt.Errorf("Schedule[%d]: publish needs SharedMemory", i)
			}
			if s.Key == "" {
				return fmt.Errorf("Schedule[%d]: publish needs a key", i)
			}
		case visual.CommandStatus, visual.CommandStop:
		default:
			return fmt.Errorf("Schedule[%d]: unknown command %q", i, s.Type)
		}
	}

	if cfg.TraceCapacity <= 0 {
		cfg.TraceCapacity = DefaultTraceCapacity
	}
	return nil
}
