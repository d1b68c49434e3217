package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/rendezvous"
	"github.com/Readm/hart_sim/soc"
	"github.com/Readm/hart_sim/visual"
)

// ScheduledCommand is a control command the app issues on its own once
// AfterMs milliseconds have passed since boot.
type ScheduledCommand struct {
	AfterMs int                       `json:"afterMs"`
	Type    visual.ControlCommandType `json:"type"`
	Hart    core.HartID               `json:"hart"`
	Key     string                    `json:"key,omitempty"`
	Value   uint64                    `json:"value,omitempty"`
}

// Command converts s into a control command.
func (s ScheduledCommand) Command() visual.ControlCommand {
	return visual.ControlCommand{Type: s.Type, Hart: s.Hart, Key: s.Key, Value: s.Value}
}

// Config describes one boot of the hart complex.
type Config struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Harts     int                       `json:"harts"`
	FirstHart core.HartID               `json:"firstHart"`
	LastHart  core.HartID               `json:"lastHart"`
	Roles     map[core.HartID]core.Role `json:"roles,omitempty"`

	SharedMemory bool `json:"sharedMemory"`
	ClearMemory  bool `json:"clearMemory"`
	AutoRelease  bool `json:"autoRelease"`

	ReleaseOrder []core.HartID `json:"releaseOrder,omitempty"`
	ResendAfter  int           `json:"resendAfter,omitempty"`
	ClearPolicy  string        `json:"clearPolicy,omitempty"`
	Reentrant    bool          `json:"reentrant,omitempty"`
	// Parker selects how waiting harts idle: "wfi" or "spin".
	Parker string `json:"parker,omitempty"`

	TraceCapacity int                `json:"traceCapacity,omitempty"`
	Schedule      []ScheduledCommand `json:"schedule,omitempty"`
}

// Options converts a validated config into system options.
func (c *Config) Options() (soc.Options, error) {
	opts := soc.DefaultOptions()
	opts.Harts = c.Harts
	opts.FirstHart = c.FirstHart
	opts.LastHart = c.LastHart
	opts.SharedMemory = c.SharedMemory
	opts.ClearMemory = c.ClearMemory
	opts.AutoRelease = c.AutoRelease
	opts.ReleaseOrder = append([]core.HartID(nil), c.ReleaseOrder...)
	opts.ResendAfter = c.ResendAfter
	opts.Reentrant = c.Reentrant
	if len(c.Roles) > 0 {
		opts.Roles = make(map[core.HartID]core.Role, len(c.Roles))
		for h, r := range c.Roles {
			opts.Roles[h] = r
		}
	}
	policy, err := rendezvous.ParseClearPolicy(c.ClearPolicy)
	if err != nil {
		return opts, err
	}
	opts.ClearPolicy = policy
	switch c.Parker {
	case "", ParkerWFI:
	case ParkerSpin:
		opts.Parker = func(core.HartID) rendezvous.Parker { return rendezvous.SpinParker{} }
	default:
		return opts, fmt.Errorf("unknown parker %q", c.Parker)
	}
	return opts, opts.Validate()
}

const (
	ParkerWFI  = "wfi"
	ParkerSpin = "spin"
)

func baseConfig(name, description string) *Config {
	return &Config{
		Name:         name,
		Description:  description,
		Harts:        core.DefaultHartCount,
		FirstHart:    core.MonitorHart,
		LastHart:     core.HartID(core.DefaultHartCount - 1),
		SharedMemory: true,
		ClearMemory:  true,
		AutoRelease:  true,
		ClearPolicy:  string(rendezvous.ClearByWaiter),
		Parker:       ParkerWFI,
	}
}

// GetPredefinedConfigs returns the built-in configurations keyed by name.
func GetPredefinedConfigs() map[string]*Config {
	configs := []*Config{
		baseConfig("simple_demo", "monitor releases every application hart in ascending order"),
		func() *Config {
			c := baseConfig("run_from_ddr_u54_1", "monitor publishes a jump target, then raises only hart 1")
			c.LastHart = core.MonitorHart
			c.Schedule = []ScheduledCommand{
				{AfterMs: 0, Type: visual.CommandPublish, Key: "wake_token", Value: 0x80000000},
				{AfterMs: 20, Type: visual.CommandRaise, Hart: 1},
			}
			return c
		}(),
		func() *Config {
			c := baseConfig("coremark", "hart 1 carries monitor duty, hart 0 stays parked")
			c.FirstHart = 1
			return c
		}(),
		func() *Config {
			c := baseConfig("bootloader_loaded", "hart 1 was started by a bootloader and skips the wait")
			c.Roles = map[core.HartID]core.Role{1: core.RoleStartImmediately}
			return c
		}(),
		func() *Config {
			c := baseConfig("shared_uart", "harts 2 and 3 print through the shared UART lock")
			c.ReleaseOrder = []core.HartID{2, 3}
			return c
		}(),
		func() *Config {
			c := baseConfig("wfi_reentry", "workers re-enter the wait after their first banner")
			c.Reentrant = true
			c.Schedule = []ScheduledCommand{
				{AfterMs: 50, Type: visual.CommandRaise, Hart: 1},
				{AfterMs: 100, Type: visual.CommandRaise, Hart: 2},
				{AfterMs: 150, Type: visual.CommandRaise, Hart: 1},
			}
			return c
		}(),
		func() *Config {
			c := baseConfig("scenario_missed_wake", "hart 1 is never raised and stays waiting")
			c.ReleaseOrder = []core.HartID{2, 3, 4}
			return c
		}(),
	}
	out := make(map[string]*Config, len(configs))
	for _, c := range configs {
		out[c.Name] = c
	}
	return out
}

// ConfigNames lists predefined config names in sorted order.
func ConfigNames() []string {
	configs := GetPredefinedConfigs()
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetConfigByName returns a predefined config, or nil.
func GetConfigByName(name string) *Config {
	return GetPredefinedConfigs()[name]
}

// LoadConfigFile reads a JSON config. Fields left out take the values of
// the preset named in the file, or of simple_demo.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var head struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg := GetConfigByName(head.Name)
	if cfg == nil {
		cfg = GetConfigByName("simple_demo")
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
