package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/soc"
	"github.com/Readm/hart_sim/visual"
)

// ErrConsoleExit is returned by a command that ends the console session.
var ErrConsoleExit = errors.New("console exit")

// ConsoleCmd is one console command.
type ConsoleCmd struct {
	Name    string
	Args    int
	Pattern *regexp.Regexp
	Syntax  string
	Help    string
	Fn      func(c *Console, arg []string) (string, error)
}

// Console is the monitor's interactive menu: it raises harts, publishes
// shared values and inspects HLS and locks of a running app.
type Console struct {
	app  *App
	term *term.Terminal
	cmds []ConsoleCmd
}

// NewConsole creates a console reading from and writing to rw.
func NewConsole(app *App, rw io.ReadWriter) *Console {
	c := &Console{
		app:  app,
		term: term.NewTerminal(rw, "> "),
	}
	c.cmds = []ConsoleCmd{
		{Name: "help", Pattern: regexp.MustCompile(`^help$`), Help: "this help", Fn: consoleHelp},
		{Name: "raise", Args: 1, Pattern: regexp.MustCompile(`^raise (\d+)$`), Syntax: "<hart>", Help: "release a waiting hart or wake a parked one", Fn: consoleRaise},
		{Name: "kick", Args: 1, Pattern: regexp.MustCompile(`^kick (\d+)$`), Syntax: "<hart>", Help: "resume a hart's WFI without an interrupt", Fn: consoleKick},
		{Name: "publish", Args: 2, Pattern: regexp.MustCompile(`^publish (\w+) (0x[[:xdigit:]]+|\d+)$`), Syntax: "<key> <value>", Help: "store a shared value", Fn: consolePublish},
		{Name: "status", Pattern: regexp.MustCompile(`^status$`), Help: "hart states, releases and counters", Fn: consoleStatus},
		{Name: "hls", Args: 1, Pattern: regexp.MustCompile(`^hls (\d+)$`), Syntax: "<hart>", Help: "read a hart's HLS debug view", Fn: consoleHLS},
		{Name: "locks", Pattern: regexp.MustCompile(`^locks$`), Help: "show shared lock holders", Fn: consoleLocks},
		{Name: "trace", Args: 1, Pattern: regexp.MustCompile(`^trace (\d+)$`), Syntax: "<n>", Help: "show the last n events", Fn: consoleTrace},
		{Name: "exit", Pattern: regexp.MustCompile(`^(exit|quit)$`), Help: "close the console", Fn: consoleExit},
	}
	return c
}

// Handle runs one command line.
func (c *Console) Handle(line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}
	for _, cmd := range c.cmds {
		m := cmd.Pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		arg := m[1:]
		if cmd.Args == 0 {
			arg = nil
		}
		return cmd.Fn(c, arg)
	}
	return "", fmt.Errorf("unknown command %q, type help", line)
}

// Run reads commands until EOF, an exit command or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := c.term.ReadLine()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			res, err := c.Handle(line)
			if errors.Is(err, ErrConsoleExit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.term, "error: %v\n", err)
				continue
			}
			if res != "" {
				fmt.Fprintln(c.term, res)
			}
		}
	}
}

type stdio struct {
	io.Reader
	io.Writer
}

// RunStdinConsole runs a console on the process terminal, switching it to
// raw mode for the session.
func RunStdinConsole(ctx context.Context, app *App) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer term.Restore(fd, state)
	}
	return NewConsole(app, stdio{os.Stdin, os.Stdout}).Run(ctx)
}

func (c *Console) parseHart(s string) (core.HartID, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid hart, %v", err)
	}
	h := core.HartID(v)
	if !h.Valid(c.app.Config().Harts) {
		return 0, fmt.Errorf("hart %d outside [0,%d)", v, c.app.Config().Harts)
	}
	return h, nil
}

// submit queues cmd on the app and waits for its outcome.
func (c *Console) submit(cmd visual.ControlCommand) error {
	reply := make(chan error, 1)
	cmd.Reply = reply
	if !c.app.Commands().Enqueue(cmd) {
		return errors.New("command queue full")
	}
	select {
	case err := <-reply:
		return err
	case <-time.After(DefaultRaiseTimeout + time.Second):
		return fmt.Errorf("%s: no reply", cmd.Type)
	}
}

func consoleHelp(c *Console, _ []string) (string, error) {
	var b strings.Builder
	for _, cmd := range c.cmds {
		fmt.Fprintf(&b, "%-8s %-14s # %s\n", cmd.Name, cmd.Syntax, cmd.Help)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func consoleRaise(c *Console, arg []string) (string, error) {
	h, err := c.parseHart(arg[0])
	if err != nil {
		return "", err
	}
	if err := c.submit(visual.ControlCommand{Type: visual.CommandRaise, Hart: h}); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s raised, state %s", h.Label(), c.app.System().Cluster().State(h)), nil
}

func consoleKick(c *Console, arg []string) (string, error) {
	h, err := c.parseHart(arg[0])
	if err != nil {
		return "", err
	}
	sys := c.app.System()
	if err := sys.Kick(h); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s kicked, state %s", h.Label(), sys.Cluster().State(h)), nil
}

func consolePublish(c *Console, arg []string) (string, error) {
	v, err := strconv.ParseUint(arg[1], 0, 64)
	if err != nil {
		return "", fmt.Errorf("invalid value, %v", err)
	}
	if err := c.submit(visual.ControlCommand{Type: visual.CommandPublish, Key: arg[0], Value: v}); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s=%#x", arg[0], v), nil
}

func consoleStatus(c *Console, _ []string) (string, error) {
	var b bytes.Buffer
	PrintStats(&b, c.app.System().Report())
	return strings.TrimRight(b.String(), "\n"), nil
}

func consoleHLS(c *Console, arg []string) (string, error) {
	h, err := c.parseHart(arg[0])
	if err != nil {
		return "", err
	}
	sys := c.app.System()
	v := sys.Cluster().Inspect(h)
	return fmt.Sprintf("%s hls:%#x id:%d wfi:%#.8x inWFI:%v passed:%v flags:%#x softInts:%d",
		h.Label(), sys.Link().HLSBase(h), v.HartID(), v.WFIIndicator(), v.InWFI(), v.PassedWFI(), v.BootFlags(), v.SoftInts()), nil
}

func consoleLocks(c *Console, _ []string) (string, error) {
	region := c.app.System().Region()
	if region == nil {
		return "", soc.ErrSharedDisabled
	}
	var b strings.Builder
	for _, name := range region.Layout().Locks {
		l, err := region.Lock(name)
		if err != nil {
			return "", err
		}
		if owner, held := l.Holder(); held {
			fmt.Fprintf(&b, "%-8s held by %s\n", name, owner.Label())
		} else {
			fmt.Fprintf(&b, "%-8s free\n", name)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func consoleTrace(c *Console, arg []string) (string, error) {
	n, err := strconv.Atoi(arg[0])
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid count %q", arg[0])
	}
	events := c.app.Recorder().Events()
	if len(events) > n {
		events = events[len(events)-n:]
	}
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "#%d [%d] %s %s", ev.Sequence, ev.Cycle, ev.Label, ev.Type)
		if ev.Type == core.EventStateChange {
			fmt.Fprintf(&b, " %s -> %s", ev.From, ev.To)
		}
		if ev.Target != core.NoHart {
			fmt.Fprintf(&b, " target %s", ev.Target.Label())
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func consoleExit(*Console, []string) (string, error) {
	return "", ErrConsoleExit
}
