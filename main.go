package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/serial"
)

// DefaultHeadlessDuration is how long a headless boot runs without -duration.
const DefaultHeadlessDuration = 2 * time.Second

type cliOptions struct {
	configName string
	configFile string
	headless   bool
	webAddr    string
	console    bool
	uartPath   string
	duration   time.Duration
	logLevel   string
	watch      string
	list       bool
}

func main() {
	var opts cliOptions
	flag.StringVar(&opts.configName, "config", "simple_demo", "Predefined configuration name (see -list)")
	flag.StringVar(&opts.configFile, "config-file", "", "JSON configuration file, overrides -config")
	flag.BoolVar(&opts.headless, "headless", false, "Run without the web server and print stats on power-off")
	flag.StringVar(&opts.webAddr, "web", ":8080", "Web server listen address")
	flag.BoolVar(&opts.console, "console", false, "Read monitor commands from the terminal")
	flag.StringVar(&opts.uartPath, "uart", "", "Serial device receiving the shared UART (default stdout)")
	flag.DurationVar(&opts.duration, "duration", 0, "Power off after this long (headless default 2s, otherwise until interrupted)")
	flag.StringVar(&opts.logLevel, "log", "info", "Log level: error, warn, info, debug")
	flag.StringVar(&opts.watch, "watch", "", "Comma separated harts whose events are logged at info level")
	flag.BoolVar(&opts.list, "list", false, "List predefined configurations and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseWatch(s string) ([]core.HartID, error) {
	if s == "" {
		return nil, nil
	}
	var out []core.HartID
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("invalid -watch hart %q", f)
		}
		out = append(out, core.HartID(v))
	}
	return out, nil
}

func loadConfig(opts cliOptions) (*Config, error) {
	if opts.configFile != "" {
		return LoadConfigFile(opts.configFile)
	}
	cfg := GetConfigByName(opts.configName)
	if cfg == nil {
		return nil, fmt.Errorf("configuration %q not found, available: %s", opts.configName, strings.Join(ConfigNames(), ", "))
	}
	return cfg, nil
}

func run(ctx context.Context, opts cliOptions, stdout io.Writer) error {
	if opts.list {
		configs := GetPredefinedConfigs()
		for _, name := range ConfigNames() {
			fmt.Fprintf(stdout, "%-22s %s\n", name, configs[name].Description)
		}
		return nil
	}

	level, err := ParseLogLevel(opts.logLevel)
	if err != nil {
		return err
	}
	GetLogger().SetLevel(level)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	watch, err := parseWatch(opts.watch)
	if err != nil {
		return err
	}

	var uart io.Writer = stdout
	if opts.uartPath != "" {
		dev, err := serial.OpenTTY(opts.uartPath)
		if err != nil {
			return err
		}
		defer dev.Close()
		uart = dev
	}

	duration := opts.duration
	if duration == 0 && opts.headless && !opts.console {
		duration = DefaultHeadlessDuration
	}
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	var web *WebServer
	appOpts := AppOptions{UART: uart, Status: stdout, Headless: opts.headless, Watch: watch}
	commands := newChannelCommandQueue(DefaultCommandBuffer)
	appOpts.Commands = commands
	if !opts.headless {
		web = NewWebServer(opts.webAddr, cfg.Harts, commands, nil)
		appOpts.Publish = web.UpdateFrame
	}

	app, err := NewApp(cfg, appOpts)
	if err != nil {
		return err
	}
	defer app.Close()

	if web != nil {
		web.SetTrace(app.Recorder())
		app.Recorder().Subscribe(web.PublishEvent)
		if err := web.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			web.Shutdown(sctx)
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	waitConsole := func() {}
	if opts.console {
		waitConsole = goConsole(runCtx, app, RunStdinConsole, cancel)
	}

	runErr := app.Run(runCtx)
	cancel()
	// the console reads the arena, Close must not unmap it under a command
	waitConsole()
	if opts.headless {
		PrintStats(stdout, app.System().Report())
	}
	return runErr
}

// goConsole runs console until ctx is done and calls onExit when it
// returns. The returned func blocks until the console goroutine is gone.
func goConsole(ctx context.Context, app *App, console func(context.Context, *App) error, onExit func()) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := console(ctx, app); err != nil {
			GetLogger().Errorf("console: %v", err)
		}
		onExit()
	}()
	return func() { <-done }
}
