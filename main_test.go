package main

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Readm/hart_sim/serial"
)

func TestRunListsConfigs(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), cliOptions{list: true}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range ConfigNames() {
		if !strings.Contains(out.String(), name) {
			t.Fatalf("config %s missing from listing", name)
		}
	}
}

func TestRunHeadlessPrintsStats(t *testing.T) {
	var out serial.Buffer
	opts := cliOptions{configName: "shared_uart", headless: true, duration: 300 * time.Millisecond, logLevel: "error"}
	if err := run(context.Background(), opts, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Hello from u54_2") || !strings.Contains(text, "Hello from u54_3") {
		t.Fatalf("missing banners:\n%s", text)
	}
	if strings.Contains(text, "Hello from u54_1") {
		t.Fatalf("hart 1 is not in the release order:\n%s", text)
	}
	if !strings.Contains(text, "=== Hart States ===") || !strings.Contains(text, "uart0_lines: 2") {
		t.Fatalf("missing stats:\n%s", text)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), cliOptions{configName: "nope", headless: true}, &out); err == nil {
		t.Fatalf("expected unknown config error")
	}
	if err := run(context.Background(), cliOptions{configName: "simple_demo", logLevel: "loud"}, &out); err == nil {
		t.Fatalf("expected log level error")
	}
	if err := run(context.Background(), cliOptions{configName: "simple_demo", headless: true, watch: "1,x"}, &out); err == nil {
		t.Fatalf("expected watch error")
	}
}

func TestConsoleGoroutineJoinedBeforeClose(t *testing.T) {
	r := startApp(t, GetConfigByName("simple_demo"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var reads atomic.Int64
	var returned atomic.Bool
	wait := goConsole(ctx, r.app, func(ctx context.Context, app *App) error {
		for ctx.Err() == nil {
			_ = app.System().Report()
			reads.Add(1)
			time.Sleep(time.Millisecond)
		}
		returned.Store(true)
		return nil
	}, func() {})
	waitFor(t, "console reads", func() bool { return reads.Load() > 0 })
	cancel()
	wait()
	if !returned.Load() {
		t.Fatalf("wait returned while the console was still running")
	}
}

func TestConsoleExitCancelsRun(t *testing.T) {
	r := startApp(t, GetConfigByName("simple_demo"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wait := goConsole(ctx, r.app, func(context.Context, *App) error { return nil }, cancel)
	wait()
	if ctx.Err() == nil {
		t.Fatalf("leaving the console should cancel the run")
	}
}

