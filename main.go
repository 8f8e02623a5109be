// SPDX-License-Identifier: MIT
package main

import (
	"audioviz/cmd"
	"audioviz/internal/config"
	applog "audioviz/internal/log"
	"audioviz/pkg/build"
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

// main is the entry point for audioviz.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Configure logging and runtime settings
//
// 2. Concurrent Phase (Hot Path):
//   - Audio callback fills the capture ring
//   - Driver ticks the analysis engine and fans snapshots out
//   - Terminal meter and transports consume snapshots
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Stop recording if active
//   - Close transports and the input stream
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Development builds carry no ldflags and keep the default build info.
	if err := build.Initialize(); err != nil {
		applog.Debugf("build info: %v", err)
	}

	opts, err := cmd.ParseArgs(os.Args[1:], os.Stdout)
	if err != nil {
		applog.Fatalf("%v", err)
	}
	if opts == nil {
		return // --help or --version
	}

	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		applog.Fatalf("%v", err)
	}
	if err := opts.Apply(cfg); err != nil {
		applog.Fatalf("%v", err)
	}
	applog.SetLevel(cfg.Level())

	// One thread for the audio callback, one for the driver and UI.
	runtime.GOMAXPROCS(2)

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	// Cancelled on SIGINT/SIGTERM; Run returns once everything is closed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = cmd.Run(ctx, cfg, opts, os.Stdout)
	stop()

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if err != nil {
		applog.Fatalf("%v", err)
	}
}
