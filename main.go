/*
The testbed application: it opens a window and renders the demo scene (or the manifest given
with --scene) through the engine package.
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/testbed"
)

func main() {
	config.ParseFlags()
	cfg, err := config.Load()
	if err != nil {
		core.LogFatal("invalid configuration: %v", err)
	}

	// cancelled on SIGTERM and friends so the loop can tear down on the render thread
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	tb := testbed.NewTestGame()
	e, err := engine.New(cfg, tb.Game)
	if err != nil {
		core.LogFatal("failed to create engine: %v", err)
	}

	if err := e.Initialize(ctx); err != nil {
		core.LogError("failed to initialize engine: %v", err)
		_ = e.Shutdown()
		os.Exit(1)
	}

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %v", err)
	}
	if runErr != nil {
		core.LogError("engine stopped: %v", runErr)
		os.Exit(1)
	}
}
