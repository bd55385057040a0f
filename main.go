/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/vkscaffold/engine"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/platform"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
	vkdriver "github.com/spaghettifunk/vkscaffold/engine/renderer/driver/vk"
	"github.com/spaghettifunk/vkscaffold/testbed"
)

func newInstance(cfg *engine.ApplicationConfig, extensions []string) (driver.Instance, error) {
	return vkdriver.New(vkdriver.Config{
		ApplicationName: cfg.Application.Name,
		EngineName:      "vkscaffold",
		Extensions:      extensions,
		Validation:      cfg.Renderer.Validation,
	})
}

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration file, empty for defaults")
	flag.Parse()

	appConfig, err := engine.LoadApplicationConfig(*configPath)
	if err != nil {
		core.LogFatal("failed to load config: %s", err)
	}

	bus := core.NewEventBus()
	p, err := platform.New(bus)
	if err != nil {
		core.LogFatal("%s", err)
	}

	tb := testbed.NewTestGame(appConfig)
	e, err := engine.New(tb.Game, bus, p, newInstance)
	if err != nil {
		core.LogFatal("%s", err)
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("failed to initialize: %+v", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// the loop owns the window, so the signal is turned into a quit event
	// instead of tearing things down from this goroutine
	go func() {
		<-sigCh
		bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("%+v", runErr)
	}
}
