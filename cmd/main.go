// Package main is the entry point for tunedeck, a headless music player core.
//
// tunedeck indexes local music folders, drives a playback engine (MPD or a
// simulated one) and exposes the playback session over HTTP and a websocket
// state feed.
//
// Build:
//
//	go build -o build/tunedeck ./cmd
//
// Run:
//
//	./build/tunedeck -config ~/.config/tunedeck/config.toml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"github.com/tejashwikalptaru/tunedeck/internal/app"
	"github.com/tejashwikalptaru/tunedeck/internal/config"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", config.Path(), "path to the config file")
	useMock := flag.Bool("mock", false, "use the simulated playback engine")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(app.GetVersionInfo().FullString())
		return nil
	}

	cfg, err := config.Load(afero.NewOsFs(), *configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *useMock {
		cfg.Engine.Backend = config.EngineMock
	}

	application, err := app.New(app.Options{Config: cfg})
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer func() {
		if err := application.Shutdown(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}
