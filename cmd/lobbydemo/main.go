// Package main runs the interactive lobby demo: a terminal front end driving
// one participant, with headless bots sharing an in-process network.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cory-johannsen/lobbylink/internal/config"
	"github.com/cory-johannsen/lobbylink/internal/tui"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (defaults and environment when empty)")
	logPath := flag.String("log", "lobbydemo.log", "log file used while the terminal UI owns the screen")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stderr" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = *logPath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	demo, cleanup, err := initializeDemo(ctx, cfg)
	if err != nil {
		log.Fatalf("assembling demo: %v", err)
	}
	wait := demo.Background(ctx)

	p := tea.NewProgram(tui.New(demo.Coordinator, demo.Provider, demo.TUIOptions()), tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()

	cancel()
	wait()
	cleanup()

	if runErr != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}
