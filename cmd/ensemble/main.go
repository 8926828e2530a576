package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"ensemble/internal/api"
	"ensemble/internal/app"
	"ensemble/internal/config"
	"ensemble/internal/logging"
	"ensemble/internal/ui"
)

func main() {
	headless := flag.Bool("headless", false, "serve the HTTP API without the terminal UI")
	flag.Parse()

	// A missing .env is fine; the config file and environment still apply.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}

	logger, closer, err := logging.Open(cfg.Log.Path, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open log: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger, *headless); err != nil {
		logger.Error("ensemble exited with error", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, headless bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	levels := make(chan ui.VoiceLevelMsg, 64)
	a, err := app.New(cfg, logger, app.WithVoiceLevels(func(id string, level float64) {
		select {
		case levels <- ui.VoiceLevelMsg{SessionID: id, Level: level}:
		default:
		}
	}))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Shutdown(); err != nil {
			logger.Error("shutdown reported errors", "error", err)
		}
	}()

	apiErr := make(chan error, 1)
	serving := cfg.API.Addr != "" || headless
	if serving {
		addr := cfg.API.Addr
		if addr == "" {
			addr = "127.0.0.1:8765"
		}
		h := api.NewHandler(a, logger.With("component", "api"))
		go func() { apiErr <- h.Serve(ctx, addr) }()
	}

	if headless {
		select {
		case <-ctx.Done():
			return <-apiErr
		case err := <-apiErr:
			return err
		}
	}

	p := tea.NewProgram(ui.New(ctx, a, levels),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	_, err = p.Run()
	interrupted := ctx.Err() != nil
	stop()
	if serving {
		if serr := <-apiErr; serr != nil {
			logger.Error("api server failed", "error", serr)
		}
	}
	if err != nil && !interrupted {
		return err
	}
	return nil
}
