package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/StatusPipe/internal/app"
	"github.com/BTreeMap/StatusPipe/internal/logfields"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	APIAddr string `name:"api-addr" help:"API server address (overrides $API_ADDR)"`
}

func (s *ServeCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	if s.APIAddr != "" {
		cfg.API.Addr = s.APIAddr
	}

	a, err := app.Open(cfg, "serve")
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to close state", logfields.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("Starting StatusPipe", "state_dir", cfg.StateDir, "api_addr", cfg.API.Addr)
	if err := a.Serve(ctx); err != nil {
		return err
	}
	slog.Info("StatusPipe stopped")
	return nil
}
