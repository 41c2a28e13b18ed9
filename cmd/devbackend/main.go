package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/backend"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/log"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		configPath string
		logLevel   string
		addr       string
		seed       bool
	)

	cmd := &cobra.Command{
		Use:          "devbackend",
		Short:        "Development backend serving the REST and realtime contract",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New(logLevel)

			cfg, _, err := config.Load(logger, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{LogLevel: logLevel, Backend: config.BackendConfig{Addr: addr}})
			if err := cfg.ValidateBackend(); err != nil {
				return err
			}
			logger = log.New(cfg.LogLevel)

			state := backend.NewState()
			if seed {
				if err := backend.SeedDemo(state); err != nil {
					return err
				}
				logger.Info().Str("password", backend.DemoPassword).Msg("seeded demo users alice@example.com and bob@example.com")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := backend.NewServer(cfg.Backend, state, log.Component(logger, "backend"))
			logger.Info().Str("addr", cfg.Backend.Addr).Msg("starting devbackend")
			if err := srv.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	cmd.Flags().BoolVar(&seed, "seed", true, "create demo users on start")
	return cmd
}
