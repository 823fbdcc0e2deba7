package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vidlens/engine/internal/config"
	"github.com/vidlens/engine/internal/logging"
)

var (
	configFile string
	logLevel   string
	cfg        *config.Config
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vidlens",
		Short: "Video analysis job engine",
		Long:  "Dispatches video analysis jobs to a remote analyser and tracks them to completion.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if logLevel != "" {
				loaded.Server.LogLevel = logLevel
			}
			cfg = loaded

			logging.Setup(cfg.Server.LogLevel, cfg.Server.Env)
			log.Debug().Str("env", cfg.Server.Env).Str("store", cfg.Store.Driver).Msg("config loaded")

			cmd.SilenceUsage = true
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newReconcileCommand())
	cmd.AddCommand(newPluginsCommand())

	return cmd
}
