package main

import (
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vidlens/engine/internal/worker"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a standalone worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := newComponents(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := reconcileOnStartup(ctx, c); err != nil {
				return err
			}

			mux := asynq.NewServeMux()
			worker.NewJobWorker(c.executor(nil)).Register(mux)

			log.Info().
				Str("queue", cfg.Worker.Queue).
				Int("concurrency", cfg.Worker.Concurrency).
				Msg("worker starting")
			// Run blocks until SIGINT or SIGTERM.
			return c.workerServer().Run(mux)
		},
	}
}
