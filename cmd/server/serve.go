package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vidlens/engine/internal/handler"
	"github.com/vidlens/engine/internal/middleware"
	"github.com/vidlens/engine/internal/service"
	ws "github.com/vidlens/engine/internal/websocket"
	"github.com/vidlens/engine/internal/worker"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with an embedded worker",
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

			hub := ws.NewHub()
			go hub.Run()
			defer hub.Stop()

			asynqClient := asynq.NewClient(c.redisOpt)
			defer asynqClient.Close()

			executor := c.executor(hub)
			dispatcher := service.NewDispatcher(c.registry, c.store, asynqClient, executor, c.artifacts, cfg.Worker.Queue, c.taskTimeout())
			catalog := service.NewCatalog(c.registry, c.client, c.store)

			app := handler.NewApp(handler.Deps{
				Dispatcher:     dispatcher,
				Catalog:        catalog,
				Hub:            hub,
				Limiter:        middleware.NewRateLimiter(c.redis),
				DispatchPerMin: cfg.RateLimit.DispatchPerMin,
				LogLevel:       cfg.Server.LogLevel,
				Health:         c.health,
			})

			srv := c.workerServer()
			mux := asynq.NewServeMux()
			worker.NewJobWorker(executor).Register(mux)
			if err := srv.Start(mux); err != nil {
				return err
			}
			defer srv.Shutdown()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				<-quit
				log.Info().Msg("shutting down server")
				if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
					log.Error().Err(err).Msg("server shutdown error")
				}
			}()

			addr := ":" + cfg.Server.Port
			log.Info().Str("addr", addr).Msg("server starting")
			return app.Listen(addr)
		},
	}
}
