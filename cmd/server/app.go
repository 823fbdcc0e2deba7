package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/logging"
	"github.com/vidlens/engine/internal/plugin"
	"github.com/vidlens/engine/internal/plugins"
	"github.com/vidlens/engine/internal/service"
	"github.com/vidlens/engine/internal/store"
	"github.com/vidlens/engine/internal/worker"
)

// components are the collaborators shared by every command that touches jobs.
type components struct {
	redis     *redis.Client
	redisOpt  asynq.RedisClientOpt
	store     store.Store
	artifacts client.StorageClient
	transport *client.GRPCTransport
	client    *client.TaskClient
	registry  *plugin.Registry
}

func newComponents(ctx context.Context) (*components, error) {
	c := &components{
		redisOpt: asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
	}

	c.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := c.redis.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not available")
	}

	var err error
	if c.store, err = store.Open(&cfg.Store, c.redis); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if c.artifacts, err = client.NewStorage(&cfg.Storage); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize artifact storage: %w", err)
	}
	if c.transport, err = client.NewGRPCTransport(&cfg.Analyser); err != nil {
		c.Close()
		return nil, err
	}
	c.client = client.NewTaskClient(c.transport, client.Options{
		PollInterval: cfg.Analyser.PollInterval(),
		PollTimeout:  cfg.Analyser.PollWait(),
		CacheDir:     cfg.Cache.Dir,
	})
	if c.registry, err = plugins.Register(); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func (c *components) Close() {
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close analyser connection")
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}
	if c.redis != nil {
		c.redis.Close()
	}
}

// executor builds a job executor. A nil notifier disables progress pushes.
func (c *components) executor(notifier worker.Notifier) *worker.Executor {
	return worker.NewExecutor(c.registry, c.store, c.client, c.artifacts, notifier)
}

// reconcile marks open records the queue no longer holds as unknown.
func (c *components) reconcile(ctx context.Context) (int, error) {
	inspector := asynq.NewInspector(c.redisOpt)
	defer inspector.Close()

	r := service.NewReconciler(c.store, service.NewAsynqInspector(inspector, cfg.Worker.Queue))
	return r.Run(ctx)
}

// taskTimeout bounds one queued job. Without worker.task_timeout it is
// unbounded, so analyser.poll_timeout stays the only limit.
func (c *components) taskTimeout() asynq.Option {
	return asynq.Timeout(worker.TaskTimeout(cfg.Worker.Timeout()))
}

func (c *components) workerServer() *asynq.Server {
	return asynq.NewServer(c.redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			cfg.Worker.Queue: 1,
		},
		LogLevel: logging.AsynqLevel(cfg.Server.LogLevel),
		Logger:   logging.NewAsynqLogger(),
	})
}

func (c *components) health() fiber.Map {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return fiber.Map{
		"redis":    c.redis.Ping(ctx).Err() == nil,
		"store":    cfg.Store.Driver,
		"storage":  cfg.Storage.Driver,
		"analyser": cfg.Analyser.Target(),
	}
}

func reconcileOnStartup(ctx context.Context, c *components) error {
	marked, err := c.reconcile(ctx)
	if err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}
	log.Info().Int("marked_unknown", marked).Msg("startup reconciliation finished")
	return nil
}
