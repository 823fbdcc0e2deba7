// Package store persists job records, pipeline results and subjects.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vidlens/engine/internal/config"
	"github.com/vidlens/engine/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// JobStore persists JobRecords. A record is written only by the worker executing
// it; readers see the last persisted state.
type JobStore interface {
	Create(ctx context.Context, r *model.JobRecord) error
	Get(ctx context.Context, id string) (*model.JobRecord, error)
	Update(ctx context.Context, r *model.JobRecord) error
	ListByStatus(ctx context.Context, statuses ...model.JobStatus) ([]*model.JobRecord, error)
	ListBySubject(ctx context.Context, subjectID string) ([]*model.JobRecord, error)
}

type ResultStore interface {
	SaveResult(ctx context.Context, r *model.PluginResult) error
	Results(ctx context.Context, jobID string) ([]*model.PluginResult, error)
	GetResult(ctx context.Context, id string) (*model.PluginResult, error)
}

type SubjectStore interface {
	PutSubject(ctx context.Context, s *model.Subject) error
	GetSubject(ctx context.Context, id string) (*model.Subject, error)
}

type Store interface {
	JobStore
	ResultStore
	SubjectStore
	Close() error
}

// Open builds the configured store. rdb is only used by the redis driver.
func Open(cfg *config.StoreConfig, rdb *redis.Client) (Store, error) {
	switch cfg.Driver {
	case "redis", "":
		if rdb == nil {
			return nil, fmt.Errorf("redis store requires a redis client")
		}
		return NewRedisStore(rdb, cfg.Retention()), nil
	case "sqlite", "postgres":
		return NewSQLStore(cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func containsStatus(statuses []model.JobStatus, s model.JobStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}
