package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vidlens/engine/internal/model"
)

const (
	openJobsKey = "jobs:open"
	scanBatch   = 200
)

func jobKey(id string) string           { return fmt.Sprintf("job:%s", id) }
func subjectJobsKey(id string) string   { return fmt.Sprintf("subject:%s:jobs", id) }
func subjectKey(id string) string       { return fmt.Sprintf("subject:%s", id) }
func resultKey(id string) string        { return fmt.Sprintf("result:%s", id) }
func jobResultsKey(jobID string) string { return fmt.Sprintf("results:%s", jobID) }

// RedisStore keeps records as JSON values. Non-terminal job ids are indexed in
// jobs:open; terminal records expire after the retention period.
type RedisStore struct {
	redis     *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{redis: client, retention: retention}
}

func (s *RedisStore) Close() error {
	return nil
}

func (s *RedisStore) ttl(r *model.JobRecord) time.Duration {
	if r.Status.IsTerminal() {
		return s.retention
	}
	return 0
}

func (s *RedisStore) Create(ctx context.Context, r *model.JobRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, jobKey(r.ID), data, s.ttl(r)).Result()
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", r.ID, err)
	}
	if !ok {
		return fmt.Errorf("job %s: %w", r.ID, ErrExists)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.index(ctx, pipe, r)
		pipe.ZAdd(ctx, subjectJobsKey(r.SubjectID), redis.Z{
			Score:  float64(r.CreatedAt.UnixNano()),
			Member: r.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index job %s: %w", r.ID, err)
	}
	return nil
}

func (s *RedisStore) index(ctx context.Context, pipe redis.Pipeliner, r *model.JobRecord) {
	if containsStatus(model.OpenJobStatuses, r.Status) {
		pipe.SAdd(ctx, openJobsKey, r.ID)
	} else {
		pipe.SRem(ctx, openJobsKey, r.ID)
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	data, err := s.redis.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	var r model.JobRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &r, nil
}

func (s *RedisStore) Update(ctx context.Context, r *model.JobRecord) error {
	n, err := s.redis.Exists(ctx, jobKey(r.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", r.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", r.ID, ErrNotFound)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(r.ID), data, s.ttl(r))
		s.index(ctx, pipe, r)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", r.ID, err)
	}
	return nil
}

func (s *RedisStore) ListByStatus(ctx context.Context, statuses ...model.JobStatus) ([]*model.JobRecord, error) {
	var ids []string
	onlyOpen := len(statuses) > 0
	for _, st := range statuses {
		if !containsStatus(model.OpenJobStatuses, st) {
			onlyOpen = false
		}
	}

	if onlyOpen {
		members, err := s.redis.SMembers(ctx, openJobsKey).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list open jobs: %w", err)
		}
		ids = members
	} else {
		iter := s.redis.Scan(ctx, 0, "job:*", scanBatch).Iterator()
		for iter.Next(ctx) {
			ids = append(ids, iter.Val()[len("job:"):])
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan jobs: %w", err)
		}
	}

	records, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := records[:0]
	for _, r := range records {
		if len(statuses) == 0 || containsStatus(statuses, r.Status) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) ListBySubject(ctx context.Context, subjectID string) ([]*model.JobRecord, error) {
	ids, err := s.redis.ZRevRange(ctx, subjectJobsKey(subjectID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for subject %s: %w", subjectID, err)
	}
	return s.load(ctx, ids)
}

// load fetches records by id, skipping and unindexing expired ones.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]*model.JobRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	records := make([]*model.JobRecord, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var r model.JobRecord
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job %s: %w", ids[i], err)
		}
		records = append(records, &r)
	}
	if len(stale) > 0 {
		s.redis.SRem(ctx, openJobsKey, stale...)
	}
	return records, nil
}

func (s *RedisStore) SaveResult(ctx context.Context, r *model.PluginResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, resultKey(r.ID), data, s.retention)
		pipe.RPush(ctx, jobResultsKey(r.JobID), r.ID)
		if s.retention > 0 {
			pipe.Expire(ctx, jobResultsKey(r.JobID), s.retention)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save result %s: %w", r.ID, err)
	}
	return nil
}

func (s *RedisStore) Results(ctx context.Context, jobID string) ([]*model.PluginResult, error) {
	ids, err := s.redis.LRange(ctx, jobResultsKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list results for job %s: %w", jobID, err)
	}

	results := make([]*model.PluginResult, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetResult(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *RedisStore) GetResult(ctx context.Context, id string) (*model.PluginResult, error) {
	data, err := s.redis.Get(ctx, resultKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("result %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get result %s: %w", id, err)
	}

	var r model.PluginResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result %s: %w", id, err)
	}
	return &r, nil
}

func (s *RedisStore) PutSubject(ctx context.Context, subject *model.Subject) error {
	data, err := json.Marshal(subject)
	if err != nil {
		return fmt.Errorf("failed to marshal subject: %w", err)
	}
	if err := s.redis.Set(ctx, subjectKey(subject.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save subject %s: %w", subject.ID, err)
	}
	return nil
}

func (s *RedisStore) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	data, err := s.redis.Get(ctx, subjectKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("subject %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get subject %s: %w", id, err)
	}

	var subject model.Subject
	if err := json.Unmarshal(data, &subject); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subject %s: %w", id, err)
	}
	return &subject, nil
}
