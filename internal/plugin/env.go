package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/params"
	"github.com/vidlens/engine/internal/pipeline"
	"github.com/vidlens/engine/internal/store"
)

// Env is everything a pipeline may touch while executing one job.
type Env struct {
	Job       *model.JobRecord
	Subject   *model.Subject
	Params    params.Values
	Runner    *pipeline.Runner
	Results   store.ResultStore
	Artifacts client.StorageClient
}

// Persist stores a downloaded blob as an artifact and records it as a result
// of the job.
func (e *Env) Persist(ctx context.Context, name, resultType string, blob *client.Blob) (*model.PluginResult, error) {
	id := uuid.NewString()
	key := fmt.Sprintf("jobs/%s/%s.%s", e.Job.ID, id, resultType)

	body, err := blob.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s output: %w", resultType, err)
	}
	defer body.Close()

	if _, err := e.Artifacts.Upload(ctx, key, body, "application/json"); err != nil {
		return nil, fmt.Errorf("failed to store %s artifact: %w", resultType, err)
	}

	result := &model.PluginResult{
		ID:          id,
		JobID:       e.Job.ID,
		Name:        name,
		Type:        resultType,
		DataID:      blob.ID,
		ArtifactKey: key,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.Results.SaveResult(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// RequireResult loads a result of an earlier job and checks its type.
func (e *Env) RequireResult(ctx context.Context, id, resultType string) (*model.PluginResult, error) {
	result, err := e.Results.GetResult(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: result %s: %v", ErrPrecondition, id, err)
	}
	if result.Type != resultType {
		return nil, fmt.Errorf("%w: result %s is %s, want %s", ErrPrecondition, id, result.Type, resultType)
	}
	return result, nil
}

// ReadArtifact decodes a persisted artifact as JSON.
func ReadArtifact(ctx context.Context, artifacts client.StorageClient, result *model.PluginResult, v any) error {
	body, err := artifacts.Download(ctx, result.ArtifactKey)
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", result.ArtifactKey, err)
	}
	defer body.Close()
	if err := client.DecodeJSON(body, v); err != nil {
		return fmt.Errorf("failed to decode artifact %s: %w", result.ArtifactKey, err)
	}
	return nil
}

// FindResult returns the first result of the given type.
func FindResult(results []*model.PluginResult, resultType string) (*model.PluginResult, bool) {
	for _, r := range results {
		if r.Type == resultType {
			return r, true
		}
	}
	return nil, false
}
