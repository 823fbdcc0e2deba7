package client

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/status"

	"github.com/vidlens/engine/internal/model"
)

// Reporter receives status updates for the job a TaskClient is bound to.
type Reporter interface {
	Report(ctx context.Context, status model.JobStatus, progress float64)
	Fail(ctx context.Context, reason string)
}

// Options tunes a TaskClient.
type Options struct {
	PollInterval time.Duration
	// PollTimeout of zero polls until the remote job terminates.
	PollTimeout time.Duration
	CacheDir    string
}

// TaskClient wraps a Transport for one job execution. Calls never return
// transport errors: a failure is logged, reported to the bound Reporter and
// signalled by a false second return value.
type TaskClient struct {
	transport Transport
	reporter  Reporter
	opts      Options
	logger    zerolog.Logger
}

func NewTaskClient(transport Transport, opts Options) *TaskClient {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.CacheDir == "" {
		opts.CacheDir = os.TempDir()
	}
	return &TaskClient{
		transport: transport,
		opts:      opts,
		logger:    log.With().Str("component", "analyser-client").Logger(),
	}
}

// Bind returns a client reporting to r. A nil r yields an unbound client.
func (c *TaskClient) Bind(r Reporter) *TaskClient {
	bound := *c
	bound.reporter = r
	return &bound
}

// WithLogger returns a copy logging through l.
func (c *TaskClient) WithLogger(l zerolog.Logger) *TaskClient {
	cp := *c
	cp.logger = l
	return &cp
}

func (c *TaskClient) fail(ctx context.Context, op string, err error) {
	st, _ := status.FromError(err)
	c.logger.Error().
		Str("op", op).
		Str("code", st.Code().String()).
		Msg(st.Message())
	c.failReason(ctx, fmt.Sprintf("%s: %s", op, st.Message()))
}

func (c *TaskClient) failReason(ctx context.Context, reason string) {
	if c.reporter != nil {
		c.reporter.Fail(ctx, reason)
	}
}

func (c *TaskClient) report(ctx context.Context, st model.JobStatus, progress float64) {
	if c.reporter != nil {
		c.reporter.Report(ctx, st, progress)
	}
}

func (c *TaskClient) ListPlugins(ctx context.Context) ([]model.PluginInfo, bool) {
	plugins, err := c.transport.ListPlugins(ctx)
	if err != nil {
		c.fail(ctx, "list_plugins", err)
		return nil, false
	}
	return plugins, true
}

func (c *TaskClient) UploadData(ctx context.Context, data []byte, dataType string) (string, bool) {
	id, err := c.transport.UploadData(ctx, data, dataType)
	if err != nil {
		c.fail(ctx, "upload_data", err)
		return "", false
	}
	return id, true
}

func (c *TaskClient) UploadFile(ctx context.Context, path string) (string, bool) {
	id, err := c.transport.UploadFile(ctx, path)
	if err != nil {
		c.fail(ctx, "upload_file", err)
		return "", false
	}
	c.logger.Debug().Str("path", path).Str("data_id", id).Msg("file uploaded")
	return id, true
}

func (c *TaskClient) RunPlugin(ctx context.Context, plugin string, inputs []model.NamedID, parameters []model.NamedValue) (string, bool) {
	jobID, err := c.transport.RunPlugin(ctx, plugin, inputs, parameters)
	if err != nil {
		c.fail(ctx, "run_plugin", err)
		return "", false
	}
	c.logger.Info().Str("plugin", plugin).Str("remote_job", jobID).Msg("analyser started")
	return jobID, true
}

func (c *TaskClient) GetPluginStatus(ctx context.Context, jobID string) (*model.PluginStatus, bool) {
	st, err := c.transport.GetPluginStatus(ctx, jobID)
	if err != nil {
		c.fail(ctx, "get_plugin_status", err)
		return nil, false
	}
	return st, true
}

// DownloadData materializes a remote blob in the cache directory. The caller
// owns the returned Blob and must Close it.
func (c *TaskClient) DownloadData(ctx context.Context, dataID string) (*Blob, bool) {
	f, err := os.CreateTemp(c.opts.CacheDir, "blob-*")
	if err != nil {
		c.fail(ctx, "download_data", err)
		return nil, false
	}

	dataType, err := c.transport.DownloadData(ctx, dataID, f)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		c.fail(ctx, "download_data", err)
		return nil, false
	}

	return &Blob{ID: dataID, Type: dataType, path: f.Name()}, true
}
