package client

import (
	"context"
	"time"

	"github.com/vidlens/engine/internal/model"
)

// PollResults queries the remote job until it terminates. Every tick is
// forwarded to the bound Reporter. It returns false on remote ERROR or
// UNKNOWN, on transport failure, and on timeout; a timeout leaves the
// reported status untouched.
func (c *TaskClient) PollResults(ctx context.Context, jobID string) (*model.PluginStatus, bool) {
	start := time.Now()
	timer := time.NewTimer(c.opts.PollInterval)
	defer timer.Stop()

	for tick := 1; ; tick++ {
		if c.opts.PollTimeout > 0 && time.Since(start) > c.opts.PollTimeout {
			c.logger.Warn().Str("remote_job", jobID).Dur("timeout", c.opts.PollTimeout).Msg("poll timed out")
			return nil, false
		}

		st, ok := c.GetPluginStatus(ctx, jobID)
		if !ok {
			return nil, false
		}

		c.logger.Debug().
			Str("remote_job", jobID).
			Int("tick", tick).
			Str("status", string(st.Status)).
			Float64("progress", st.Progress).
			Msg("poll")

		switch st.Status {
		case model.RemoteStatusDone:
			c.report(ctx, model.JobStatusDone, 1.0)
			return st, true
		case model.RemoteStatusWaiting, model.RemoteStatusRunning:
			c.report(ctx, st.Status.Local(), model.ClampProgress(st.Progress))
		case model.RemoteStatusUnknown:
			c.logger.Error().Str("remote_job", jobID).Msg("job is unknown by the analyser")
			c.failReason(ctx, "remote job unknown")
			return nil, false
		default:
			c.logger.Error().Str("remote_job", jobID).Str("status", string(st.Status)).Msg("remote job failed")
			c.failReason(ctx, "remote job failed")
			return nil, false
		}

		select {
		case <-ctx.Done():
			c.logger.Warn().Str("remote_job", jobID).Msg("poll cancelled")
			return nil, false
		case <-timer.C:
		}
		timer.Reset(c.opts.PollInterval)
	}
}
