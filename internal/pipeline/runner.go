// Package pipeline chains remote analyser invocations into one job.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
)

var (
	ErrStepFailed    = errors.New("pipeline step failed")
	ErrNoOutputs     = errors.New("pipeline step returned no outputs")
	ErrMissingOutput = errors.New("pipeline step output missing")
)

// StepRequest describes one submit, poll and download cycle.
type StepRequest struct {
	Plugin     string
	Parameters map[string]any
	// Inputs maps input names to data ids from uploads or earlier steps.
	Inputs map[string]string
	// Outputs are returned by id only.
	Outputs []string
	// Downloads are materialized locally.
	Downloads []string
}

// StepResult owns the blobs it downloaded.
type StepResult struct {
	Outputs   map[string]string
	Downloads map[string]*client.Blob
}

// Close releases every downloaded blob.
func (r *StepResult) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, b := range r.Downloads {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}

// Runner executes the steps of one job sequentially. Progress of step i out
// of n is reported as (i+p)/n so the job record advances monotonically.
type Runner struct {
	client   *client.TaskClient
	reporter client.Reporter
	total    int
	index    int
}

func NewRunner(c *client.TaskClient, reporter client.Reporter, total int) *Runner {
	if total < 1 {
		total = 1
	}
	return &Runner{client: c, reporter: reporter, total: total}
}

// Plan resets the expected number of steps for pipelines whose shape depends
// on their parameters.
func (r *Runner) Plan(total int) {
	if total > r.index {
		r.total = total
	}
}

func (r *Runner) Step() int  { return r.index }
func (r *Runner) Total() int { return r.total }

func (r *Runner) stepClient() *client.TaskClient {
	if r.reporter == nil {
		return r.client.Bind(nil)
	}
	return r.client.Bind(&stepReporter{parent: r.reporter, index: r.index, total: r.total})
}

// UploadSubject transfers the subject's media file to the analyser.
func (r *Runner) UploadSubject(ctx context.Context, subject *model.Subject) (string, error) {
	id, ok := r.stepClient().UploadFile(ctx, subject.Path)
	if !ok {
		return "", fmt.Errorf("%w: upload subject %s", ErrStepFailed, subject.ID)
	}
	return id, nil
}

// UploadJSON transfers v as an in-memory blob.
func (r *Runner) UploadJSON(ctx context.Context, v any, dataType string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", dataType, err)
	}
	id, ok := r.stepClient().UploadData(ctx, data, dataType)
	if !ok {
		return "", fmt.Errorf("%w: upload %s", ErrStepFailed, dataType)
	}
	return id, nil
}

// RunStep submits req and waits for it. On any failure no partial result is
// returned.
func (r *Runner) RunStep(ctx context.Context, req StepRequest) (*StepResult, error) {
	logger := zerolog.Ctx(ctx).With().
		Str("plugin", req.Plugin).
		Int("step", r.index+1).
		Int("steps", r.total).
		Logger()

	c := r.stepClient()

	remoteID, ok := c.RunPlugin(ctx, req.Plugin, namedIDs(req.Inputs), namedValues(req.Parameters))
	if !ok {
		return nil, fmt.Errorf("%w: %s: submission failed", ErrStepFailed, req.Plugin)
	}

	st, ok := c.PollResults(ctx, remoteID)
	if !ok {
		return nil, fmt.Errorf("%w: %s: remote job %s did not finish", ErrStepFailed, req.Plugin, remoteID)
	}
	if len(st.Outputs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoOutputs, req.Plugin)
	}

	result := &StepResult{
		Outputs:   make(map[string]string, len(req.Outputs)),
		Downloads: make(map[string]*client.Blob, len(req.Downloads)),
	}
	for _, name := range req.Outputs {
		id, found := st.Output(name)
		if !found {
			return nil, fmt.Errorf("%w: %s: %s", ErrMissingOutput, req.Plugin, name)
		}
		result.Outputs[name] = id
	}
	for _, name := range req.Downloads {
		id, found := st.Output(name)
		if !found {
			result.Close()
			return nil, fmt.Errorf("%w: %s: %s", ErrMissingOutput, req.Plugin, name)
		}
		blob, ok := c.DownloadData(ctx, id)
		if !ok {
			result.Close()
			return nil, fmt.Errorf("%w: %s: download %s", ErrStepFailed, req.Plugin, name)
		}
		result.Downloads[name] = blob
	}

	logger.Info().Str("remote_job", remoteID).Msg("step finished")
	r.index++
	return result, nil
}

func namedIDs(m map[string]string) []model.NamedID {
	out := make([]model.NamedID, 0, len(m))
	for name, id := range m {
		out = append(out, model.NamedID{Name: name, ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func namedValues(m map[string]any) []model.NamedValue {
	out := make([]model.NamedValue, 0, len(m))
	for name, v := range m {
		out = append(out, model.NamedValue{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// stepReporter scales a single step's progress into the whole pipeline and
// holds back DONE until the job itself completes.
type stepReporter struct {
	parent client.Reporter
	index  int
	total  int
}

func (s *stepReporter) Report(ctx context.Context, st model.JobStatus, progress float64) {
	if st == model.JobStatusDone {
		st = model.JobStatusRunning
		progress = 1
	}
	scaled := (float64(s.index) + model.ClampProgress(progress)) / float64(s.total)
	s.parent.Report(ctx, st, scaled)
}

func (s *stepReporter) Fail(ctx context.Context, reason string) {
	s.parent.Fail(ctx, reason)
}
