// Package clienttest provides a scripted in-memory analysis service for tests.
package clienttest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vidlens/engine/internal/model"
)

// Script drives the remote jobs started for one plugin.
type Script struct {
	// Ticks are answered in order; the last one repeats.
	Ticks  []model.PluginStatus
	RunErr error
}

// RunCall records one RunPlugin invocation.
type RunCall struct {
	Plugin     string
	Inputs     []model.NamedID
	Parameters []model.NamedValue
}

// Transport is a fake analysis service. Zero value is ready to use.
type Transport struct {
	mu sync.Mutex

	Plugins []model.PluginInfo
	Scripts map[string]*Script
	// Data holds downloadable content by data id.
	Data map[string][]byte

	ListErr     error
	UploadErr   error
	DownloadErr error
	StatusErr   error

	Runs    []RunCall
	Uploads map[string][]byte

	seq  int
	jobs map[string]*job
}

type job struct {
	plugin string
	tick   int
}

func New() *Transport {
	return &Transport{
		Scripts: make(map[string]*Script),
		Data:    make(map[string][]byte),
		Uploads: make(map[string][]byte),
	}
}

// Script registers the tick sequence for plugin.
func (t *Transport) Script(plugin string, ticks ...model.PluginStatus) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Scripts == nil {
		t.Scripts = make(map[string]*Script)
	}
	t.Scripts[plugin] = &Script{Ticks: ticks}
	return t
}

// FailRun makes RunPlugin for plugin return err.
func (t *Transport) FailRun(plugin string, err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Scripts == nil {
		t.Scripts = make(map[string]*Script)
	}
	t.Scripts[plugin] = &Script{RunErr: err}
	return t
}

// Put stores downloadable content under id.
func (t *Transport) Put(id string, content []byte) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Data == nil {
		t.Data = make(map[string][]byte)
	}
	t.Data[id] = content
	return t
}

func (t *Transport) RunCalls() []RunCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RunCall(nil), t.Runs...)
}

func (t *Transport) nextID(prefix string) string {
	t.seq++
	return fmt.Sprintf("%s-%d", prefix, t.seq)
}

func (t *Transport) ListPlugins(context.Context) ([]model.PluginInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ListErr != nil {
		return nil, t.ListErr
	}
	return t.Plugins, nil
}

func (t *Transport) UploadData(_ context.Context, data []byte, _ string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.UploadErr != nil {
		return "", t.UploadErr
	}
	if t.Uploads == nil {
		t.Uploads = make(map[string][]byte)
	}
	id := t.nextID("data")
	t.Uploads[id] = append([]byte(nil), data...)
	return id, nil
}

func (t *Transport) UploadFile(ctx context.Context, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}
	return t.UploadData(ctx, content, "video")
}

func (t *Transport) RunPlugin(_ context.Context, plugin string, inputs []model.NamedID, parameters []model.NamedValue) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Runs = append(t.Runs, RunCall{Plugin: plugin, Inputs: inputs, Parameters: parameters})

	script, ok := t.Scripts[plugin]
	if !ok {
		return "", status.Errorf(codes.NotFound, "plugin %s not found", plugin)
	}
	if script.RunErr != nil {
		return "", script.RunErr
	}
	if t.jobs == nil {
		t.jobs = make(map[string]*job)
	}
	id := t.nextID("job")
	t.jobs[id] = &job{plugin: plugin}
	return id, nil
}

func (t *Transport) GetPluginStatus(_ context.Context, jobID string) (*model.PluginStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.StatusErr != nil {
		return nil, t.StatusErr
	}
	j, ok := t.jobs[jobID]
	if !ok {
		return &model.PluginStatus{Status: model.RemoteStatusUnknown}, nil
	}
	ticks := t.Scripts[j.plugin].Ticks
	if len(ticks) == 0 {
		return &model.PluginStatus{Status: model.RemoteStatusUnknown}, nil
	}
	idx := j.tick
	if idx >= len(ticks) {
		idx = len(ticks) - 1
	}
	j.tick++
	st := ticks[idx]
	return &st, nil
}

func (t *Transport) DownloadData(_ context.Context, dataID string, w io.Writer) (string, error) {
	t.mu.Lock()
	err := t.DownloadErr
	content, ok := t.Data[dataID]
	if !ok {
		content, ok = t.Uploads[dataID]
	}
	t.mu.Unlock()

	if err != nil {
		return "", err
	}
	if !ok {
		return "", status.Errorf(codes.NotFound, "data %s not found", dataID)
	}
	if _, err := w.Write(content); err != nil {
		return "", err
	}
	return "json", nil
}

func Waiting() model.PluginStatus {
	return model.PluginStatus{Status: model.RemoteStatusWaiting}
}

func Running(progress float64) model.PluginStatus {
	return model.PluginStatus{Status: model.RemoteStatusRunning, Progress: progress}
}

func Failed() model.PluginStatus {
	return model.PluginStatus{Status: model.RemoteStatusError}
}

func Unknown() model.PluginStatus {
	return model.PluginStatus{Status: model.RemoteStatusUnknown}
}

// Done finishes a remote job with outputs given as name, id pairs.
func Done(nameIDs ...string) model.PluginStatus {
	st := model.PluginStatus{Status: model.RemoteStatusDone, Progress: 1}
	for i := 0; i+1 < len(nameIDs); i += 2 {
		st.Outputs = append(st.Outputs, model.NamedID{Name: nameIDs[i], ID: nameIDs[i+1]})
	}
	return st
}

// Recorder is a client.Reporter that keeps every update.
type Recorder struct {
	mu      sync.Mutex
	Updates []Update
	Reasons []string
}

type Update struct {
	Status   model.JobStatus
	Progress float64
}

func (r *Recorder) Report(_ context.Context, st model.JobStatus, progress float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates = append(r.Updates, Update{Status: st, Progress: progress})
}

func (r *Recorder) Fail(_ context.Context, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Reasons = append(r.Reasons, reason)
	r.Updates = append(r.Updates, Update{Status: model.JobStatusError})
}

// Last returns the most recent update.
func (r *Recorder) Last() (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Updates) == 0 {
		return Update{}, false
	}
	return r.Updates[len(r.Updates)-1], true
}
