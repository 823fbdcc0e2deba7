package client

import (
	"context"
	"io"

	"github.com/vidlens/engine/internal/model"
)

// Transport is the raw RPC surface of the analysis service. Implementations
// return transport errors as-is; TaskClient translates them.
type Transport interface {
	ListPlugins(ctx context.Context) ([]model.PluginInfo, error)
	UploadData(ctx context.Context, data []byte, dataType string) (string, error)
	UploadFile(ctx context.Context, path string) (string, error)
	RunPlugin(ctx context.Context, plugin string, inputs []model.NamedID, parameters []model.NamedValue) (string, error)
	GetPluginStatus(ctx context.Context, jobID string) (*model.PluginStatus, error)
	// DownloadData streams the blob into w and returns its data type.
	DownloadData(ctx context.Context, dataID string, w io.Writer) (string, error)
}

// Wire messages, JSON encoded on the gRPC channel.

type listPluginsRequest struct{}

type listPluginsResponse struct {
	Plugins []model.PluginInfo `json:"plugins"`
}

type uploadDataRequest struct {
	Type string `json:"type"`
	Ext  string `json:"ext,omitempty"`
	Data []byte `json:"data_encoded"`
}

type uploadDataResponse struct {
	DataID string `json:"data_id"`
}

type runPluginRequest struct {
	Plugin     string             `json:"plugin"`
	Inputs     []model.NamedID    `json:"inputs"`
	Parameters []model.NamedValue `json:"parameters"`
}

type runPluginResponse struct {
	JobID string `json:"job_id"`
}

type getPluginStatusRequest struct {
	JobID string `json:"job_id"`
}

type downloadDataRequest struct {
	DataID string `json:"data_id"`
}

type dataChunk struct {
	Type string `json:"type"`
	Data []byte `json:"data_encoded"`
}
