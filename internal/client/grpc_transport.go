package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/vidlens/engine/internal/config"
	"github.com/vidlens/engine/internal/model"
)

const (
	serviceName = "analyser.Analyser"

	methodListPlugins     = "/" + serviceName + "/ListPlugins"
	methodUploadData      = "/" + serviceName + "/UploadData"
	methodUploadFile      = "/" + serviceName + "/UploadFile"
	methodRunPlugin       = "/" + serviceName + "/RunPlugin"
	methodGetPluginStatus = "/" + serviceName + "/GetPluginStatus"
	methodDownloadData    = "/" + serviceName + "/DownloadData"

	codecName = "json"
	chunkSize = 128 * 1024
)

// jsonCodec lets the analyser channel carry plain Go structs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

var (
	uploadFileDesc = grpc.StreamDesc{
		StreamName:    "UploadFile",
		ClientStreams: true,
	}
	downloadDataDesc = grpc.StreamDesc{
		StreamName:    "DownloadData",
		ServerStreams: true,
	}
)

// GRPCTransport talks to the analysis service over gRPC.
type GRPCTransport struct {
	conn        *grpc.ClientConn
	callTimeout time.Duration
}

// NewGRPCTransport creates a client for the configured analyser. Connection
// establishment is lazy.
func NewGRPCTransport(cfg *config.AnalyserConfig, opts ...grpc.DialOption) (*GRPCTransport, error) {
	return newGRPCTransport(cfg.Target(), time.Duration(cfg.CallTimeout)*time.Second, cfg.MaxMessageMB*1024*1024, opts...)
}

func newGRPCTransport(target string, callTimeout time.Duration, maxMsg int, opts ...grpc.DialOption) (*GRPCTransport, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(maxMsg),
			grpc.MaxCallSendMsgSize(maxMsg),
		),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyser client for %s: %w", target, err)
	}

	return &GRPCTransport{conn: conn, callTimeout: callTimeout}, nil
}

func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

func (t *GRPCTransport) invoke(ctx context.Context, method string, req, resp any) error {
	if t.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.callTimeout)
		defer cancel()
	}
	return t.conn.Invoke(ctx, method, req, resp)
}

func (t *GRPCTransport) ListPlugins(ctx context.Context) ([]model.PluginInfo, error) {
	var resp listPluginsResponse
	if err := t.invoke(ctx, methodListPlugins, &listPluginsRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Plugins, nil
}

func (t *GRPCTransport) UploadData(ctx context.Context, data []byte, dataType string) (string, error) {
	var resp uploadDataResponse
	req := &uploadDataRequest{Type: dataType, Data: data}
	if err := t.invoke(ctx, methodUploadData, req, &resp); err != nil {
		return "", err
	}
	return resp.DataID, nil
}

// UploadFile streams a local file in fixed-size chunks.
func (t *GRPCTransport) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := t.conn.NewStream(ctx, &uploadFileDesc, methodUploadFile)
	if err != nil {
		return "", err
	}

	var resp uploadDataResponse
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	buf := make([]byte, chunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := &uploadDataRequest{Type: "video", Ext: ext, Data: buf[:n]}
			if err := stream.SendMsg(chunk); err != nil {
				// io.EOF means the server ended the stream; its status
				// is only available from RecvMsg.
				if errors.Is(err, io.EOF) {
					return "", stream.RecvMsg(&resp)
				}
				return "", err
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return "", readErr
		}
	}

	if err := stream.CloseSend(); err != nil {
		return "", err
	}
	if err := stream.RecvMsg(&resp); err != nil {
		return "", err
	}
	return resp.DataID, nil
}

func (t *GRPCTransport) RunPlugin(ctx context.Context, plugin string, inputs []model.NamedID, parameters []model.NamedValue) (string, error) {
	var resp runPluginResponse
	req := &runPluginRequest{Plugin: plugin, Inputs: inputs, Parameters: parameters}
	if err := t.invoke(ctx, methodRunPlugin, req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

func (t *GRPCTransport) GetPluginStatus(ctx context.Context, jobID string) (*model.PluginStatus, error) {
	var resp model.PluginStatus
	if err := t.invoke(ctx, methodGetPluginStatus, &getPluginStatusRequest{JobID: jobID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *GRPCTransport) DownloadData(ctx context.Context, dataID string, w io.Writer) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := t.conn.NewStream(ctx, &downloadDataDesc, methodDownloadData)
	if err != nil {
		return "", err
	}
	if err := stream.SendMsg(&downloadDataRequest{DataID: dataID}); err != nil {
		if errors.Is(err, io.EOF) {
			return "", stream.RecvMsg(&dataChunk{})
		}
		return "", err
	}
	if err := stream.CloseSend(); err != nil {
		return "", err
	}

	var dataType string
	for {
		var chunk dataChunk
		err := stream.RecvMsg(&chunk)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if chunk.Type != "" {
			dataType = chunk.Type
		}
		if _, err := w.Write(chunk.Data); err != nil {
			return "", err
		}
	}
	return dataType, nil
}
