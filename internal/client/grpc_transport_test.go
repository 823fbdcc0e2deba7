package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vidlens/engine/internal/client/clienttest"
	"github.com/vidlens/engine/internal/model"
)

// analyserServer exposes a clienttest.Transport over the wire protocol.
type analyserServer struct {
	backend *clienttest.Transport
}

type unaryHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unary[Req any](fn func(ctx context.Context, s *analyserServer, req *Req) (any, error)) unaryHandler {
	return func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		return fn(ctx, srv.(*analyserServer), req)
	}
}

var analyserServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListPlugins",
			Handler: unary(func(ctx context.Context, s *analyserServer, _ *listPluginsRequest) (any, error) {
				plugins, err := s.backend.ListPlugins(ctx)
				return &listPluginsResponse{Plugins: plugins}, err
			}),
		},
		{
			MethodName: "UploadData",
			Handler: unary(func(ctx context.Context, s *analyserServer, req *uploadDataRequest) (any, error) {
				id, err := s.backend.UploadData(ctx, req.Data, req.Type)
				return &uploadDataResponse{DataID: id}, err
			}),
		},
		{
			MethodName: "RunPlugin",
			Handler: unary(func(ctx context.Context, s *analyserServer, req *runPluginRequest) (any, error) {
				id, err := s.backend.RunPlugin(ctx, req.Plugin, req.Inputs, req.Parameters)
				return &runPluginResponse{JobID: id}, err
			}),
		},
		{
			MethodName: "GetPluginStatus",
			Handler: unary(func(ctx context.Context, s *analyserServer, req *getPluginStatusRequest) (any, error) {
				return s.backend.GetPluginStatus(ctx, req.JobID)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "UploadFile",
			ClientStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				var buf bytes.Buffer
				for {
					var chunk uploadDataRequest
					err := stream.RecvMsg(&chunk)
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						return err
					}
					buf.Write(chunk.Data)
				}
				id, err := srv.(*analyserServer).backend.UploadData(stream.Context(), buf.Bytes(), "video")
				if err != nil {
					return err
				}
				return stream.SendMsg(&uploadDataResponse{DataID: id})
			},
		},
		{
			StreamName:    "DownloadData",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				var req downloadDataRequest
				if err := stream.RecvMsg(&req); err != nil {
					return err
				}
				var buf bytes.Buffer
				dataType, err := srv.(*analyserServer).backend.DownloadData(stream.Context(), req.DataID, &buf)
				if err != nil {
					return err
				}
				content := buf.Bytes()
				half := len(content) / 2
				if err := stream.SendMsg(&dataChunk{Type: dataType, Data: content[:half]}); err != nil {
					return err
				}
				return stream.SendMsg(&dataChunk{Data: content[half:]})
			},
		},
	},
}

func startAnalyser(t *testing.T, backend *clienttest.Transport) *GRPCTransport {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&analyserServiceDesc, &analyserServer{backend: backend})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	transport, err := newGRPCTransport("passthrough:///bufnet", 5*time.Second, 16<<20,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })
	return transport
}

func TestGRPCTransport_RunAndPoll(t *testing.T) {
	ctx := context.Background()
	backend := clienttest.New().Script("insightface_facesize", clienttest.Running(0.5), clienttest.Done("probs", "probs-7"))
	transport := startAnalyser(t, backend)

	jobID, err := transport.RunPlugin(ctx, "insightface_facesize",
		[]model.NamedID{{Name: "bboxes", ID: "bboxes-1"}},
		[]model.NamedValue{{Name: "fps", Value: 2.0}},
	)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	runs := backend.RunCalls()
	require.Len(t, runs, 1)
	assert.Equal(t, "bboxes-1", runs[0].Inputs[0].ID)
	assert.Equal(t, 2.0, runs[0].Parameters[0].Value)

	st, err := transport.GetPluginStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.RemoteStatusRunning, st.Status)
	assert.Equal(t, 0.5, st.Progress)

	st, err = transport.GetPluginStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.RemoteStatusDone, st.Status)
	id, ok := st.Output("probs")
	assert.True(t, ok)
	assert.Equal(t, "probs-7", id)
}

func TestGRPCTransport_StatusErrorsPassThrough(t *testing.T) {
	transport := startAnalyser(t, clienttest.New())

	_, err := transport.RunPlugin(context.Background(), "missing_plugin", nil, nil)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPCTransport_UploadFileAndDownload(t *testing.T) {
	ctx := context.Background()
	backend := clienttest.New()
	transport := startAnalyser(t, backend)

	content := bytes.Repeat([]byte("0123456789abcdef"), 20000)
	path := filepath.Join(t.TempDir(), "subject.mp4")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	id, err := transport.UploadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, content, backend.Uploads[id])

	var out bytes.Buffer
	dataType, err := transport.DownloadData(ctx, id, &out)
	require.NoError(t, err)
	assert.Equal(t, "json", dataType)
	assert.Equal(t, content, out.Bytes())
}

func TestGRPCTransport_UploadDataAndList(t *testing.T) {
	ctx := context.Background()
	backend := clienttest.New()
	backend.Plugins = []model.PluginInfo{{Name: "whisper", Inputs: []string{"audio"}, Outputs: []string{"annotations"}}}
	transport := startAnalyser(t, backend)

	id, err := transport.UploadData(ctx, []byte(`{"shots":[]}`), "shots")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"shots":[]}`), backend.Uploads[id])

	plugins, err := transport.ListPlugins(ctx)
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, "whisper", plugins[0].Name)
}

func TestGRPCTransport_UnreachableServer(t *testing.T) {
	lis := bufconn.Listen(1024)
	require.NoError(t, lis.Close())

	transport, err := newGRPCTransport("passthrough:///bufnet", 200*time.Millisecond, 1<<20,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	defer transport.Close()

	rec := &clienttest.Recorder{}
	c := NewTaskClient(transport, Options{CacheDir: t.TempDir()}).Bind(rec)
	_, ok := c.GetPluginStatus(context.Background(), "job-1")
	assert.False(t, ok)
	last, _ := rec.Last()
	assert.Equal(t, model.JobStatusError, last.Status)
}

var rejectingUploadDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "UploadFile",
			ClientStreams: true,
			Handler: func(_ any, _ grpc.ServerStream) error {
				return status.Error(codes.ResourceExhausted, "analyser disk full")
			},
		},
	},
}

func TestGRPCTransport_UploadFileRejectedKeepsStatus(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&rejectingUploadDesc, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	transport, err := newGRPCTransport("passthrough:///bufnet", 5*time.Second, 16<<20,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })

	path := filepath.Join(t.TempDir(), "large.mp4")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, 8<<20), 0o600))

	_, err = transport.UploadFile(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, "analyser disk full", status.Convert(err).Message())

	rec := &clienttest.Recorder{}
	c := NewTaskClient(transport, Options{CacheDir: t.TempDir()}).Bind(rec)
	_, ok := c.UploadFile(context.Background(), path)
	assert.False(t, ok)
	require.NotEmpty(t, rec.Reasons)
	assert.Contains(t, rec.Reasons[len(rec.Reasons)-1], "analyser disk full")
}
