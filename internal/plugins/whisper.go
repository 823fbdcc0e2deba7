package plugins

import (
	"context"
	"fmt"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/pipeline"
	"github.com/vidlens/engine/internal/plugin"
)

func Whisper() plugin.Descriptor {
	return plugin.Descriptor{
		Name:     "whisper",
		Steps:    2,
		Pipeline: whisper{},
	}
}

type whisper struct{}

func (whisper) Execute(ctx context.Context, env *plugin.Env) error {
	videoID, err := env.Runner.UploadSubject(ctx, env.Subject)
	if err != nil {
		return err
	}

	audio, err := env.Runner.RunStep(ctx, pipeline.StepRequest{
		Plugin:  "video_to_audio",
		Inputs:  map[string]string{"video": videoID},
		Outputs: []string{"audio"},
	})
	if err != nil {
		return err
	}
	defer audio.Close()

	transcript, err := env.Runner.RunStep(ctx, pipeline.StepRequest{
		Plugin:    "whisper",
		Inputs:    audio.Outputs,
		Downloads: []string{"annotations"},
	})
	if err != nil {
		return err
	}
	defer transcript.Close()

	_, err = env.Persist(ctx, "Transcript", model.ResultTypeTranscript, transcript.Downloads["annotations"])
	return err
}

func (whisper) Materialize(ctx context.Context, results []*model.PluginResult, artifacts client.StorageClient) (any, error) {
	result, ok := plugin.FindResult(results, model.ResultTypeTranscript)
	if !ok {
		return nil, fmt.Errorf("no transcript result")
	}
	var data AnnotationData
	if err := plugin.ReadArtifact(ctx, artifacts, result, &data); err != nil {
		return nil, err
	}
	return segments(data), nil
}
