package plugins

import (
	"context"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/params"
	"github.com/vidlens/engine/internal/pipeline"
	"github.com/vidlens/engine/internal/plugin"
)

func AudioRMS() plugin.Descriptor {
	return plugin.Descriptor{
		Name: "audio_rms",
		Params: params.Spec{
			"timeline": params.String("Audio RMS"),
			"sr":       params.Int(24000),
		},
		Steps:    2,
		Pipeline: audioRMS{},
	}
}

type audioRMS struct{}

func (audioRMS) Execute(ctx context.Context, env *plugin.Env) error {
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

	rms, err := env.Runner.RunStep(ctx, pipeline.StepRequest{
		Plugin:     "audio_rms_analysis",
		Parameters: map[string]any{"sr": env.Params.Int("sr")},
		Inputs:     audio.Outputs,
		Downloads:  []string{"rms"},
	})
	if err != nil {
		return err
	}
	defer rms.Close()

	_, err = env.Persist(ctx, env.Params.String("timeline"), model.ResultTypeScalar, rms.Downloads["rms"])
	return err
}

func (audioRMS) Materialize(ctx context.Context, results []*model.PluginResult, artifacts client.StorageClient) (any, error) {
	return readScalar(ctx, results, artifacts)
}
