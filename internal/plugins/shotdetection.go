package plugins

import (
	"context"
	"fmt"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/params"
	"github.com/vidlens/engine/internal/pipeline"
	"github.com/vidlens/engine/internal/plugin"
)

func ShotDetection() plugin.Descriptor {
	return plugin.Descriptor{
		Name: "shotdetection",
		Params: params.Spec{
			"timeline": params.String("Shots"),
		},
		Steps:    1,
		Pipeline: shotDetection{},
	}
}

type shotDetection struct{}

func (shotDetection) Execute(ctx context.Context, env *plugin.Env) error {
	videoID, err := env.Runner.UploadSubject(ctx, env.Subject)
	if err != nil {
		return err
	}

	res, err := env.Runner.RunStep(ctx, pipeline.StepRequest{
		Plugin:    "transnet_shotdetection",
		Inputs:    map[string]string{"video": videoID},
		Downloads: []string{"shots"},
	})
	if err != nil {
		return err
	}
	defer res.Close()

	_, err = env.Persist(ctx, env.Params.String("timeline"), model.ResultTypeShots, res.Downloads["shots"])
	return err
}

func (shotDetection) Materialize(ctx context.Context, results []*model.PluginResult, artifacts client.StorageClient) (any, error) {
	result, ok := plugin.FindResult(results, model.ResultTypeShots)
	if !ok {
		return nil, fmt.Errorf("no shots result")
	}
	var data ShotsData
	if err := plugin.ReadArtifact(ctx, artifacts, result, &data); err != nil {
		return nil, err
	}
	return data.Shots, nil
}
