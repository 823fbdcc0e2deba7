package plugins

import (
	"context"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/params"
	"github.com/vidlens/engine/internal/pipeline"
	"github.com/vidlens/engine/internal/plugin"
)

func ShotDensity() plugin.Descriptor {
	return plugin.Descriptor{
		Name: "shot_density",
		Params: params.Spec{
			"timeline":         params.String("Shot Density"),
			"shot_timeline_id": params.Required(params.OptionalString()),
			"bandwidth":        params.Int(10),
			"fps":              params.Int(10),
		},
		Steps:    1,
		Pipeline: shotDensity{},
	}
}

type shotDensity struct{}

func (shotDensity) Execute(ctx context.Context, env *plugin.Env) error {
	ref, err := env.RequireResult(ctx, env.Params.String("shot_timeline_id"), model.ResultTypeShots)
	if err != nil {
		return err
	}
	var shots ShotsData
	if err := plugin.ReadArtifact(ctx, env.Artifacts, ref, &shots); err != nil {
		return err
	}

	shotsID, err := env.Runner.UploadJSON(ctx, shots, "shots")
	if err != nil {
		return err
	}

	res, err := env.Runner.RunStep(ctx, pipeline.StepRequest{
		Plugin: "shot_density",
		Parameters: map[string]any{
			"bandwidth": env.Params.Int("bandwidth"),
			"fps":       env.Params.Int("fps"),
		},
		Inputs:    map[string]string{"shots": shotsID},
		Downloads: []string{"shot_density"},
	})
	if err != nil {
		return err
	}
	defer res.Close()

	_, err = env.Persist(ctx, env.Params.String("timeline"), model.ResultTypeScalar, res.Downloads["shot_density"])
	return err
}

func (shotDensity) Materialize(ctx context.Context, results []*model.PluginResult, artifacts client.StorageClient) (any, error) {
	return readScalar(ctx, results, artifacts)
}
