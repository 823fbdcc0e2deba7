package plugins

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/params"
	"github.com/vidlens/engine/internal/pipeline"
	"github.com/vidlens/engine/internal/plugin"
)

// AggregateScalar merges several scalar results of the same subject into one
// series.
func AggregateScalar() plugin.Descriptor {
	return plugin.Descriptor{
		Name: "aggregate_scalar",
		Params: params.Spec{
			"timeline":     params.String("Aggregated Timeline"),
			"timeline_ids": params.Required(params.StringList()),
			"aggregation":  params.String("mean"),
		},
		Steps:    1,
		Pipeline: aggregateScalar{},
	}
}

type aggregateScalar struct{}

// ListData is the analyser's container for a list of documents.
type ListData struct {
	Data []json.RawMessage `json:"data"`
}

func (aggregateScalar) Execute(ctx context.Context, env *plugin.Env) error {
	ids := env.Params.Strings("timeline_ids")
	if len(ids) == 0 {
		return fmt.Errorf("%w: no scalar results to aggregate", plugin.ErrPrecondition)
	}

	// Every referenced result is checked before the first upload.
	refs := make([]*model.PluginResult, 0, len(ids))
	for _, id := range ids {
		ref, err := env.RequireResult(ctx, id, model.ResultTypeScalar)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}

	list := ListData{Data: make([]json.RawMessage, 0, len(refs))}
	for _, ref := range refs {
		var raw json.RawMessage
		if err := plugin.ReadArtifact(ctx, env.Artifacts, ref, &raw); err != nil {
			return err
		}
		list.Data = append(list.Data, raw)
	}

	listID, err := env.Runner.UploadJSON(ctx, list, "list")
	if err != nil {
		return err
	}

	res, err := env.Runner.RunStep(ctx, pipeline.StepRequest{
		Plugin:     "aggregate_scalar",
		Parameters: map[string]any{"aggregation": env.Params.String("aggregation")},
		Inputs:     map[string]string{"timelines": listID},
		Downloads:  []string{"probs"},
	})
	if err != nil {
		return err
	}
	defer res.Close()

	_, err = env.Persist(ctx, env.Params.String("timeline"), model.ResultTypeScalar, res.Downloads["probs"])
	return err
}

func (aggregateScalar) Materialize(ctx context.Context, results []*model.PluginResult, artifacts client.StorageClient) (any, error) {
	return readScalar(ctx, results, artifacts)
}
