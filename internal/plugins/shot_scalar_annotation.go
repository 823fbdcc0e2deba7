package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/params"
	"github.com/vidlens/engine/internal/pipeline"
	"github.com/vidlens/engine/internal/plugin"
)

// ShotScalarAnnotation labels every shot with the value of a scalar result
// over that shot.
func ShotScalarAnnotation() plugin.Descriptor {
	return plugin.Descriptor{
		Name: "shot_scalar_annotation",
		Params: params.Spec{
			"timeline":           params.String("Shot Scalar Annotation"),
			"shot_timeline_id":   params.Required(params.OptionalString()),
			"scalar_timeline_id": params.Required(params.OptionalString()),
		},
		Steps:    1,
		Pipeline: shotScalarAnnotation{},
	}
}

type shotScalarAnnotation struct{}

// ScalarLabel is one annotated value. Level is the value scaled to [0, 1]
// across the whole result and is zero for labels that are not numbers.
type ScalarLabel struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value,omitempty"`
	Level float64  `json:"level"`
}

type ShotScalar struct {
	Start  float64       `json:"start"`
	End    float64       `json:"end"`
	Labels []ScalarLabel `json:"labels"`
}

func (shotScalarAnnotation) Execute(ctx context.Context, env *plugin.Env) error {
	shotsRef, err := env.RequireResult(ctx, env.Params.String("shot_timeline_id"), model.ResultTypeShots)
	if err != nil {
		return err
	}
	scalarRef, err := env.RequireResult(ctx, env.Params.String("scalar_timeline_id"), model.ResultTypeScalar)
	if err != nil {
		return err
	}

	var shots ShotsData
	if err := plugin.ReadArtifact(ctx, env.Artifacts, shotsRef, &shots); err != nil {
		return err
	}
	var scalar json.RawMessage
	if err := plugin.ReadArtifact(ctx, env.Artifacts, scalarRef, &scalar); err != nil {
		return err
	}

	shotsID, err := env.Runner.UploadJSON(ctx, shots, "shots")
	if err != nil {
		return err
	}
	scalarID, err := env.Runner.UploadJSON(ctx, scalar, "scalar")
	if err != nil {
		return err
	}

	res, err := env.Runner.RunStep(ctx, pipeline.StepRequest{
		Plugin:    "shot_scalar_annotator",
		Inputs:    map[string]string{"shots": shotsID, "scalar": scalarID},
		Downloads: []string{"annotations"},
	})
	if err != nil {
		return err
	}
	defer res.Close()

	_, err = env.Persist(ctx, env.Params.String("timeline"), model.ResultTypeAnnotations, res.Downloads["annotations"])
	return err
}

func (shotScalarAnnotation) Materialize(ctx context.Context, results []*model.PluginResult, artifacts client.StorageClient) (any, error) {
	result, ok := plugin.FindResult(results, model.ResultTypeAnnotations)
	if !ok {
		return nil, fmt.Errorf("no annotations result")
	}
	var data AnnotationData
	if err := plugin.ReadArtifact(ctx, artifacts, result, &data); err != nil {
		return nil, err
	}
	return shotScalars(data), nil
}

func shotScalars(data AnnotationData) []ShotScalar {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, a := range data.Annotations {
		for _, l := range a.Labels {
			if v, err := strconv.ParseFloat(l, 64); err == nil {
				lo, hi = math.Min(lo, v), math.Max(hi, v)
			}
		}
	}

	out := make([]ShotScalar, 0, len(data.Annotations))
	for _, a := range data.Annotations {
		shot := ShotScalar{Start: a.Start, End: a.End, Labels: make([]ScalarLabel, 0, len(a.Labels))}
		for _, l := range a.Labels {
			v, err := strconv.ParseFloat(l, 64)
			if err != nil {
				shot.Labels = append(shot.Labels, ScalarLabel{Name: l})
				continue
			}
			rounded := math.Round(v*1000) / 1000
			label := ScalarLabel{Name: strconv.FormatFloat(rounded, 'f', -1, 64), Value: &rounded}
			if hi > lo {
				label.Level = (v - lo) / (hi - lo)
			}
			shot.Labels = append(shot.Labels, label)
		}
		out = append(out, shot)
	}
	return out
}
