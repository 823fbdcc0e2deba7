package plugins

import (
	"context"
	"encoding/json"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/params"
	"github.com/vidlens/engine/internal/pipeline"
	"github.com/vidlens/engine/internal/plugin"
)

func InsightfaceFacesize() plugin.Descriptor {
	return plugin.Descriptor{
		Name: "insightface_facesize",
		Params: params.Spec{
			"timeline":         params.String("Face Size"),
			"shot_timeline_id": params.OptionalString(),
			"fps":              params.Float(2.0),
		},
		Steps:    3,
		Pipeline: insightfaceFacesize{},
	}
}

type insightfaceFacesize struct{}

// FacesizeResult is the materialized output of a facesize job.
type FacesizeResult struct {
	Probs       json.RawMessage `json:"probs"`
	Annotations []Annotation    `json:"annotations,omitempty"`
}

func (insightfaceFacesize) Execute(ctx context.Context, env *plugin.Env) error {
	// Resolve the shot reference before anything is sent to the analyser.
	var shots *ShotsData
	if env.Params.Has("shot_timeline_id") && env.Params.String("shot_timeline_id") != "" {
		ref, err := env.RequireResult(ctx, env.Params.String("shot_timeline_id"), model.ResultTypeShots)
		if err != nil {
			return err
		}
		shots = &ShotsData{}
		if err := plugin.ReadArtifact(ctx, env.Artifacts, ref, shots); err != nil {
			return err
		}
		env.Runner.Plan(3)
	} else {
		env.Runner.Plan(2)
	}

	videoID, err := env.Runner.UploadSubject(ctx, env.Subject)
	if err != nil {
		return err
	}

	var shotsID string
	if shots != nil {
		if shotsID, err = env.Runner.UploadJSON(ctx, shots, "shots"); err != nil {
			return err
		}
	}

	bboxes, err := env.Runner.RunStep(ctx, pipeline.StepRequest{
		Plugin:     "insightface_video_detector_torch",
		Parameters: map[string]any{"fps": env.Params.Float("fps")},
		Inputs:     map[string]string{"video": videoID},
		Outputs:    []string{"bboxes"},
	})
	if err != nil {
		return err
	}
	defer bboxes.Close()

	probs, err := env.Runner.RunStep(ctx, pipeline.StepRequest{
		Plugin:    "insightface_facesize",
		Inputs:    bboxes.Outputs,
		Outputs:   []string{"probs"},
		Downloads: []string{"probs"},
	})
	if err != nil {
		return err
	}
	defer probs.Close()

	var annotations *pipeline.StepResult
	if shots != nil {
		annotations, err = env.Runner.RunStep(ctx, pipeline.StepRequest{
			Plugin:    "shot_annotator",
			Inputs:    map[string]string{"shots": shotsID, "probs": probs.Outputs["probs"]},
			Downloads: []string{"annotations"},
		})
		if err != nil {
			return err
		}
		defer annotations.Close()
	}

	timeline := env.Params.String("timeline")
	if _, err := env.Persist(ctx, timeline, model.ResultTypeScalar, probs.Downloads["probs"]); err != nil {
		return err
	}
	if annotations != nil {
		if _, err := env.Persist(ctx, timeline, model.ResultTypeAnnotations, annotations.Downloads["annotations"]); err != nil {
			return err
		}
	}
	return nil
}

func (insightfaceFacesize) Materialize(ctx context.Context, results []*model.PluginResult, artifacts client.StorageClient) (any, error) {
	out := FacesizeResult{}
	if r, ok := plugin.FindResult(results, model.ResultTypeScalar); ok {
		if err := plugin.ReadArtifact(ctx, artifacts, r, &out.Probs); err != nil {
			return nil, err
		}
	}
	if r, ok := plugin.FindResult(results, model.ResultTypeAnnotations); ok {
		var data AnnotationData
		if err := plugin.ReadArtifact(ctx, artifacts, r, &data); err != nil {
			return nil, err
		}
		for _, a := range data.Annotations {
			labels := make([]string, len(a.Labels))
			for i, l := range a.Labels {
				labels[i] = shotSizeLabel(l)
			}
			a.Labels = labels
			out.Annotations = append(out.Annotations, a)
		}
	}
	return out, nil
}
