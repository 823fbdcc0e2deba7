package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/plugin"
)

// Shot is one detected camera shot, in seconds.
type Shot struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type ShotsData struct {
	Shots []Shot `json:"shots"`
}

// ScalarData is a sampled time series.
type ScalarData struct {
	Y         []float64 `json:"y"`
	Time      []float64 `json:"time"`
	DeltaTime float64   `json:"delta_time,omitempty"`
}

func readScalar(ctx context.Context, results []*model.PluginResult, artifacts client.StorageClient) (ScalarData, error) {
	var data ScalarData
	result, ok := plugin.FindResult(results, model.ResultTypeScalar)
	if !ok {
		return data, fmt.Errorf("no scalar result")
	}
	err := plugin.ReadArtifact(ctx, artifacts, result, &data)
	return data, err
}

type Annotation struct {
	Start  float64  `json:"start"`
	End    float64  `json:"end"`
	Labels []string `json:"labels"`
}

type AnnotationData struct {
	Annotations []Annotation `json:"annotations"`
}

// Segment is one transcribed span of speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func segments(data AnnotationData) []Segment {
	out := make([]Segment, 0, len(data.Annotations))
	for _, a := range data.Annotations {
		text := strings.TrimSpace(strings.Join(a.Labels, " "))
		if text == "" {
			continue
		}
		out = append(out, Segment{Start: a.Start, End: a.End, Text: text})
	}
	return out
}

// shotSizeLabels maps facesize classes to display names.
var shotSizeLabels = map[string]string{
	"p_ECU": "Extreme Close-Up",
	"p_CU":  "Close-Up",
	"p_MS":  "Medium Shot",
	"p_FS":  "Full Shot",
	"p_LS":  "Long Shot",
}

func shotSizeLabel(label string) string {
	if name, ok := shotSizeLabels[label]; ok {
		return name
	}
	return label
}
