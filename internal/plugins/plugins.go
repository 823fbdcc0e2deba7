// Package plugins holds the built-in analysis job types.
package plugins

import (
	"github.com/vidlens/engine/internal/plugin"
)

// Builtins returns the descriptors of every built-in job type.
func Builtins() []plugin.Descriptor {
	return []plugin.Descriptor{
		ShotDetection(),
		AudioRMS(),
		Whisper(),
		InsightfaceFacesize(),
		ShotDensity(),
		AggregateScalar(),
		ShotScalarAnnotation(),
	}
}

// Register builds the process registry from the built-ins plus extra.
func Register(extra ...plugin.Descriptor) (*plugin.Registry, error) {
	return plugin.NewRegistry(append(Builtins(), extra...)...)
}
