package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/vidlens/engine/internal/client"
	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/plugin"
	"github.com/vidlens/engine/internal/store"
)

var ErrAnalyserUnavailable = errors.New("analyser unavailable")

// Catalog answers what can be run and on what.
type Catalog struct {
	registry  *plugin.Registry
	analyser  *client.TaskClient
	subjects  store.SubjectStore
	validator *validator.Validate
}

func NewCatalog(registry *plugin.Registry, analyser *client.TaskClient, subjects store.SubjectStore) *Catalog {
	return &Catalog{
		registry:  registry,
		analyser:  analyser,
		subjects:  subjects,
		validator: validator.New(),
	}
}

// Plugins lists the registered job types.
func (c *Catalog) Plugins() []model.PluginDescription {
	return c.registry.Describe()
}

// AnalyserPlugins lists the capabilities of the remote analysis service.
func (c *Catalog) AnalyserPlugins(ctx context.Context) ([]model.PluginInfo, error) {
	plugins, ok := c.analyser.ListPlugins(ctx)
	if !ok {
		return nil, ErrAnalyserUnavailable
	}
	return plugins, nil
}

// PutSubject registers or replaces subject metadata.
func (c *Catalog) PutSubject(ctx context.Context, subject *model.Subject) error {
	if err := c.validator.Struct(subject); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return c.subjects.PutSubject(ctx, subject)
}

func (c *Catalog) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	return c.subjects.GetSubject(ctx, id)
}
