package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"

	"github.com/nfrund/scriptrt/internal/config"
	"github.com/nfrund/scriptrt/internal/enginesim"
	"github.com/nfrund/scriptrt/internal/extension"
	"github.com/nfrund/scriptrt/internal/pubsub"
	"github.com/nfrund/scriptrt/internal/registry"
	"github.com/nfrund/scriptrt/internal/script"
)

func languages(c *config.Config) []script.ScriptLanguage {
	out := make([]script.ScriptLanguage, 0, len(c.Languages))
	for _, l := range c.Languages {
		out = append(out, script.ScriptLanguage(l))
	}
	return out
}

// loadSnapshot builds a snapshot from the script root without starting the runtime
func loadSnapshot(ctx context.Context, c *config.Config) (*script.Snapshot, error) {
	factory := script.NewFactory(afero.NewOsFs(), script.GetDefaultSecurityLimits())
	loader, err := script.NewLoader(factory, nil, languages(c)...)
	if err != nil {
		return nil, err
	}
	return script.NewMetadata().Load(ctx, loader, c.ScriptRoot)
}

// session is a running runtime attached to the simulated engine
type session struct {
	engine     *enginesim.Engine
	bus        *pubsub.WatermillBridge
	reg        *registry.Registry
	controller *extension.Controller
}

func startSession(ctx context.Context, c *config.Config) (*session, error) {
	engine := enginesim.New()
	bus := pubsub.NewWatermillBridge()
	reg := registry.New(c)

	controller := extension.NewController(extension.Options{
		Config:     c,
		Host:       engine,
		Registry:   reg,
		Bus:        bus,
		ClassDB:    engine,
		SignalSink: engine,
	})
	if err := controller.Initialize(ctx, extension.LevelScene); err != nil {
		bus.Close()
		return nil, err
	}
	return &session{engine: engine, bus: bus, reg: reg, controller: controller}, nil
}

func (s *session) Close(ctx context.Context) error {
	var errs []error
	for _, o := range s.engine.Objects() {
		if err := s.engine.Free(ctx, o.ID); err != nil {
			errs = append(errs, fmt.Errorf("free object %s: %w", o.ID, err))
		}
	}
	errs = append(errs, s.controller.Deinitialize(ctx, extension.LevelScene), s.bus.Close())
	return errors.Join(errs...)
}
