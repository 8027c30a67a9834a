package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/afero"

	"github.com/nfrund/scriptrt/internal/config"
	"github.com/nfrund/scriptrt/internal/pubsub"
	"github.com/nfrund/scriptrt/internal/registry"
	"github.com/nfrund/scriptrt/internal/script"
	"github.com/nfrund/scriptrt/internal/watch"
)

// Level is an engine initialization level
type Level int

const (
	LevelCore Level = iota
	LevelServers
	LevelScene
	LevelEditor
)

func (l Level) String() string {
	switch l {
	case LevelCore:
		return "core"
	case LevelServers:
		return "servers"
	case LevelScene:
		return "scene"
	case LevelEditor:
		return "editor"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ErrAlreadyInitialized is returned when Initialize runs twice without Deinitialize
var ErrAlreadyInitialized = errors.New("script runtime already initialized")

// Bus is the event bus the controller publishes to and subscribes on
type Bus interface {
	pubsub.Publisher
	pubsub.Subscriber
}

// Options wires the controller to its collaborators
type Options struct {
	Config   *config.Config
	Host     Host
	Registry *registry.Registry
	// Bus carries reload requests, reports and diagnostics. Required.
	Bus Bus
	// Fs is the filesystem script modules are read from; defaults to the OS.
	Fs afero.Fs
	// Static are compiled-in modules loaded alongside the script root.
	Static     []script.Module
	ClassDB    script.ClassDB
	SignalSink script.SignalSink
	Limits     *script.SecurityLimits
}

// Controller brings the script runtime up and down with the host's
// initialization levels. Only the scene level does any work.
type Controller struct {
	opts Options

	mu      sync.Mutex
	rt      *Runtime
	lang    *Language
	watcher *watch.Watcher
	cancel  context.CancelFunc
	unhook  func()
	wg      sync.WaitGroup
}

// NewController creates a controller; nothing happens until Initialize
func NewController(opts Options) *Controller {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	return &Controller{opts: opts}
}

// Runtime returns the live runtime, or nil when not initialized
func (c *Controller) Runtime() *Runtime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rt
}

// Language returns the registered language, or nil when not initialized
func (c *Controller) Language() *Language {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lang
}

// Initialize registers the language with the host, builds and publishes the
// initial snapshot, arms hot reload and starts accepting instances. A failed
// initial load unregisters the language again and is fatal to the extension.
func (c *Controller) Initialize(ctx context.Context, level Level) error {
	if level != LevelScene {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rt != nil {
		return ErrAlreadyInitialized
	}

	cfg := c.opts.Config
	script.LogSystem(slog.LevelInfo, "Registering script language", slog.String("root", cfg.ScriptRoot))

	rt, err := c.newRuntime()
	if err != nil {
		return err
	}
	// Nothing may attach until the initial snapshot is published.
	rt.Instances.StopAccepting()

	lang := newLanguage(rt)
	if err := c.opts.Host.RegisterScriptLanguage(lang); err != nil {
		return fmt.Errorf("register script language: %w", err)
	}

	snap, err := rt.Metadata.Load(ctx, rt.Loader, cfg.ScriptRoot)
	if err != nil {
		rt.Reporter.Report(ctx, err)
		if uerr := c.opts.Host.UnregisterScriptLanguage(lang); uerr != nil {
			slog.Error("Failed to unregister script language after load failure", "error", uerr)
		}
		return fmt.Errorf("initial script load from %q: %w", cfg.ScriptRoot, err)
	}
	rt.Metadata.Publish(snap)
	script.LogSystem(slog.LevelInfo, "Script metadata published",
		slog.Uint64("generation", snap.Generation),
		slog.Int("classes", snap.Len()),
	)

	if err := c.arm(rt); err != nil {
		c.disarm()
		rt.Metadata.Release()
		if uerr := c.opts.Host.UnregisterScriptLanguage(lang); uerr != nil {
			slog.Error("Failed to unregister script language after arm failure", "error", uerr)
		}
		return fmt.Errorf("arm hot reload: %w", err)
	}

	c.publishServices(rt)
	rt.Instances.StartAccepting()
	c.rt = rt
	c.lang = lang

	script.LogSystem(slog.LevelInfo, "Finished registering script language", slog.Any("classes", snap.ListClasses()))
	return nil
}

// Deinitialize stops accepting instances, destroys the remaining ones,
// releases the metadata, disarms hot reload and unregisters the language.
func (c *Controller) Deinitialize(ctx context.Context, level Level) error {
	if level != LevelScene {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rt := c.rt
	if rt == nil {
		return nil
	}

	script.LogSystem(slog.LevelInfo, "Deregistering script language")
	rt.Instances.StopAccepting()
	destroyed := rt.Instances.DestroyAll(ctx)
	rt.Metadata.Release()
	c.disarm()
	c.withdrawServices()

	err := c.opts.Host.UnregisterScriptLanguage(c.lang)
	c.rt = nil
	c.lang = nil

	script.LogSystem(slog.LevelInfo, "Finished deregistering script language", slog.Int("destroyed", destroyed))
	if err != nil {
		return fmt.Errorf("unregister script language: %w", err)
	}
	return nil
}

func (c *Controller) newRuntime() (*Runtime, error) {
	cfg := c.opts.Config
	limits := script.GetDefaultSecurityLimits()
	if c.opts.Limits != nil {
		limits = *c.opts.Limits
	}

	languages := make([]script.ScriptLanguage, 0, len(cfg.Languages))
	for _, lang := range cfg.Languages {
		languages = append(languages, script.ScriptLanguage(lang))
	}
	loader, err := script.NewLoader(script.NewFactory(c.opts.Fs, limits), c.opts.Static, languages...)
	if err != nil {
		return nil, fmt.Errorf("create script loader: %w", err)
	}

	var instOpts []script.InstancesOption
	if c.opts.ClassDB != nil {
		instOpts = append(instOpts, script.WithClassDB(c.opts.ClassDB))
	}
	if c.opts.SignalSink != nil {
		instOpts = append(instOpts, script.WithSignalSink(c.opts.SignalSink))
	}

	metadata := script.NewMetadata()
	instances := script.NewInstances(metadata, instOpts...)
	return &Runtime{
		Metadata:    metadata,
		Instances:   instances,
		Dispatcher:  script.NewDispatcher(instances),
		Coordinator: script.NewCoordinator(instances, loader),
		Reporter:    script.NewErrorReporter(),
		Loader:      loader,
		Root:        cfg.ScriptRoot,
	}, nil
}

// arm starts the reload loop, bridges the coordinator and error reporter to
// the bus and starts the file watcher when hot reload is enabled.
func (c *Controller) arm(rt *Runtime) error {
	bus := c.opts.Bus
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		rt.Coordinator.Run(ctx)
	}()

	rt.Coordinator.OnReport(func(report *script.ReloadReport) {
		if report.Error != "" {
			rt.Reporter.ReportError(ctx, script.NewScriptError(script.ErrorTypeReloadFailed, "", "", report.Error, nil))
		}
		for _, loss := range report.Losses {
			rt.Reporter.Report(ctx, loss.Err())
		}
		if err := pubsub.Publish(ctx, bus, pubsub.ReloadCompleted, LanguageName, *report); err != nil {
			slog.Error("Failed to publish reload report", "reload_id", report.ID, "error", err)
		}
	})
	rt.Reporter.Subscribe(func(report *script.ErrorReport) {
		if err := pubsub.Publish(ctx, bus, pubsub.Diagnostics, LanguageName, pubsub.DiagnosticFrom(report)); err != nil {
			slog.Error("Failed to publish diagnostic", "error", err)
		}
	})

	// Failed deliveries become diagnostics, except failures handling the
	// diagnostics topic itself.
	if notifier, ok := bus.(pubsub.ErrorNotifier); ok {
		c.unhook = notifier.OnHandlerError(func(ctx context.Context, failure pubsub.HandlerError) {
			if failure.Message.Topic == pubsub.Diagnostics.Name() {
				return
			}
			rt.Reporter.Report(ctx, fmt.Errorf("handling %s from %q: %w", failure.Message.Topic, failure.Message.Source, failure.Err))
		})
	}

	err := pubsub.Subscribe(ctx, bus, pubsub.ReloadRequested, func(ctx context.Context, req pubsub.ReloadRequest, msg pubsub.Message) error {
		ref := req.Ref
		if ref == "" {
			ref = rt.Root
		}
		slog.Debug("Reload requested", "ref", ref, "source", msg.Source, "paths", req.Paths)
		return rt.Coordinator.Enqueue(ref)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", pubsub.ReloadRequested.Name(), err)
	}

	cfg := c.opts.Config
	if !cfg.HotReload {
		slog.Info("Hot-reload disabled, skipping file system watcher setup")
		return nil
	}
	var extensions []string
	for _, lang := range cfg.Languages {
		extensions = append(extensions, script.ScriptLanguage(lang).Extensions()...)
	}
	c.watcher = watch.New(watch.Config{
		Root:       cfg.ScriptRoot,
		Extensions: extensions,
		Debounce:   cfg.ReloadDebounce,
	}, bus)
	return c.watcher.Start(ctx)
}

func (c *Controller) disarm() {
	if c.unhook != nil {
		c.unhook()
		c.unhook = nil
	}
	if c.watcher != nil {
		if err := c.watcher.Stop(); err != nil {
			slog.Error("Failed to stop script watcher", "error", err)
		}
		c.watcher = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.wg.Wait()
}

func (c *Controller) publishServices(rt *Runtime) {
	reg := c.opts.Registry
	if reg == nil {
		return
	}
	registry.Set(reg, registry.MetadataKey, rt.Metadata)
	registry.Set(reg, registry.InstancesKey, rt.Instances)
	registry.Set(reg, registry.DispatcherKey, rt.Dispatcher)
	registry.Set(reg, registry.CoordinatorKey, rt.Coordinator)
	registry.Set(reg, registry.ErrorReporterKey, rt.Reporter)
	registry.Set[pubsub.Publisher](reg, registry.PublisherKey, c.opts.Bus)
	registry.Set[pubsub.Subscriber](reg, registry.SubscriberKey, c.opts.Bus)
}

func (c *Controller) withdrawServices() {
	reg := c.opts.Registry
	if reg == nil {
		return
	}
	registry.Delete(reg, registry.MetadataKey)
	registry.Delete(reg, registry.InstancesKey)
	registry.Delete(reg, registry.DispatcherKey)
	registry.Delete(reg, registry.CoordinatorKey)
	registry.Delete(reg, registry.ErrorReporterKey)
	registry.Delete(reg, registry.PublisherKey)
	registry.Delete(reg, registry.SubscriberKey)
}
