package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReloadState is the hot-reload coordinator's state machine position
type ReloadState string

const (
	StateIdle      ReloadState = "idle"
	StateReloading ReloadState = "reloading"
	StateMigrating ReloadState = "migrating"
	StateFailed    ReloadState = "failed"
)

// MigrationLoss records a property reset to its default because the carried
// value could not be coerced to the property's new type.
type MigrationLoss struct {
	Object   ObjectID    `json:"object"`
	Class    string      `json:"class"`
	Property string      `json:"property"`
	From     VariantType `json:"from"`
	To       VariantType `json:"to"`
}

// Err returns the loss as a warning-level error
func (l MigrationLoss) Err() error {
	err := NewScriptError(ErrorTypePropertyMigrationLoss, l.Class, l.Property,
		fmt.Sprintf("%s.%s on object %s changed from %s to %s and was reset to its default", l.Class, l.Property, l.Object, l.From, l.To), nil)
	err.Object = l.Object
	return err
}

// MigrationFailure records an instance left on its previous state
type MigrationFailure struct {
	Object ObjectID `json:"object"`
	Class  string   `json:"class"`
	Error  string   `json:"error"`
}

// ReloadReport summarizes one reload attempt
type ReloadReport struct {
	ID                 uuid.UUID          `json:"id"`
	Ref                string             `json:"ref"`
	State              ReloadState        `json:"state"`
	PreviousGeneration uint64             `json:"previous_generation"`
	Generation         uint64             `json:"generation"`
	Classes            []string           `json:"classes"`
	Migrated           int                `json:"migrated"`
	Skipped            int                `json:"skipped"`
	Placeholders       []ObjectID         `json:"placeholders,omitempty"`
	Revived            []ObjectID         `json:"revived,omitempty"`
	Losses             []MigrationLoss    `json:"losses,omitempty"`
	Failures           []MigrationFailure `json:"failures,omitempty"`
	Error              string             `json:"error,omitempty"`
	StartedAt          time.Time          `json:"started_at"`
	Duration           time.Duration      `json:"duration"`
}

// ErrQueueFull is returned by Enqueue when reload requests are backed up
var ErrQueueFull = errors.New("reload queue is full")

const reloadQueueSize = 16

// Coordinator rebuilds metadata on request and migrates live instances in place
type Coordinator struct {
	metadata  *Metadata
	instances *Instances
	loader    ModuleLoader

	// reloadMu serializes reloads
	reloadMu sync.Mutex

	mu        sync.RWMutex
	state     ReloadState
	last      *ReloadReport
	listeners []func(*ReloadReport)

	queue chan string
}

// NewCoordinator creates a coordinator that loads modules through loader
func NewCoordinator(instances *Instances, loader ModuleLoader) *Coordinator {
	return &Coordinator{
		metadata:  instances.Metadata(),
		instances: instances,
		loader:    loader,
		state:     StateIdle,
		queue:     make(chan string, reloadQueueSize),
	}
}

// State returns the current state
func (c *Coordinator) State() ReloadState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastReport returns the report of the most recent reload, if any
func (c *Coordinator) LastReport() *ReloadReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// OnReport registers fn to receive every finished reload report
func (c *Coordinator) OnReport(fn func(*ReloadReport)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Coordinator) setState(s ReloadState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Enqueue queues a reload of ref for Run to process
func (c *Coordinator) Enqueue(ref string) error {
	select {
	case c.queue <- ref:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes queued reload requests one at a time until ctx is done
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ref := <-c.queue:
			// Reload failures are reported through listeners and logs.
			_, _ = c.Reload(ctx, ref)
		}
	}
}

// Reload loads a new snapshot from ref, publishes it once in-flight dispatch
// has drained, then migrates every live instance under its own lock. A load
// failure leaves the previous snapshot active.
func (c *Coordinator) Reload(ctx context.Context, ref string) (*ReloadReport, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	report := &ReloadReport{
		ID:        uuid.New(),
		Ref:       ref,
		StartedAt: time.Now(),
	}
	if prev := c.metadata.Current(); prev != nil {
		report.PreviousGeneration = prev.Generation
	}

	c.setState(StateReloading)
	LogHotReloadEvent("started", ref, report.PreviousGeneration, true, nil)

	snap, err := c.metadata.Load(ctx, c.loader, ref)
	if err != nil {
		rerr := NewScriptError(ErrorTypeReloadFailed, "", "", fmt.Sprintf("reload of %q failed, keeping generation %d", ref, report.PreviousGeneration), err)
		return c.finish(report, StateFailed, rerr)
	}
	report.Generation = snap.Generation
	report.Classes = snap.ListClasses()

	// Barrier: wait for in-flight dispatch, then swap and take the instance list.
	c.instances.gate.Lock()
	c.metadata.Publish(snap)
	live := c.instances.all()
	c.instances.gate.Unlock()

	c.setState(StateMigrating)
	for _, inst := range live {
		c.migrate(ctx, inst, snap, report)
	}

	if len(report.Failures) > 0 {
		rerr := NewScriptError(ErrorTypeReloadFailed, "", "",
			fmt.Sprintf("reload of %q published generation %d but %d instances failed to migrate", ref, snap.Generation, len(report.Failures)), nil)
		return c.finish(report, StateFailed, rerr)
	}
	return c.finish(report, StateIdle, nil)
}

func (c *Coordinator) finish(report *ReloadReport, state ReloadState, err error) (*ReloadReport, error) {
	report.State = state
	report.Duration = time.Since(report.StartedAt)
	if err != nil {
		report.Error = err.Error()
	}

	c.mu.Lock()
	c.state = state
	c.last = report
	listeners := append([]func(*ReloadReport){}, c.listeners...)
	c.mu.Unlock()

	LogHotReloadEvent("completed", report.Ref, report.Generation, err == nil, err,
		slog.Int("migrated", report.Migrated),
		slog.Int("losses", len(report.Losses)),
		slog.Int("placeholders", len(report.Placeholders)),
		slog.Int("failures", len(report.Failures)),
	)
	for _, fn := range listeners {
		fn(report)
	}
	return report, err
}

// migrate moves one instance onto snap. Only this instance is locked.
func (c *Coordinator) migrate(ctx context.Context, inst *Instance, snap *Snapshot, report *ReloadReport) {
	inst.mu.Lock()
	signals, done := c.migrateLocked(ctx, inst, snap, report)
	inst.mu.Unlock()

	if done {
		c.instances.flush(ctx, signals)
	}
}

func (c *Coordinator) migrateLocked(ctx context.Context, inst *Instance, snap *Snapshot, report *ReloadReport) ([]Signal, bool) {
	if inst.destroyed.Load() {
		return nil, false
	}
	old := inst.state
	id := inst.owner.ID
	if old.desc.Generation == snap.Generation {
		report.Skipped++
		return nil, false
	}

	desc, err := snap.Lookup(old.desc.Name)
	if err != nil {
		// The class is gone; keep the state so a later reload can revive it.
		if !old.placeholder {
			inst.state = &instanceState{
				desc:        old.desc,
				props:       maps.Clone(old.props),
				locals:      maps.Clone(old.locals),
				placeholder: true,
			}
			report.Placeholders = append(report.Placeholders, id)
			LogLifecycle(slog.LevelWarn, "Script class removed, instance kept as placeholder", old.desc.Name,
				slog.Uint64("object_id", uint64(id)))
		}
		return nil, false
	}

	fresh := &instanceState{
		desc:   desc,
		props:  desc.Defaults(),
		locals: maps.Clone(old.locals),
	}
	if fresh.locals == nil {
		fresh.locals = make(map[string]any)
	}

	var signals []Signal
	if fn, ok := desc.Hooks[HookInit]; ok {
		_, call, err := invoke(ctx, inst, fresh, string(HookInit), fn, nil, nil, TypeNil, true)
		if err != nil {
			report.Failures = append(report.Failures, MigrationFailure{Object: id, Class: desc.Name, Error: err.Error()})
			LogDispatch(slog.LevelError, "Instance kept its previous state after init failed", id, desc.Name, string(HookInit),
				slog.String("error", err.Error()))
			return nil, false
		}
		signals = call.signals
	}

	var losses []MigrationLoss
	for _, p := range desc.Properties {
		v, ok := old.props[p.Name]
		if !ok {
			continue
		}
		if out, ok := coerce(v, p.Type); ok {
			fresh.props[p.Name] = out
			continue
		}
		from, declared := old.desc.PropertyType(p.Name)
		if !declared {
			from = TypeOf(v)
		}
		fresh.props[p.Name] = p.Default
		losses = append(losses, MigrationLoss{Object: id, Class: desc.Name, Property: p.Name, From: from, To: p.Type})
	}

	inst.state = fresh
	report.Migrated++
	if old.placeholder {
		report.Revived = append(report.Revived, id)
	}
	for _, loss := range losses {
		LogMigrationLoss(loss)
	}
	report.Losses = append(report.Losses, losses...)
	return signals, true
}
