package script

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"
)

// instanceState is the swappable body of an instance. Migration builds a
// fresh one and replaces it under the instance lock.
type instanceState struct {
	desc        *ClassDescriptor
	props       map[string]cty.Value
	locals      map[string]any
	placeholder bool
}

// Instance is a live script instance attached to a host object. The registry
// owns it; callers only hold it as a handle, and every use after destroy
// reports Stale.
type Instance struct {
	owner   ObjectRef
	id      uuid.UUID
	created time.Time

	mu        sync.RWMutex
	state     *instanceState
	destroyed atomic.Bool
}

func newInstance(owner ObjectRef, desc *ClassDescriptor) *Instance {
	return &Instance{
		owner:   owner,
		id:      uuid.New(),
		created: time.Now(),
		state: &instanceState{
			desc:   desc,
			props:  desc.Defaults(),
			locals: make(map[string]any),
		},
	}
}

// ID returns the host object identity the instance is attached to
func (i *Instance) ID() ObjectID {
	return i.owner.ID
}

// Owner returns the host object reference
func (i *Instance) Owner() ObjectRef {
	return i.owner
}

// UUID is unique per created instance, even across re-attachment
func (i *Instance) UUID() uuid.UUID {
	return i.id
}

// CreatedAt returns when the instance was attached
func (i *Instance) CreatedAt() time.Time {
	return i.created
}

func (i *Instance) stale() error {
	err := NewScriptError(ErrorTypeStale, "", "", fmt.Sprintf("instance for object %s was destroyed", i.owner.ID), nil)
	err.Object = i.owner.ID
	return err
}

// Class returns the class the instance currently runs against
func (i *Instance) Class() (string, error) {
	desc, err := i.Descriptor()
	if err != nil {
		return "", err
	}
	return desc.Name, nil
}

// Descriptor returns the class descriptor version the instance runs against
func (i *Instance) Descriptor() (*ClassDescriptor, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.destroyed.Load() {
		return nil, i.stale()
	}
	return i.state.desc, nil
}

// Generation returns the snapshot generation of the instance's descriptor
func (i *Instance) Generation() (uint64, error) {
	desc, err := i.Descriptor()
	if err != nil {
		return 0, err
	}
	return desc.Generation, nil
}

// IsPlaceholder reports whether the instance lost its class in a reload
func (i *Instance) IsPlaceholder() (bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.destroyed.Load() {
		return false, i.stale()
	}
	return i.state.placeholder, nil
}

// Property returns the current value of a property
func (i *Instance) Property(name string) (cty.Value, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.destroyed.Load() {
		return cty.NilVal, i.stale()
	}
	v, ok := i.state.props[name]
	if !ok {
		return cty.NilVal, unknownMember(i.state.desc.Name, name, i.owner.ID, "property")
	}
	return v, nil
}

// Properties returns a copy of every property value
func (i *Instance) Properties() (map[string]cty.Value, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.destroyed.Load() {
		return nil, i.stale()
	}
	return maps.Clone(i.state.props), nil
}

func unknownMember(class, member string, id ObjectID, kind string) *ScriptError {
	err := NewScriptError(ErrorTypeUnknownMember, class, member, fmt.Sprintf("%s has no %s %q", class, kind, member), nil)
	err.Object = id
	return err
}

func instanceNotFound(id ObjectID) *ScriptError {
	err := NewScriptError(ErrorTypeInstanceNotFound, "", "", fmt.Sprintf("no script instance attached to object %s", id), nil)
	err.Object = id
	return err
}

// InstancesOption configures an instance registry
type InstancesOption func(*Instances)

// WithClassDB enables base-class checks on create
func WithClassDB(db ClassDB) InstancesOption {
	return func(r *Instances) { r.classDB = db }
}

// WithSignalSink sets where signals emitted by scripts are delivered
func WithSignalSink(sink SignalSink) InstancesOption {
	return func(r *Instances) { r.sink = sink }
}

// Instances maps host object identities to live script instances
type Instances struct {
	metadata *Metadata
	classDB  ClassDB
	sink     SignalSink

	// gate is held shared by every dispatch and create, and exclusively by a
	// reload while it swaps snapshots.
	gate sync.RWMutex

	mu        sync.RWMutex
	entries   map[ObjectID]*Instance
	accepting atomic.Bool
}

// NewInstances creates an instance registry resolving classes through metadata
func NewInstances(metadata *Metadata, opts ...InstancesOption) *Instances {
	r := &Instances{
		metadata: metadata,
		entries:  make(map[ObjectID]*Instance),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.accepting.Store(true)
	return r
}

// Metadata returns the metadata registry classes are resolved against
func (r *Instances) Metadata() *Metadata {
	return r.metadata
}

// Create attaches a new instance of class to owner, initialized with the
// class defaults, then runs its init hook.
func (r *Instances) Create(ctx context.Context, owner ObjectRef, class string) (*Instance, error) {
	inst, signals, err := r.create(ctx, owner, class)
	if err != nil {
		return nil, err
	}
	r.flush(ctx, signals)
	return inst, nil
}

func (r *Instances) create(ctx context.Context, owner ObjectRef, class string) (*Instance, []Signal, error) {
	ctx, leave := r.enter(ctx)
	defer leave()

	if !r.accepting.Load() {
		err := NewScriptError(ErrorTypeNotAccepting, class, "", "script runtime is not accepting new instances", nil)
		err.Object = owner.ID
		return nil, nil, err
	}

	desc, err := r.metadata.Lookup(class)
	if err != nil {
		return nil, nil, err
	}

	if desc.Base != "" && r.classDB != nil {
		var msg string
		switch {
		case owner.Class == "":
			msg = fmt.Sprintf("script %q requires a %s but object %s has no engine class", class, desc.Base, owner.ID)
		case !r.classDB.IsParentClass(owner.Class, desc.Base):
			msg = fmt.Sprintf("script %q requires a %s but object %s is a %s", class, desc.Base, owner.ID, owner.Class)
		}
		if msg != "" {
			err := NewScriptError(ErrorTypeIncompatibleBase, class, "", msg, nil)
			err.Object = owner.ID
			return nil, nil, err
		}
	}

	if existing := r.lookup(owner.ID); existing != nil {
		return nil, nil, alreadyAttached(owner.ID, class, existing)
	}

	inst := newInstance(owner, desc)

	// The instance is not yet visible, so init runs without contention.
	var signals []Signal
	if fn, ok := desc.Hooks[HookInit]; ok {
		inst.mu.Lock()
		_, call, err := invoke(ctx, inst, inst.state, string(HookInit), fn, nil, nil, TypeNil, true)
		inst.mu.Unlock()
		if err != nil {
			return nil, nil, err
		}
		signals = call.signals
	}

	r.mu.Lock()
	if existing, ok := r.entries[owner.ID]; ok {
		r.mu.Unlock()
		return nil, nil, alreadyAttached(owner.ID, class, existing)
	}
	r.entries[owner.ID] = inst
	r.mu.Unlock()

	LogLifecycle(slog.LevelDebug, "Script instance created", class,
		slog.Uint64("object_id", uint64(owner.ID)),
		slog.String("instance_id", inst.id.String()),
		slog.Uint64("generation", desc.Generation),
	)
	return inst, signals, nil
}

// gateKey marks a context whose call chain already holds the reload gate
type gateKey struct{}

// enter holds the reload gate shared for the call chain rooted at ctx.
// Dispatch made from inside script code reuses the outer hold, so a reload
// waiting on the gate cannot block it.
func (r *Instances) enter(ctx context.Context) (context.Context, func()) {
	if held, _ := ctx.Value(gateKey{}).(*Instances); held == r {
		return ctx, func() {}
	}
	r.gate.RLock()
	return context.WithValue(ctx, gateKey{}, r), r.gate.RUnlock
}

func alreadyAttached(id ObjectID, class string, existing *Instance) *ScriptError {
	current, _ := existing.Class()
	err := NewScriptError(ErrorTypeAlreadyAttached, class, "",
		fmt.Sprintf("object %s already has a %q script instance", id, current), nil)
	err.Object = id
	return err
}

func (r *Instances) lookup(id ObjectID) *Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// Get returns the instance attached to id
func (r *Instances) Get(id ObjectID) (*Instance, error) {
	if inst := r.lookup(id); inst != nil {
		return inst, nil
	}
	return nil, instanceNotFound(id)
}

// Destroy detaches and drops the instance attached to id. A missing entry
// reports InstanceNotFound, which callers may treat as benign.
func (r *Instances) Destroy(ctx context.Context, id ObjectID) error {
	r.mu.Lock()
	inst, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return instanceNotFound(id)
	}

	// Wait for in-flight calls on this identity before dropping state.
	inst.mu.Lock()
	inst.destroyed.Store(true)
	class := inst.state.desc.Name
	inst.state = &instanceState{desc: inst.state.desc}
	inst.mu.Unlock()

	LogLifecycle(slog.LevelDebug, "Script instance destroyed", class,
		slog.Uint64("object_id", uint64(id)),
		slog.String("instance_id", inst.id.String()),
	)
	return nil
}

// DestroyAll drops every instance and returns how many were destroyed
func (r *Instances) DestroyAll(ctx context.Context) int {
	count := 0
	for _, id := range r.IDs() {
		if err := r.Destroy(ctx, id); err == nil {
			count++
		}
	}
	return count
}

// StopAccepting makes every later Create fail with NotAccepting and waits
// for creates already past the check to finish. It must not be called from
// script code.
func (r *Instances) StopAccepting() {
	r.accepting.Store(false)
	r.gate.Lock()
	r.gate.Unlock()
}

// StartAccepting allows instance creation
func (r *Instances) StartAccepting() {
	r.accepting.Store(true)
}

// Accepting reports whether Create is currently allowed
func (r *Instances) Accepting() bool {
	return r.accepting.Load()
}

// Len returns the number of live instances
func (r *Instances) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IDs returns the identities of every live instance in ascending order
func (r *Instances) IDs() []ObjectID {
	r.mu.RLock()
	ids := slices.Collect(maps.Keys(r.entries))
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// all returns the live instances in identity order
func (r *Instances) all() []*Instance {
	r.mu.RLock()
	out := slices.Collect(maps.Values(r.entries))
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Instance) int {
		switch {
		case a.owner.ID < b.owner.ID:
			return -1
		case a.owner.ID > b.owner.ID:
			return 1
		}
		return 0
	})
	return out
}

// flush delivers signals once no locks are held
func (r *Instances) flush(ctx context.Context, signals []Signal) {
	if r.sink == nil {
		return
	}
	for _, sig := range signals {
		r.sink.EmitSignal(ctx, sig)
	}
}
