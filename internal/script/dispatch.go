package script

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Dispatcher turns loosely-typed host requests into typed calls on instances
type Dispatcher struct {
	instances *Instances
}

// NewDispatcher creates a dispatcher over an instance registry
func NewDispatcher(instances *Instances) *Dispatcher {
	return &Dispatcher{instances: instances}
}

// Instances returns the registry the dispatcher resolves against
func (d *Dispatcher) Instances() *Instances {
	return d.instances
}

// acquire enters the reload gate for the call chain of ctx, resolves id and
// locks it. The returned context marks the chain as inside the gate and must
// be handed to any script code run under the lock.
func (d *Dispatcher) acquire(ctx context.Context, id ObjectID, exclusive bool) (context.Context, *Instance, func(), error) {
	ctx, leave := d.instances.enter(ctx)
	inst, unlock, err := d.lock(id, exclusive)
	if err != nil {
		leave()
		return ctx, nil, nil, err
	}
	return ctx, inst, func() {
		unlock()
		leave()
	}, nil
}

// lock resolves id and takes its instance lock without the reload gate.
// Introspection uses it directly since it never runs script code.
func (d *Dispatcher) lock(id ObjectID, exclusive bool) (*Instance, func(), error) {
	inst := d.instances.lookup(id)
	if inst == nil {
		return nil, nil, instanceNotFound(id)
	}
	if exclusive {
		inst.mu.Lock()
	} else {
		inst.mu.RLock()
	}
	unlock := func() {
		if exclusive {
			inst.mu.Unlock()
		} else {
			inst.mu.RUnlock()
		}
	}
	if inst.destroyed.Load() {
		unlock()
		return nil, nil, instanceNotFound(id)
	}
	return inst, unlock, nil
}

// GetProperty reads a property. Reads never mutate state.
func (d *Dispatcher) GetProperty(ctx context.Context, id ObjectID, name string) (cty.Value, error) {
	_, inst, release, err := d.acquire(ctx, id, false)
	if err != nil {
		return cty.NilVal, err
	}
	defer release()

	v, ok := inst.state.props[name]
	if !ok {
		return cty.NilVal, unknownMember(inst.state.desc.Name, name, id, "property")
	}
	return v, nil
}

// SetProperty writes a property after coercing value to its declared type.
// A failed write leaves the previous value in place.
func (d *Dispatcher) SetProperty(ctx context.Context, id ObjectID, name string, value cty.Value) error {
	_, inst, release, err := d.acquire(ctx, id, true)
	if err != nil {
		return err
	}
	defer release()

	state := inst.state
	class := state.desc.Name
	t, ok := state.desc.PropertyType(name)
	if !ok {
		if _, kept := state.props[name]; !kept || !state.placeholder {
			return unknownMember(class, name, id, "property")
		}
		t = TypeVariant
	}
	out, ok := coerce(value, t)
	if !ok {
		terr := NewTypeMismatch(class, name, noArg, t, TypeOf(value))
		terr.Object = id
		LogDispatch(slog.LevelDebug, "Property write rejected", id, class, name, slog.String("error", terr.Error()))
		return terr
	}
	state.props[name] = out
	return nil
}

// CallMethod invokes a script method. Methods resolve by name and arity;
// a call with the wrong number of arguments is an unknown member.
func (d *Dispatcher) CallMethod(ctx context.Context, id ObjectID, name string, args ...cty.Value) (cty.Value, error) {
	result, signals, err := d.callMethod(ctx, id, name, args)
	d.instances.flush(ctx, signals)
	return result, err
}

func (d *Dispatcher) callMethod(ctx context.Context, id ObjectID, name string, args []cty.Value) (cty.Value, []Signal, error) {
	for {
		// Resolve mutability first so the right lock is taken.
		inst, err := d.instances.Get(id)
		if err != nil {
			return cty.NilVal, nil, err
		}
		desc, err := inst.Descriptor()
		if err != nil {
			return cty.NilVal, nil, instanceNotFound(id)
		}
		exclusive := true
		if m, ok := desc.Method(name); ok && !m.Mutable {
			exclusive = false
		}

		ctx, inst, release, err := d.acquire(ctx, id, exclusive)
		if err != nil {
			return cty.NilVal, nil, err
		}
		if m, ok := inst.state.desc.Method(name); ok && m.Mutable && !exclusive {
			// A reload made the method mutating between resolve and lock.
			release()
			continue
		}
		result, signals, err := d.callLocked(ctx, inst, name, args)
		release()
		return result, signals, err
	}
}

func (d *Dispatcher) callLocked(ctx context.Context, inst *Instance, name string, args []cty.Value) (cty.Value, []Signal, error) {
	id := inst.owner.ID
	state := inst.state
	class := state.desc.Name
	if state.placeholder {
		return cty.NilVal, nil, placeholderMember(class, name, id)
	}
	method, ok := state.desc.Method(name)
	if !ok {
		return cty.NilVal, nil, unknownMember(class, name, id, "method")
	}
	if len(args) != method.Arity() {
		return cty.NilVal, nil, arityMismatch(class, name, id, len(args), method.Arity())
	}
	coerced, err := coerceArgs(class, name, id, args, method.Params)
	if err != nil {
		return cty.NilVal, nil, err
	}

	result, call, err := invoke(ctx, inst, state, name, method.Impl, coerced, method.Params, method.Return, method.Mutable)
	if err != nil {
		d.report(id, class, name, err)
		return cty.NilVal, nil, err
	}
	return result, call.signals, nil
}

func arityMismatch(class, member string, id ObjectID, got, want int) *ScriptError {
	err := NewScriptError(ErrorTypeUnknownMember, class, member,
		fmt.Sprintf("%s has no member %q taking %d arguments (declared with %d)", class, member, got, want), nil)
	err.Object = id
	err.Arity = &ArityMismatch{Got: got, Want: want}
	return err
}

// CallHook runs a lifecycle hook. It reports false when the class does not
// implement the hook, which is not an error.
func (d *Dispatcher) CallHook(ctx context.Context, id ObjectID, hook Hook, args ...cty.Value) (bool, error) {
	handled, signals, err := d.callHook(ctx, id, hook, args)
	d.instances.flush(ctx, signals)
	return handled, err
}

func (d *Dispatcher) callHook(ctx context.Context, id ObjectID, hook Hook, args []cty.Value) (bool, []Signal, error) {
	if !hook.Valid() {
		return false, nil, unknownMember("", string(hook), id, "lifecycle hook")
	}
	ctx, inst, release, err := d.acquire(ctx, id, true)
	if err != nil {
		return false, nil, err
	}
	defer release()

	state := inst.state
	class := state.desc.Name
	fn, ok := state.desc.Hooks[hook]
	if !ok || state.placeholder {
		return false, nil, nil
	}
	params := hook.Params()
	if len(args) != len(params) {
		return false, nil, arityMismatch(class, string(hook), id, len(args), len(params))
	}
	coerced, err := coerceArgs(class, string(hook), id, args, params)
	if err != nil {
		return false, nil, err
	}

	_, call, err := invoke(ctx, inst, state, string(hook), fn, coerced, params, TypeNil, true)
	if err != nil {
		d.report(id, class, string(hook), err)
		return true, nil, err
	}
	return true, call.signals, nil
}

func coerceArgs(class, member string, id ObjectID, args []cty.Value, params []Param) ([]cty.Value, error) {
	out := make([]cty.Value, len(args))
	for i, a := range args {
		v, ok := coerce(a, params[i].Type)
		if !ok {
			err := NewTypeMismatch(class, member, i, params[i].Type, TypeOf(a))
			err.Object = id
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func placeholderMember(class, member string, id ObjectID) *ScriptError {
	err := NewScriptError(ErrorTypeUnknownMember, class, member,
		fmt.Sprintf("%s is no longer loaded; method %q is unavailable until the class returns", class, member), nil)
	err.Object = id
	return err
}

func (d *Dispatcher) report(id ObjectID, class, member string, err error) {
	level := slog.LevelWarn
	if IsErrorType(err, ErrorTypePropagatedPanic) {
		level = slog.LevelError
	}
	LogDispatch(level, "Script call failed", id, class, member, slog.String("error", err.Error()))
}

// PropertyList returns the property descriptors of the instance's class
func (d *Dispatcher) PropertyList(id ObjectID) ([]PropertyDescriptor, error) {
	inst, release, err := d.lock(id, false)
	if err != nil {
		return nil, err
	}
	defer release()
	return slices.Clone(inst.state.desc.Properties), nil
}

// MethodList returns the method descriptors of the instance's class
func (d *Dispatcher) MethodList(id ObjectID) ([]MethodDescriptor, error) {
	inst, release, err := d.lock(id, false)
	if err != nil {
		return nil, err
	}
	defer release()
	if inst.state.placeholder {
		return nil, nil
	}
	return slices.Clone(inst.state.desc.Methods), nil
}

// SignalList returns the signal descriptors of the instance's class
func (d *Dispatcher) SignalList(id ObjectID) ([]SignalDescriptor, error) {
	inst, release, err := d.lock(id, false)
	if err != nil {
		return nil, err
	}
	defer release()
	return slices.Clone(inst.state.desc.Signals), nil
}

// PropertyState returns a copy of every property value of the instance
func (d *Dispatcher) PropertyState(id ObjectID) (map[string]cty.Value, error) {
	inst, release, err := d.lock(id, false)
	if err != nil {
		return nil, err
	}
	defer release()
	return maps.Clone(inst.state.props), nil
}

// HasMethod reports whether the instance can currently be called with name
func (d *Dispatcher) HasMethod(id ObjectID, name string) (bool, error) {
	inst, release, err := d.lock(id, false)
	if err != nil {
		return false, err
	}
	defer release()
	if inst.state.placeholder {
		return false, nil
	}
	return inst.state.desc.HasMethod(name), nil
}

// InstanceString renders the instance for debugging output
func (d *Dispatcher) InstanceString(id ObjectID) (string, error) {
	inst, release, err := d.lock(id, false)
	if err != nil {
		return "", err
	}
	defer release()

	state := inst.state
	var sb strings.Builder
	sb.WriteString(state.desc.Name)
	if state.placeholder {
		sb.WriteString(" (placeholder)")
	}
	sb.WriteString(" ")
	sb.WriteString(id.String())
	sb.WriteString(" {")
	for i, p := range state.desc.Properties {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Name)
		sb.WriteString(": ")
		sb.WriteString(FormatValue(state.props[p.Name]))
	}
	sb.WriteString("}")
	return sb.String(), nil
}

// CallError is the result code reported back to the host for a call
type CallError string

const (
	CallOK               CallError = "ok"
	CallInvalidMethod    CallError = "invalid_method"
	CallInvalidArgument  CallError = "invalid_argument"
	CallTooManyArguments CallError = "too_many_arguments"
	CallTooFewArguments  CallError = "too_few_arguments"
	CallInstanceIsNull   CallError = "instance_is_null"
	CallMethodNotConst   CallError = "method_not_const"
	CallScriptError      CallError = "script_error"
)

// CallErrorOf maps a dispatch error onto the host's call result code
func CallErrorOf(err error) CallError {
	if err == nil {
		return CallOK
	}
	serr, ok := AsScriptError(err)
	if !ok {
		return CallScriptError
	}
	switch serr.Type {
	case ErrorTypeInstanceNotFound, ErrorTypeStale:
		return CallInstanceIsNull
	case ErrorTypeUnknownMember, ErrorTypeUnknownClass:
		switch {
		case serr.Arity == nil:
			return CallInvalidMethod
		case serr.Arity.Got > serr.Arity.Want:
			return CallTooManyArguments
		default:
			return CallTooFewArguments
		}
	case ErrorTypeTypeMismatch:
		if serr.ArgIndex >= 0 {
			return CallInvalidArgument
		}
		return CallScriptError
	case ErrorTypeReadOnly:
		return CallMethodNotConst
	}
	return CallScriptError
}
