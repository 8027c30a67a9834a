package script

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// Call is the view script code gets of the instance it runs on. Arguments
// are already coerced to their declared types. Property writes are staged
// and only committed when the call returns without error.
type Call struct {
	ctx     context.Context
	inst    *Instance
	state   *instanceState
	member  string
	args    []cty.Value
	params  []Param
	mutable bool

	staged  map[string]cty.Value
	locals  map[string]any
	signals []Signal
}

// Context returns the context of the host request
func (c *Call) Context() context.Context {
	return c.ctx
}

// Owner returns the host object the instance is attached to
func (c *Call) Owner() ObjectID {
	return c.inst.owner.ID
}

// OwnerRef returns the host object with its engine class
func (c *Call) OwnerRef() ObjectRef {
	return c.inst.owner
}

// Class returns the script class name
func (c *Call) Class() string {
	return c.state.desc.Name
}

// Member returns the method or hook being invoked
func (c *Call) Member() string {
	return c.member
}

// Mutable reports whether the call may change instance state
func (c *Call) Mutable() bool {
	return c.mutable
}

// NumArgs returns the number of arguments
func (c *Call) NumArgs() int {
	return len(c.args)
}

// Value returns argument i in its boundary form
func (c *Call) Value(i int) cty.Value {
	if i < 0 || i >= len(c.args) {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	return c.args[i]
}

// Arg returns argument i as a native Go value
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.args) {
		return nil
	}
	hint := TypeVariant
	if i < len(c.params) {
		hint = c.params[i].Type
	}
	return ToNative(c.args[i], hint)
}

// Args returns every argument as native Go values
func (c *Call) Args() []any {
	out := make([]any, len(c.args))
	for i := range c.args {
		out[i] = c.Arg(i)
	}
	return out
}

// Int returns argument i as an int64, or zero
func (c *Call) Int(i int) int64 {
	return asInt(c.Arg(i))
}

// Float returns argument i as a float64, or zero
func (c *Call) Float(i int) float64 {
	return asFloat(c.Arg(i))
}

// String returns argument i as a string, or ""
func (c *Call) String(i int) string {
	s, _ := c.Arg(i).(string)
	return s
}

// Bool returns argument i as a bool, or false
func (c *Call) Bool(i int) bool {
	b, _ := c.Arg(i).(bool)
	return b
}

// Vector2 returns argument i as a Vector2
func (c *Call) Vector2(i int) Vector2 {
	v, _ := c.Arg(i).(Vector2)
	return v
}

// Vector3 returns argument i as a Vector3
func (c *Call) Vector3(i int) Vector3 {
	v, _ := c.Arg(i).(Vector3)
	return v
}

// Object returns argument i as a host object handle
func (c *Call) Object(i int) ObjectID {
	id, _ := c.Arg(i).(ObjectID)
	return id
}

func asInt(x any) int64 {
	switch n := x.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func asFloat(x any) float64 {
	switch n := x.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

// Get returns a property value as seen by this call, including staged writes
func (c *Call) Get(name string) any {
	v, ok := c.value(name)
	if !ok {
		return nil
	}
	hint, _ := c.state.desc.PropertyType(name)
	return ToNative(v, hint)
}

// GetInt returns an int property, or zero
func (c *Call) GetInt(name string) int64 {
	return asInt(c.Get(name))
}

// GetFloat returns a float property, or zero
func (c *Call) GetFloat(name string) float64 {
	return asFloat(c.Get(name))
}

// GetString returns a string property, or ""
func (c *Call) GetString(name string) string {
	s, _ := c.Get(name).(string)
	return s
}

// GetBool returns a bool property, or false
func (c *Call) GetBool(name string) bool {
	b, _ := c.Get(name).(bool)
	return b
}

func (c *Call) value(name string) (cty.Value, bool) {
	if v, ok := c.staged[name]; ok {
		return v, true
	}
	v, ok := c.state.props[name]
	return v, ok
}

// Set stages a property write. It fails on calls not allowed to mutate.
func (c *Call) Set(name string, value any) error {
	if !c.mutable {
		return c.readOnly(name)
	}
	v, err := FromNative(value)
	if err != nil {
		return NewScriptError(ErrorTypeTypeMismatch, c.Class(), name, fmt.Sprintf("%s.%s: unsupported value", c.Class(), name), err)
	}
	return c.SetValue(name, v)
}

// SetValue stages a property write from a boundary value
func (c *Call) SetValue(name string, v cty.Value) error {
	if !c.mutable {
		return c.readOnly(name)
	}
	t, ok := c.state.desc.PropertyType(name)
	if !ok {
		if _, kept := c.state.props[name]; !kept || !c.state.placeholder {
			return unknownMember(c.Class(), name, c.Owner(), "property")
		}
		t = TypeVariant
	}
	out, ok := coerce(v, t)
	if !ok {
		return NewTypeMismatch(c.Class(), name, noArg, t, TypeOf(v))
	}
	if c.staged == nil {
		c.staged = make(map[string]cty.Value)
	}
	c.staged[name] = out
	return nil
}

func (c *Call) readOnly(name string) error {
	err := NewScriptError(ErrorTypeReadOnly, c.Class(), c.member,
		fmt.Sprintf("%s.%s is not mutating and cannot write %q", c.Class(), c.member, name), nil)
	err.Object = c.Owner()
	return err
}

// Local returns private instance state that is not exposed as a property
func (c *Call) Local(name string) any {
	if v, ok := c.locals[name]; ok {
		return v
	}
	return c.state.locals[name]
}

// SetLocal stages a write to private instance state
func (c *Call) SetLocal(name string, value any) error {
	if !c.mutable {
		return c.readOnly(name)
	}
	if c.locals == nil {
		c.locals = make(map[string]any)
	}
	c.locals[name] = value
	return nil
}

// Emit queues a signal. It is delivered after the call releases the instance.
func (c *Call) Emit(name string, args ...any) error {
	sig, ok := c.state.desc.Signal(name)
	if !ok {
		return unknownMember(c.Class(), name, c.Owner(), "signal")
	}
	if len(args) != len(sig.Params) {
		return NewScriptError(ErrorTypeUnknownMember, c.Class(), name,
			fmt.Sprintf("%s signal %q takes %d arguments, got %d", c.Class(), name, len(sig.Params), len(args)), nil)
	}
	values := make([]cty.Value, len(args))
	for i, a := range args {
		v, err := FromNative(a)
		if err != nil {
			return NewScriptError(ErrorTypeTypeMismatch, c.Class(), name, fmt.Sprintf("%s signal %q argument %d", c.Class(), name, i), err)
		}
		out, ok := coerce(v, sig.Params[i].Type)
		if !ok {
			return NewTypeMismatch(c.Class(), name, i, sig.Params[i].Type, TypeOf(v))
		}
		values[i] = out
	}
	c.signals = append(c.signals, Signal{Source: c.Owner(), Class: c.Class(), Name: name, Args: values})
	return nil
}

// Logf writes a script log line tagged with the instance
func (c *Call) Logf(format string, args ...any) {
	LogDispatch(slog.LevelInfo, fmt.Sprintf(format, args...), c.Owner(), c.Class(), c.member,
		slog.String("source", "script"))
}

// commit applies staged writes; the caller holds the instance lock exclusively
func (c *Call) commit() {
	for name, v := range c.staged {
		c.state.props[name] = v
	}
	for name, v := range c.locals {
		c.state.locals[name] = v
	}
}

// invoke runs fn against state with panic containment. The caller holds the
// instance lock, exclusively when mutable is set.
func invoke(ctx context.Context, inst *Instance, state *instanceState, member string, fn MethodFunc, args []cty.Value, params []Param, ret VariantType, mutable bool) (result cty.Value, call *Call, err error) {
	call = &Call{
		ctx:     ctx,
		inst:    inst,
		state:   state,
		member:  member,
		args:    args,
		params:  params,
		mutable: mutable,
	}
	class := state.desc.Name
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			perr := NewScriptError(ErrorTypePropagatedPanic, class, member,
				fmt.Sprintf("%s.%s panicked: %v", class, member, r), nil)
			perr.Object = inst.owner.ID
			perr.Stack = string(debug.Stack())
			result, err = cty.NilVal, perr
			call.signals = nil
		}
		scriptLogger.LogPerformance(class, member, time.Since(start), err == nil)
	}()

	out, ferr := fn(call)
	if ferr != nil {
		if serr, ok := AsScriptError(ferr); ok {
			if serr.Object == 0 {
				serr.Object = inst.owner.ID
			}
			return cty.NilVal, call, serr
		}
		serr := NewScriptError(ErrorTypeScriptFailure, class, member, fmt.Sprintf("%s.%s failed", class, member), ferr)
		serr.Object = inst.owner.ID
		return cty.NilVal, call, serr
	}

	result = cty.NullVal(cty.DynamicPseudoType)
	if ret != TypeNil {
		v, cerr := FromNative(out)
		if cerr != nil {
			terr := NewTypeMismatch(class, member, noArg, ret, VariantType(fmt.Sprintf("%T", out)))
			terr.Object = inst.owner.ID
			return cty.NilVal, call, terr
		}
		coerced, ok := coerce(v, ret)
		if !ok {
			terr := NewTypeMismatch(class, member, noArg, ret, TypeOf(v))
			terr.Object = inst.owner.ID
			return cty.NilVal, call, terr
		}
		result = coerced
	}

	if mutable {
		call.commit()
	}
	return result, call, nil
}
