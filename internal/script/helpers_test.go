package script

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

// swapLoader serves whichever module set was installed last
type swapLoader struct {
	mu      sync.Mutex
	modules []Module
	err     error
}

func (l *swapLoader) set(modules ...Module) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modules = modules
	l.err = nil
}

func (l *swapLoader) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *swapLoader) Load(ctx context.Context, ref string) ([]Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.modules, nil
}

// signalRecorder collects delivered signals
type signalRecorder struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *signalRecorder) EmitSignal(ctx context.Context, sig Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
}

func (r *signalRecorder) all() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal(nil), r.signals...)
}

type classTree map[string]string

func (t classTree) IsParentClass(class, parent string) bool {
	for c := class; c != ""; c = t[c] {
		if c == parent {
			return true
		}
	}
	return false
}

var errDenied = errors.New("denied")

// fooModule declares Foo{a int, b string} with a spread of methods
func fooModule(b *ModuleBuilder) {
	c := b.Class("Foo", "Node").Description("test class")
	c.Property("a", TypeInt, 1)
	c.Property("b", TypeString, "x").Doc("label")
	c.Property("pos", TypeVector2, Vector2{X: 1, Y: 2})
	c.Signal("changed", P("value", TypeInt))

	c.Method("get_a", TypeInt, func(c *Call) (any, error) {
		return c.GetInt("a"), nil
	})
	c.Method("add", TypeInt, func(c *Call) (any, error) {
		n := c.GetInt("a") + c.Int(0)
		if err := c.Set("a", n); err != nil {
			return nil, err
		}
		return n, c.Emit("changed", n)
	}, P("n", TypeInt)).Mutating()
	c.Method("scale", TypeFloat, func(c *Call) (any, error) {
		return float64(c.GetInt("a")) * c.Float(0), nil
	}, P("f", TypeFloat))
	c.Method("sneaky_write", TypeNil, func(c *Call) (any, error) {
		return nil, c.Set("a", 42)
	})
	c.Method("write_then_panic", TypeNil, func(c *Call) (any, error) {
		_ = c.Set("a", 1000)
		panic("boom")
	}).Mutating()
	c.Method("write_then_fail", TypeNil, func(c *Call) (any, error) {
		_ = c.Set("a", 1000)
		_ = c.Emit("changed", 1000)
		return nil, errDenied
	}).Mutating()
	c.Method("bad_return", TypeInt, func(c *Call) (any, error) {
		return "not a number", nil
	})
	c.Method("count_calls", TypeInt, func(c *Call) (any, error) {
		n, _ := c.Local("calls").(int)
		n++
		return n, c.SetLocal("calls", n)
	}).Mutating()
	c.OnHook(HookProcess, func(c *Call) (any, error) {
		return nil, c.Set("a", c.GetInt("a")+int64(c.Float(0)*10))
	})
}

// barModule declares a second, independent class
func barModule(b *ModuleBuilder) {
	c := b.Class("Bar", "")
	c.Property("enabled", TypeBool, true)
	c.Method("toggle", TypeBool, func(c *Call) (any, error) {
		v := !c.GetBool("enabled")
		return v, c.Set("enabled", v)
	}).Mutating()
}

func mod(name string, fn func(*ModuleBuilder)) Module {
	return ModuleFunc{ModuleName: name, Fn: fn}
}

type testRuntime struct {
	metadata  *Metadata
	instances *Instances
	dispatch  *Dispatcher
	loader    *swapLoader
	reload    *Coordinator
	signals   *signalRecorder
	ctx       context.Context
}

func newTestRuntime(t *testing.T, modules ...Module) *testRuntime {
	t.Helper()
	rt := &testRuntime{
		metadata: NewMetadata(),
		loader:   &swapLoader{},
		signals:  &signalRecorder{},
		ctx:      context.Background(),
	}
	rt.loader.set(modules...)
	snap, err := rt.metadata.Load(rt.ctx, rt.loader, "scripts")
	require.NoError(t, err)
	rt.metadata.Publish(snap)

	rt.instances = NewInstances(rt.metadata, WithSignalSink(rt.signals), WithClassDB(classTree{"Node2D": "Node", "Node": ""}))
	rt.dispatch = NewDispatcher(rt.instances)
	rt.reload = NewCoordinator(rt.instances, rt.loader)
	return rt
}

func (rt *testRuntime) create(t *testing.T, id ObjectID, class string) *Instance {
	t.Helper()
	inst, err := rt.instances.Create(rt.ctx, ObjectRef{ID: id, Class: "Node2D"}, class)
	require.NoError(t, err)
	return inst
}

func (rt *testRuntime) get(t *testing.T, id ObjectID, name string) cty.Value {
	t.Helper()
	v, err := rt.dispatch.GetProperty(rt.ctx, id, name)
	require.NoError(t, err)
	return v
}

func requireErrorType(t *testing.T, err error, want ErrorType) *ScriptError {
	t.Helper()
	require.Error(t, err)
	serr, ok := AsScriptError(err)
	require.True(t, ok, "expected a ScriptError, got %T: %v", err, err)
	require.Equal(t, want, serr.Type, serr.Error())
	return serr
}
