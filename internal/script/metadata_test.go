package script

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestMetadata_BuildAndLookup(t *testing.T) {
	m := NewMetadata()
	assert.Nil(t, m.Current())
	assert.Empty(t, m.ListClasses())

	snap, err := m.Build("scripts", []Module{mod("foo.go", fooModule), mod("bar.go", barModule)})
	require.NoError(t, err)
	assert.Nil(t, m.Publish(snap))

	assert.Equal(t, []string{"Bar", "Foo"}, m.ListClasses())
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, uint64(1), snap.Generation)

	desc, err := m.Lookup("Foo")
	require.NoError(t, err)
	assert.Equal(t, "Foo", desc.Name)
	assert.Equal(t, "Node", desc.Base)
	assert.Equal(t, "foo.go", desc.Module)
	assert.Equal(t, uint64(1), desc.Generation)

	prop, ok := desc.Property("a")
	require.True(t, ok)
	assert.Equal(t, TypeInt, prop.Type)
	assert.Equal(t, UsageDefault, prop.Usage)
	assert.True(t, prop.Default.RawEquals(cty.NumberIntVal(1)))

	add, ok := desc.Method("add")
	require.True(t, ok)
	assert.True(t, add.Mutable)
	assert.Equal(t, 1, add.Arity())
	assert.Equal(t, TypeInt, add.Return)

	getA, ok := desc.Method("get_a")
	require.True(t, ok)
	assert.False(t, getA.Mutable)

	assert.True(t, desc.HasHook(HookProcess))
	assert.False(t, desc.HasHook(HookReady))

	_, err = m.Lookup("Missing")
	requireErrorType(t, err, ErrorTypeUnknownClass)
}

func TestMetadata_DuplicateClassAcrossModules(t *testing.T) {
	m := NewMetadata()
	first, err := m.Build("scripts", []Module{mod("foo.go", fooModule)})
	require.NoError(t, err)
	m.Publish(first)

	_, err = m.Build("scripts", []Module{mod("foo.go", fooModule), mod("copy.go", fooModule)})
	serr := requireErrorType(t, err, ErrorTypeDuplicateClassName)
	assert.Equal(t, "Foo", serr.Class)
	assert.Contains(t, serr.Message, "copy.go")

	// Failed builds neither publish nor consume a generation.
	assert.Same(t, first, m.Current())
	next, err := m.Build("scripts", []Module{mod("bar.go", barModule)})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.Generation)
}

func TestMetadata_DuplicateClassWithinModule(t *testing.T) {
	m := NewMetadata()
	_, err := m.Build("scripts", []Module{mod("twice.go", func(b *ModuleBuilder) {
		b.Class("Twice", "")
		b.Class("Twice", "")
	})})
	requireErrorType(t, err, ErrorTypeDuplicateClassName)
}

func TestMetadata_InvalidShape(t *testing.T) {
	noop := func(c *Call) (any, error) { return nil, nil }

	testCases := []struct {
		name     string
		register func(b *ModuleBuilder)
	}{
		{"unknown property type", func(b *ModuleBuilder) {
			b.Class("C", "").Property("p", VariantType("matrix"), nil)
		}},
		{"nil property", func(b *ModuleBuilder) {
			b.Class("C", "").Property("p", TypeNil, nil)
		}},
		{"default not representable", func(b *ModuleBuilder) {
			b.Class("C", "").Property("p", TypeInt, "ten")
		}},
		{"unsupported default", func(b *ModuleBuilder) {
			b.Class("C", "").Property("p", TypeVariant, make(chan int))
		}},
		{"invalid class name", func(b *ModuleBuilder) {
			b.Class("1st", "")
		}},
		{"invalid member name", func(b *ModuleBuilder) {
			b.Class("C", "").Method("do it", TypeNil, noop)
		}},
		{"unknown parameter type", func(b *ModuleBuilder) {
			b.Class("C", "").Method("m", TypeNil, noop, P("x", VariantType("pointer")))
		}},
		{"nil parameter", func(b *ModuleBuilder) {
			b.Class("C", "").Method("m", TypeNil, noop, P("x", TypeNil))
		}},
		{"unknown return type", func(b *ModuleBuilder) {
			b.Class("C", "").Method("m", VariantType("tuple"), noop)
		}},
		{"missing implementation", func(b *ModuleBuilder) {
			b.Class("C", "").Method("m", TypeNil, nil)
		}},
		{"duplicate property", func(b *ModuleBuilder) {
			c := b.Class("C", "")
			c.Property("p", TypeInt, nil)
			c.Property("p", TypeString, nil)
		}},
		{"duplicate method", func(b *ModuleBuilder) {
			c := b.Class("C", "")
			c.Method("m", TypeNil, noop)
			c.Method("m", TypeNil, noop, P("x", TypeInt))
		}},
		{"unknown hook", func(b *ModuleBuilder) {
			b.Class("C", "").OnHook(Hook("on_draw"), noop)
		}},
		{"panicking registration", func(b *ModuleBuilder) {
			panic("registration exploded")
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMetadata()
			_, err := m.Build("scripts", []Module{mod("bad.go", tc.register)})
			requireErrorType(t, err, ErrorTypeInvalidScriptShape)
		})
	}
}

func TestMetadata_PanickingRegistrationCapturesStack(t *testing.T) {
	m := NewMetadata()
	_, err := m.Build("scripts", []Module{mod("bad.go", func(b *ModuleBuilder) {
		panic("registration exploded")
	})})
	serr := requireErrorType(t, err, ErrorTypeInvalidScriptShape)
	assert.Contains(t, serr.Message, "registration exploded")
	assert.NotEmpty(t, serr.Stack)
}

func TestMetadata_ZeroDefaults(t *testing.T) {
	m := NewMetadata()
	snap, err := m.Build("scripts", []Module{mod("z.go", func(b *ModuleBuilder) {
		c := b.Class("Zero", "")
		c.Property("i", TypeInt, nil)
		c.Property("f", TypeFloat, 3)
		c.Property("c", TypeColor, nil)
		c.Property("o", TypeObject, nil)
	})})
	require.NoError(t, err)

	desc, err := snap.Lookup("Zero")
	require.NoError(t, err)
	defaults := desc.Defaults()
	assert.Equal(t, int64(0), ToNative(defaults["i"], TypeInt))
	assert.Equal(t, float64(3), ToNative(defaults["f"], TypeFloat))
	assert.Equal(t, Color{A: 1}, ToNative(defaults["c"], TypeColor))
	assert.True(t, defaults["o"].IsNull())

	// Defaults returns a copy.
	defaults["i"] = cty.NumberIntVal(9)
	assert.True(t, desc.Defaults()["i"].RawEquals(cty.NumberIntVal(0)))
}

type failingLoader struct{ err error }

func (l failingLoader) Load(ctx context.Context, ref string) ([]Module, error) {
	return nil, l.err
}

func TestMetadata_LoadWrapsLoaderErrors(t *testing.T) {
	m := NewMetadata()
	cause := errors.New("disk on fire")

	_, err := m.Load(context.Background(), failingLoader{err: cause}, "scripts")
	requireErrorType(t, err, ErrorTypeInvalidScriptShape)
	assert.ErrorIs(t, err, cause)

	shape := NewScriptError(ErrorTypeDuplicateClassName, "Foo", "", "dup", nil)
	_, err = m.Load(context.Background(), failingLoader{err: shape}, "scripts")
	requireErrorType(t, err, ErrorTypeDuplicateClassName)
}

func TestSnapshot_Documentation(t *testing.T) {
	m := NewMetadata()
	snap, err := m.Build("scripts", []Module{mod("foo.go", fooModule)})
	require.NoError(t, err)

	doc, err := snap.Documentation("Foo")
	require.NoError(t, err)
	assert.Equal(t, "Foo", doc.Name)
	assert.Equal(t, "Node", doc.Base)
	assert.Equal(t, "test class", doc.Description)
	assert.Equal(t, []string{string(HookProcess)}, doc.Hooks)
	require.Len(t, doc.Properties, 3)
	assert.Equal(t, MemberDoc{Name: "b", Type: "string", Default: `"x"`, Description: "label"}, doc.Properties[1])

	var add *MemberDoc
	for i := range doc.Methods {
		if doc.Methods[i].Name == "add" {
			add = &doc.Methods[i]
		}
	}
	require.NotNil(t, add)
	assert.True(t, add.Mutable)
	assert.Equal(t, []Param{P("n", TypeInt)}, add.Params)

	require.Len(t, doc.Signals, 1)
	assert.Equal(t, "changed", doc.Signals[0].Name)

	_, err = snap.Documentation("Missing")
	requireErrorType(t, err, ErrorTypeUnknownClass)
}

func TestMetadata_Release(t *testing.T) {
	m := NewMetadata()
	snap, err := m.Build("scripts", []Module{mod("bar.go", barModule)})
	require.NoError(t, err)
	m.Publish(snap)

	assert.Same(t, snap, m.Release())
	assert.Nil(t, m.Current())
	_, err = m.Lookup("Bar")
	requireErrorType(t, err, ErrorTypeUnknownClass)
}
