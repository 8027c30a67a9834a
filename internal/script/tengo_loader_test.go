package script

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

const counterManifest = `
class "TengoCounter" {
  base        = "Node"
  description = "counts in tengo"

  property "count" {
    type    = "int"
    default = 2
  }

  property "label" {
    type  = "string"
    hint  = "multiline"
    usage = ["storage", "editor"]
  }

  property "pos" {
    type    = "vector2"
    default = { x = 1, y = 2 }
  }

  signal "changed" {
    param "value" { type = "int" }
  }

  method "increment" {
    returns = "int"
    mutable = true
    param "by" { type = "int" }
    body    = <<-EOT
      self.count += args[0]
      emit("changed", self.count)
      result = self.count
    EOT
  }

  method "peek" {
    returns = "int"
    body    = "result = self.count"
  }

  method "sneak" {
    body = "self.count = 99"
  }

  method "move" {
    returns = "vector2"
    mutable = true
    param "dx" { type = "float" }
    source  = "move.tengo"
  }

  method "spin" {
    body = "for {}"
  }

  hook "init" {
    body = "self.label = \"ready\""
  }
}
`

const moveBody = `
p := self.pos
p.x += args[0]
self.pos = p
result = p
`

func loadTengo(t *testing.T, fs afero.Fs, limits SecurityLimits) *testRuntime {
	t.Helper()
	modules, err := NewTengoLoader(fs, limits).Load(context.Background(), "scripts")
	require.NoError(t, err)
	require.Len(t, modules, 1)
	return newTestRuntime(t, modules...)
}

func TestTengoLoader_LoadsManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "scripts/counter/counter.hcl", counterManifest)
	writeFile(t, fs, "scripts/counter/move.tengo", moveBody)

	rt := loadTengo(t, fs, GetDefaultSecurityLimits())

	desc, err := rt.metadata.Lookup("TengoCounter")
	require.NoError(t, err)
	assert.Equal(t, "Node", desc.Base)
	assert.Equal(t, "counter/counter.hcl", desc.Module)
	label, ok := desc.Property("label")
	require.True(t, ok)
	assert.Equal(t, UsageStorage|UsageEditor, label.Usage)
	assert.Equal(t, "multiline", label.Hint.Kind)

	rt.create(t, 1, "TengoCounter")
	assert.True(t, rt.get(t, 1, "label").RawEquals(cty.StringVal("ready")))
	assert.True(t, rt.get(t, 1, "count").RawEquals(cty.NumberIntVal(2)))

	v, err := rt.dispatch.CallMethod(rt.ctx, 1, "increment", cty.NumberIntVal(3))
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.NumberIntVal(5)))
	assert.True(t, rt.get(t, 1, "count").RawEquals(cty.NumberIntVal(5)))

	signals := rt.signals.all()
	require.Len(t, signals, 1)
	assert.Equal(t, "changed", signals[0].Name)
	assert.True(t, signals[0].Args[0].RawEquals(cty.NumberIntVal(5)))

	v, err = rt.dispatch.CallMethod(rt.ctx, 1, "peek")
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.NumberIntVal(5)))

	v, err = rt.dispatch.CallMethod(rt.ctx, 1, "move", cty.NumberFloatVal(0.5))
	require.NoError(t, err)
	assert.Equal(t, Vector2{X: 1.5, Y: 2}, ToNative(v, TypeVector2))
	assert.Equal(t, Vector2{X: 1.5, Y: 2}, ToNative(rt.get(t, 1, "pos"), TypeVector2))
}

func TestTengoLoader_NonMutatingBodyCannotWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "scripts/counter.hcl", counterManifest)
	writeFile(t, fs, "scripts/move.tengo", moveBody)

	rt := loadTengo(t, fs, GetDefaultSecurityLimits())
	rt.create(t, 1, "TengoCounter")

	_, err := rt.dispatch.CallMethod(rt.ctx, 1, "sneak")
	requireErrorType(t, err, ErrorTypeReadOnly)
	assert.True(t, rt.get(t, 1, "count").RawEquals(cty.NumberIntVal(2)))
}

func TestTengoLoader_ExecutionTimeLimit(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "scripts/counter.hcl", counterManifest)
	writeFile(t, fs, "scripts/move.tengo", moveBody)

	limits := GetDefaultSecurityLimits()
	limits.MaxExecutionTime = 50 * time.Millisecond
	rt := loadTengo(t, fs, limits)
	rt.create(t, 1, "TengoCounter")

	_, err := rt.dispatch.CallMethod(rt.ctx, 1, "spin")
	requireErrorType(t, err, ErrorTypeScriptFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The instance is still usable afterwards.
	_, err = rt.dispatch.CallMethod(rt.ctx, 1, "peek")
	require.NoError(t, err)
}

func TestTengoLoader_InvalidManifests(t *testing.T) {
	testCases := []struct {
		name     string
		manifest string
	}{
		{"hcl syntax", `class "Broken" {`},
		{"unknown attribute", `class "Broken" { colour = "red" }`},
		{"body does not compile", `class "Broken" {
  method "m" { body = "result = (" }
}`},
		{"module not allowed", `class "Broken" {
  method "m" { body = "os := import(\"os\")" }
}`},
		{"unknown usage", `class "Broken" {
  property "p" {
    type  = "int"
    usage = ["network"]
  }
}`},
		{"missing source", `class "Broken" {
  method "m" { source = "missing.tengo" }
}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeFile(t, fs, "scripts/broken.hcl", tc.manifest)

			modules, err := NewTengoLoader(fs, GetDefaultSecurityLimits()).Load(context.Background(), "scripts")
			if err == nil {
				// Some problems only surface during registration.
				_, err = NewMetadata().Build("scripts", modules)
			}
			require.Error(t, err)
		})
	}
}
