package script

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindSources(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "scripts/b.go", "package b")
	writeFile(t, fs, "scripts/a/a.go", "package a")
	writeFile(t, fs, "scripts/a/a_test.go", "package a")
	writeFile(t, fs, "scripts/.cache/c.go", "package c")
	writeFile(t, fs, "scripts/readme.md", "# scripts")

	files, err := findSources(fs, "scripts", ".go")
	require.NoError(t, err)
	assert.Equal(t, []string{"scripts/a/a.go", "scripts/b.go"}, files)

	files, err = findSources(fs, "missing", ".go")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestModuleName(t *testing.T) {
	assert.Equal(t, "a/a.go", moduleName("scripts", "scripts/a/a.go"))
	assert.Equal(t, "b.hcl", moduleName("scripts", "scripts/b.hcl"))
}

func TestRootLoader_MergesStaticAndDynamic(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "scripts/counter.hcl", `class "FromManifest" {}`)

	factory := NewFactory(fs, GetDefaultSecurityLimits())
	loader, err := NewLoader(factory, []Module{mod("builtin", barModule)}, LanguageGo, LanguageTengo)
	require.NoError(t, err)

	modules, err := loader.Load(context.Background(), "scripts")
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, "builtin", modules[0].Name())
	assert.Equal(t, "counter.hcl", modules[1].Name())

	snap, err := NewMetadata().Build("scripts", modules)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bar", "FromManifest"}, snap.ListClasses())
}

func TestRootLoader_StopsOnCancelledContext(t *testing.T) {
	factory := NewFactory(afero.NewMemMapFs(), GetDefaultSecurityLimits())
	loader, err := NewLoader(factory, nil, LanguageGo)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = loader.Load(ctx, "scripts")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactory_CreateLoader(t *testing.T) {
	factory := NewFactory(afero.NewMemMapFs(), GetDefaultSecurityLimits())
	assert.Equal(t, []ScriptLanguage{LanguageGo, LanguageTengo}, factory.SupportedLanguages())

	l, err := factory.CreateLoader(LanguageGo)
	require.NoError(t, err)
	assert.IsType(t, &YaegiLoader{}, l)

	l, err = factory.CreateLoader(LanguageTengo)
	require.NoError(t, err)
	assert.IsType(t, &TengoLoader{}, l)

	_, err = factory.CreateLoader(ScriptLanguage("lua"))
	assert.Error(t, err)

	_, err = NewLoader(factory, nil, ScriptLanguage("lua"))
	assert.Error(t, err)
}

func TestSecurityLimits(t *testing.T) {
	limits := GetDefaultSecurityLimits()
	limits.AllowedPackages[0] = "os"
	assert.Equal(t, "fmt", DefaultSecurityLimits.AllowedPackages[0], "defaults must be copied")

	limits = SecurityLimits{AllowedPackages: []string{"fmt", "math/rand", "strconv"}}
	assert.Equal(t, []string{"fmt", "rand"}, limits.TengoModules())
	assert.Equal(t, []string{"fmt/fmt", "math/rand/rand", "strconv/strconv"}, limits.YaegiSymbolKeys())
}
