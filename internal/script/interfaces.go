package script

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// Module is a unit of script code that declares classes when registered
type Module interface {
	// Name identifies the module in errors and documentation
	Name() string

	// Register declares the module's classes on the builder
	Register(b *ModuleBuilder)
}

// ModuleLoader discovers every script module reachable from a reference
type ModuleLoader interface {
	// Load returns the modules found at ref, typically the script root directory
	Load(ctx context.Context, ref string) ([]Module, error)
}

// LoaderFactory creates language-specific module loaders
type LoaderFactory interface {
	// CreateLoader returns a loader for the specified language
	CreateLoader(language ScriptLanguage) (ModuleLoader, error)

	// SupportedLanguages returns all supported script languages
	SupportedLanguages() []ScriptLanguage
}

// ClassDB answers engine class hierarchy questions
type ClassDB interface {
	// IsParentClass reports whether class inherits from (or is) parent
	IsParentClass(class, parent string) bool
}

// Signal is a signal emitted by script code, validated against its declaration
type Signal struct {
	Source ObjectID
	Class  string
	Name   string
	Args   []cty.Value
}

// SignalSink receives signals once the emitting call has released its locks
type SignalSink interface {
	EmitSignal(ctx context.Context, sig Signal)
}

// SignalSinkFunc adapts a function to SignalSink
type SignalSinkFunc func(ctx context.Context, sig Signal)

func (f SignalSinkFunc) EmitSignal(ctx context.Context, sig Signal) {
	f(ctx, sig)
}

// ModuleFunc adapts a registration function to Module
type ModuleFunc struct {
	ModuleName string
	Fn         func(b *ModuleBuilder)
}

func (m ModuleFunc) Name() string { return m.ModuleName }

func (m ModuleFunc) Register(b *ModuleBuilder) { m.Fn(b) }
