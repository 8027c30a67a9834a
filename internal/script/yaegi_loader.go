package script

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"strings"

	"github.com/spf13/afero"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// ScriptImportPath is the import path Go script modules use for the builder API
const ScriptImportPath = "scriptrt"

// registerFuncName is the entry point every Go script module defines
const registerFuncName = "Register"

// Exports exposes the builder API to interpreted Go modules under
// import "scriptrt". Yaegi expects keys as "importPath/pkgName".
var Exports = interp.Exports{
	ScriptImportPath + "/" + ScriptImportPath: {
		"ModuleBuilder":   reflect.ValueOf((*ModuleBuilder)(nil)),
		"ClassBuilder":    reflect.ValueOf((*ClassBuilder)(nil)),
		"PropertyBuilder": reflect.ValueOf((*PropertyBuilder)(nil)),
		"MethodBuilder":   reflect.ValueOf((*MethodBuilder)(nil)),
		"SignalBuilder":   reflect.ValueOf((*SignalBuilder)(nil)),
		"Call":            reflect.ValueOf((*Call)(nil)),
		"MethodFunc":      reflect.ValueOf((*MethodFunc)(nil)),
		"Param":           reflect.ValueOf((*Param)(nil)),
		"P":               reflect.ValueOf(P),
		"VariantType":     reflect.ValueOf((*VariantType)(nil)),
		"Hook":            reflect.ValueOf((*Hook)(nil)),
		"ObjectID":        reflect.ValueOf((*ObjectID)(nil)),
		"Vector2":         reflect.ValueOf((*Vector2)(nil)),
		"Vector3":         reflect.ValueOf((*Vector3)(nil)),
		"Color":           reflect.ValueOf((*Color)(nil)),
		"PropertyUsage":   reflect.ValueOf((*PropertyUsage)(nil)),

		"TypeNil":        reflect.ValueOf(TypeNil),
		"TypeBool":       reflect.ValueOf(TypeBool),
		"TypeInt":        reflect.ValueOf(TypeInt),
		"TypeFloat":      reflect.ValueOf(TypeFloat),
		"TypeString":     reflect.ValueOf(TypeString),
		"TypeVector2":    reflect.ValueOf(TypeVector2),
		"TypeVector3":    reflect.ValueOf(TypeVector3),
		"TypeColor":      reflect.ValueOf(TypeColor),
		"TypeArray":      reflect.ValueOf(TypeArray),
		"TypeDictionary": reflect.ValueOf(TypeDictionary),
		"TypeObject":     reflect.ValueOf(TypeObject),
		"TypeVariant":    reflect.ValueOf(TypeVariant),

		"HookInit":           reflect.ValueOf(HookInit),
		"HookReady":          reflect.ValueOf(HookReady),
		"HookProcess":        reflect.ValueOf(HookProcess),
		"HookPhysicsProcess": reflect.ValueOf(HookPhysicsProcess),
		"HookNotification":   reflect.ValueOf(HookNotification),
		"HookExitTree":       reflect.ValueOf(HookExitTree),

		"UsageStorage":  reflect.ValueOf(UsageStorage),
		"UsageEditor":   reflect.ValueOf(UsageEditor),
		"UsageExported": reflect.ValueOf(UsageExported),
		"UsageDefault":  reflect.ValueOf(UsageDefault),
	},
}

// YaegiLoader interprets every *.go file under the script root as one module.
// Each file gets its own interpreter so a reload never sees stale symbols.
type YaegiLoader struct {
	fs     afero.Fs
	limits SecurityLimits
}

// NewYaegiLoader creates a loader for Go script modules
func NewYaegiLoader(fs afero.Fs, limits SecurityLimits) *YaegiLoader {
	return &YaegiLoader{fs: fs, limits: limits}
}

// Load interprets each Go source file and resolves its Register function
func (l *YaegiLoader) Load(ctx context.Context, ref string) ([]Module, error) {
	files, err := findSources(l.fs, ref, ".go")
	if err != nil {
		return nil, err
	}
	restricted := l.restrictedStdlib()

	modules := make([]Module, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := afero.ReadFile(l.fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read script %s: %w", path, err)
		}
		name := moduleName(ref, path)
		register, err := compileGoModule(name, path, string(src), restricted)
		if err != nil {
			return nil, err
		}
		modules = append(modules, ModuleFunc{ModuleName: name, Fn: register})
	}
	return modules, nil
}

// restrictedStdlib keeps only the allowed packages of yaegi's stdlib
func (l *YaegiLoader) restrictedStdlib() interp.Exports {
	restricted := interp.Exports{}
	for _, key := range l.limits.YaegiSymbolKeys() {
		if syms, ok := stdlib.Symbols[key]; ok {
			restricted[key] = syms
		}
	}
	return restricted
}

func compileGoModule(name, path, src string, restricted interp.Exports) (fn func(*ModuleBuilder), err error) {
	shapeErr := func(msg string, cause error) error {
		return NewScriptError(ErrorTypeInvalidScriptShape, "", "", fmt.Sprintf("script module %s: %s", name, msg), cause)
	}

	pkg, err := packageName(path, src)
	if err != nil {
		return nil, shapeErr("invalid Go source", err)
	}

	defer func() {
		if r := recover(); r != nil {
			fn, err = nil, shapeErr(fmt.Sprintf("interpreter panicked: %v", r), nil)
		}
	}()

	i := interp.New(interp.Options{})
	if len(restricted) > 0 {
		if err := i.Use(restricted); err != nil {
			return nil, shapeErr("failed to load standard library", err)
		}
	}
	if err := i.Use(Exports); err != nil {
		return nil, shapeErr("failed to load script API", err)
	}
	if _, err := i.Eval(src); err != nil {
		return nil, shapeErr("failed to compile", err)
	}

	symbol := registerFuncName
	if pkg != "main" {
		symbol = pkg + "." + registerFuncName
	}
	v, err := i.Eval(symbol)
	if err != nil {
		return nil, shapeErr("missing func Register(*scriptrt.ModuleBuilder)", err)
	}
	register, ok := v.Interface().(func(*ModuleBuilder))
	if !ok {
		return nil, shapeErr(fmt.Sprintf("Register has type %s, want func(*scriptrt.ModuleBuilder)", v.Type()), nil)
	}
	return register, nil
}

// packageName reads the package clause without interpreting the file
func packageName(path, src string) (string, error) {
	f, err := parser.ParseFile(token.NewFileSet(), path, src, parser.PackageClauseOnly)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(f.Name.Name), nil
}
