package script

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/spf13/afero"
	"github.com/zclconf/go-cty/cty"
)

// TengoLoader turns every *.hcl manifest under the script root into a module
// whose method and hook bodies are tengo scripts.
type TengoLoader struct {
	fs     afero.Fs
	limits SecurityLimits
}

// NewTengoLoader creates a loader for tengo script modules
func NewTengoLoader(fs afero.Fs, limits SecurityLimits) *TengoLoader {
	return &TengoLoader{fs: fs, limits: limits}
}

// Load parses each manifest and precompiles its bodies
func (l *TengoLoader) Load(ctx context.Context, ref string) ([]Module, error) {
	files, err := findSources(l.fs, ref, ".hcl")
	if err != nil {
		return nil, err
	}

	parser := hclparse.NewParser()
	modules := make([]Module, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := afero.ReadFile(l.fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
		}
		name := moduleName(ref, path)
		manifest, err := parseManifest(parser, path, src)
		if err != nil {
			return nil, NewScriptError(ErrorTypeInvalidScriptShape, "", "", fmt.Sprintf("script module %s", name), err)
		}
		mod, err := l.compileModule(name, filepath.Dir(path), manifest)
		if err != nil {
			return nil, err
		}
		modules = append(modules, mod)
	}
	return modules, nil
}

type tengoModule struct {
	name     string
	manifest *manifestFile
	bodies   map[string]*tengo.Compiled
	limits   SecurityLimits
}

func bodyKey(class, member string) string {
	return class + "." + member
}

func (l *TengoLoader) compileModule(name, dir string, manifest *manifestFile) (*tengoModule, error) {
	mod := &tengoModule{
		name:     name,
		manifest: manifest,
		bodies:   make(map[string]*tengo.Compiled),
		limits:   l.limits,
	}
	compile := func(class, member, body, source string) error {
		if source != "" {
			path := source
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, source)
			}
			data, err := afero.ReadFile(l.fs, path)
			if err != nil {
				return fmt.Errorf("failed to read %s.%s source %s: %w", class, member, source, err)
			}
			body = string(data)
		}
		compiled, err := l.compileBody(body)
		if err != nil {
			return NewScriptError(ErrorTypeInvalidScriptShape, class, member,
				fmt.Sprintf("script module %s: %s.%s does not compile", name, class, member), err)
		}
		mod.bodies[bodyKey(class, member)] = compiled
		return nil
	}

	for _, c := range manifest.Classes {
		for _, m := range c.Methods {
			if err := compile(c.Name, m.Name, m.Body, m.Source); err != nil {
				return nil, err
			}
		}
		for _, h := range c.Hooks {
			if err := compile(c.Name, h.Name, h.Body, h.Source); err != nil {
				return nil, err
			}
		}
	}
	return mod, nil
}

// compileBody compiles a body with the variables every call binds
func (l *TengoLoader) compileBody(body string) (*tengo.Compiled, error) {
	s := tengo.NewScript([]byte(body))
	s.SetImports(stdlib.GetModuleMap(l.limits.TengoModules()...))
	for name, value := range map[string]interface{}{
		"self":   map[string]interface{}{},
		"args":   []interface{}{},
		"owner":  int64(0),
		"result": nil,
		"emit":   &tengo.UserFunction{Name: "emit", Value: noopCallable},
		"log":    &tengo.UserFunction{Name: "log", Value: noopCallable},
	} {
		if err := s.Add(name, value); err != nil {
			return nil, err
		}
	}
	return s.Compile()
}

func noopCallable(args ...tengo.Object) (tengo.Object, error) {
	return tengo.UndefinedValue, nil
}

func (m *tengoModule) Name() string {
	return m.name
}

// Register declares the manifest's classes, binding bodies as implementations
func (m *tengoModule) Register(b *ModuleBuilder) {
	for _, c := range m.manifest.Classes {
		cb := b.Class(c.Name, c.Base).Description(c.Description)
		if c.Tool {
			cb.Tool()
		}
		for _, p := range c.Properties {
			pb := cb.Property(p.Name, VariantType(p.Type), nil).Doc(p.Description)
			if p.Default != cty.NilVal {
				pb.DefaultValue(p.Default)
			}
			if p.Hint != "" {
				pb.Hint(p.Hint, p.HintText)
			}
			usage, err := p.usage()
			if err != nil {
				b.fail(NewScriptError(ErrorTypeInvalidScriptShape, c.Name, p.Name, fmt.Sprintf("%s: %v", c.Name, err), nil))
				continue
			}
			pb.Usage(usage)
		}
		for _, meth := range c.Methods {
			ret := VariantType(meth.Returns)
			if ret == "" {
				ret = TypeNil
			}
			mb := cb.Method(meth.Name, ret, m.impl(c.Name, meth.Name), params(meth.Params)...).Doc(meth.Description)
			if meth.Mutable {
				mb.Mutating()
			}
		}
		for _, s := range c.Signals {
			cb.Signal(s.Name, params(s.Params)...).Doc(s.Description)
		}
		for _, h := range c.Hooks {
			cb.OnHook(Hook(h.Name), m.impl(c.Name, h.Name))
		}
	}
}

// impl runs a precompiled body against a clone bound to the call
func (m *tengoModule) impl(class, member string) MethodFunc {
	compiled := m.bodies[bodyKey(class, member)]
	return func(c *Call) (any, error) {
		run := compiled.Clone()

		self := make(map[string]interface{}, len(c.state.props))
		for name, v := range c.state.props {
			self[name] = toTengo(ToNative(v, c.propertyHint(name)))
		}
		args := make([]interface{}, c.NumArgs())
		for i := range args {
			args[i] = toTengo(c.Arg(i))
		}

		var callErr error
		emit := func(targs ...tengo.Object) (tengo.Object, error) {
			if len(targs) == 0 {
				return nil, tengo.ErrWrongNumArguments
			}
			name, ok := tengo.ToString(targs[0])
			if !ok {
				return nil, tengo.ErrInvalidArgumentType{Name: "signal", Expected: "string", Found: targs[0].TypeName()}
			}
			values := make([]any, len(targs)-1)
			for i, a := range targs[1:] {
				values[i] = tengo.ToInterface(a)
			}
			if err := c.Emit(name, values...); err != nil {
				callErr = err
				return nil, err
			}
			return tengo.UndefinedValue, nil
		}
		logFn := func(targs ...tengo.Object) (tengo.Object, error) {
			if len(targs) != 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			msg, _ := tengo.ToString(targs[0])
			c.Logf("%s", msg)
			return tengo.UndefinedValue, nil
		}

		for name, value := range map[string]interface{}{
			"self":  self,
			"args":  args,
			"owner": int64(c.Owner()),
			"emit":  &tengo.UserFunction{Name: "emit", Value: emit},
			"log":   &tengo.UserFunction{Name: "log", Value: logFn},
		} {
			if err := run.Set(name, value); err != nil {
				return nil, fmt.Errorf("failed to bind %s: %w", name, err)
			}
		}

		ctx := c.Context()
		if m.limits.MaxExecutionTime > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.limits.MaxExecutionTime)
			defer cancel()
		}
		if err := run.RunContext(ctx); err != nil {
			if callErr != nil {
				return nil, callErr
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%s.%s exceeded %s: %w", class, member, m.limits.MaxExecutionTime, err)
			}
			return nil, err
		}

		if err := writeBack(c, run.Get("self").Value()); err != nil {
			return nil, err
		}
		return fromTengo(run.Get("result").Value(), c.returnType()), nil
	}
}

// writeBack stages every property the body changed. Non-mutating calls
// that changed a property fail with ReadOnly.
func writeBack(c *Call, self interface{}) error {
	updated, ok := self.(map[string]interface{})
	if !ok {
		return nil
	}
	for name, raw := range updated {
		before, exists := c.state.props[name]
		if !exists {
			continue
		}
		v, err := FromNative(fromTengo(raw, c.propertyHint(name)))
		if err != nil {
			return NewScriptError(ErrorTypeTypeMismatch, c.Class(), name, fmt.Sprintf("%s.%s: unsupported value", c.Class(), name), err)
		}
		if normalized, ok := coerce(v, c.propertyHint(name)); ok && normalized.RawEquals(before) {
			continue
		}
		if err := c.SetValue(name, v); err != nil {
			return err
		}
	}
	return nil
}

// toTengo flattens native values into shapes tengo understands
func toTengo(x any) interface{} {
	switch v := x.(type) {
	case Vector2:
		return map[string]interface{}{"x": v.X, "y": v.Y}
	case Vector3:
		return map[string]interface{}{"x": v.X, "y": v.Y, "z": v.Z}
	case Color:
		return map[string]interface{}{"r": v.R, "g": v.G, "b": v.B, "a": v.A}
	case ObjectID:
		return int64(v)
	case []any:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = toTengo(e)
		}
		return out
	case map[string]any:
		out := make(map[string]interface{}, len(v))
		for k, e := range v {
			out[k] = toTengo(e)
		}
		return out
	}
	return x
}

// fromTengo restores values tengo cannot represent natively
func fromTengo(x interface{}, hint VariantType) any {
	switch v := x.(type) {
	case int64:
		if hint == TypeObject {
			return ObjectID(v)
		}
	case rune:
		return string(v)
	}
	return x
}

func (c *Call) propertyHint(name string) VariantType {
	if t, ok := c.state.desc.PropertyType(name); ok {
		return t
	}
	return TypeVariant
}

func (c *Call) returnType() VariantType {
	if m, ok := c.state.desc.Method(c.member); ok {
		return m.Return
	}
	return TypeNil
}
