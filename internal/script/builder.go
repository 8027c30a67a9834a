package script

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Hook names a lifecycle entry point the host can invoke on an instance
type Hook string

const (
	HookInit           Hook = "init"
	HookReady          Hook = "ready"
	HookProcess        Hook = "process"
	HookPhysicsProcess Hook = "physics_process"
	HookNotification   Hook = "notification"
	HookExitTree       Hook = "exit_tree"
)

// hookParams are the arguments the host passes to each hook
var hookParams = map[Hook][]Param{
	HookInit:           nil,
	HookReady:          nil,
	HookProcess:        {P("delta", TypeFloat)},
	HookPhysicsProcess: {P("delta", TypeFloat)},
	HookNotification:   {P("what", TypeInt)},
	HookExitTree:       nil,
}

// Valid reports whether h is a known lifecycle hook
func (h Hook) Valid() bool {
	_, ok := hookParams[h]
	return ok
}

// Params returns the argument list the host passes to the hook
func (h Hook) Params() []Param {
	return hookParams[h]
}

// ModuleBuilder collects the classes a module declares during registration
type ModuleBuilder struct {
	module  string
	classes []*ClassBuilder
	errs    []error
}

// NewModuleBuilder creates a builder for the named module
func NewModuleBuilder(module string) *ModuleBuilder {
	return &ModuleBuilder{module: module}
}

// Module returns the name of the module being registered
func (b *ModuleBuilder) Module() string {
	return b.module
}

// Class declares a script class. base is the engine class a host object must
// inherit to accept the script; empty means any object.
func (b *ModuleBuilder) Class(name, base string) *ClassBuilder {
	cb := &ClassBuilder{
		module: b,
		desc: &ClassDescriptor{
			Name:   name,
			Base:   base,
			Module: b.module,
			Hooks:  make(map[Hook]MethodFunc),
		},
	}
	b.classes = append(b.classes, cb)
	return cb
}

func (b *ModuleBuilder) fail(err error) {
	b.errs = append(b.errs, err)
}

// build validates every declared class and returns the descriptors
func (b *ModuleBuilder) build() ([]*ClassDescriptor, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	seen := make(map[string]bool, len(b.classes))
	out := make([]*ClassDescriptor, 0, len(b.classes))
	for _, cb := range b.classes {
		desc := cb.desc
		if seen[desc.Name] {
			return nil, NewScriptError(ErrorTypeDuplicateClassName, desc.Name, "",
				fmt.Sprintf("class %q is declared twice in module %q", desc.Name, b.module), nil)
		}
		seen[desc.Name] = true
		if err := desc.validate(); err != nil {
			return nil, err
		}
		if err := desc.index(); err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}

// ClassBuilder declares the members of one script class
type ClassBuilder struct {
	module *ModuleBuilder
	desc   *ClassDescriptor
}

// Description sets the class documentation
func (c *ClassBuilder) Description(text string) *ClassBuilder {
	c.desc.Description = text
	return c
}

// Tool marks the class as running inside the editor
func (c *ClassBuilder) Tool() *ClassBuilder {
	c.desc.Tool = true
	return c
}

// Property declares a property. def may be nil to use the type's zero value.
func (c *ClassBuilder) Property(name string, t VariantType, def any) *PropertyBuilder {
	p := PropertyDescriptor{Name: name, Type: t, Usage: UsageDefault}
	if def != nil {
		v, err := FromNative(def)
		if err != nil {
			c.module.fail(NewScriptError(ErrorTypeInvalidScriptShape, c.desc.Name, name,
				fmt.Sprintf("%s: default for property %q is not representable", c.desc.Name, name), err))
		} else {
			p.Default = v
		}
	}
	c.desc.Properties = append(c.desc.Properties, p)
	return &PropertyBuilder{class: c, index: len(c.desc.Properties) - 1}
}

// Method declares a method with its return type and ordered parameters.
// ret may be TypeNil for methods that return nothing.
func (c *ClassBuilder) Method(name string, ret VariantType, fn MethodFunc, params ...Param) *MethodBuilder {
	if ret == "" {
		ret = TypeNil
	}
	c.desc.Methods = append(c.desc.Methods, MethodDescriptor{
		Name:   name,
		Params: params,
		Return: ret,
		Impl:   fn,
	})
	return &MethodBuilder{class: c, index: len(c.desc.Methods) - 1}
}

// Signal declares a signal the class may emit
func (c *ClassBuilder) Signal(name string, params ...Param) *SignalBuilder {
	c.desc.Signals = append(c.desc.Signals, SignalDescriptor{Name: name, Params: params})
	return &SignalBuilder{class: c, index: len(c.desc.Signals) - 1}
}

// OnHook implements a lifecycle hook. Hooks may mutate instance state.
func (c *ClassBuilder) OnHook(h Hook, fn MethodFunc) *ClassBuilder {
	c.desc.Hooks[h] = fn
	return c
}

// PropertyBuilder refines a declared property
type PropertyBuilder struct {
	class *ClassBuilder
	index int
}

func (p *PropertyBuilder) prop() *PropertyDescriptor {
	return &p.class.desc.Properties[p.index]
}

// Doc sets the property documentation
func (p *PropertyBuilder) Doc(text string) *PropertyBuilder {
	p.prop().Description = text
	return p
}

// Hint attaches an editor hint, e.g. Hint("range", "0,100")
func (p *PropertyBuilder) Hint(kind, text string) *PropertyBuilder {
	p.prop().Hint = PropertyHint{Kind: kind, Text: text}
	return p
}

// Usage replaces the usage flags
func (p *PropertyBuilder) Usage(u PropertyUsage) *PropertyBuilder {
	p.prop().Usage = u
	return p
}

// DefaultValue sets the default from a boundary value
func (p *PropertyBuilder) DefaultValue(v cty.Value) *PropertyBuilder {
	p.prop().Default = v
	return p
}

// MethodBuilder refines a declared method
type MethodBuilder struct {
	class *ClassBuilder
	index int
}

// Mutating allows the method to change instance state
func (m *MethodBuilder) Mutating() *MethodBuilder {
	m.class.desc.Methods[m.index].Mutable = true
	return m
}

// Doc sets the method documentation
func (m *MethodBuilder) Doc(text string) *MethodBuilder {
	m.class.desc.Methods[m.index].Description = text
	return m
}

// SignalBuilder refines a declared signal
type SignalBuilder struct {
	class *ClassBuilder
	index int
}

// Doc sets the signal documentation
func (s *SignalBuilder) Doc(text string) *SignalBuilder {
	s.class.desc.Signals[s.index].Description = text
	return s
}
