package script

import (
	"context"
	"fmt"
	"regexp"
	"runtime/debug"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"
)

// shapeValidator is shared by every descriptor; it caches struct information.
var shapeValidator = validator.New()

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func init() {
	_ = shapeValidator.RegisterValidation("identifier", validateIdentifier)
	_ = shapeValidator.RegisterValidation("varianttype", validateVariantType)
}

func validateIdentifier(fl validator.FieldLevel) bool {
	return identifierPattern.MatchString(fl.Field().String())
}

func validateVariantType(fl validator.FieldLevel) bool {
	return VariantType(fl.Field().String()).Valid()
}

// PropertyUsage flags control where a property is visible to the host
type PropertyUsage uint8

const (
	UsageStorage PropertyUsage = 1 << iota
	UsageEditor
	UsageExported

	UsageDefault = UsageStorage | UsageEditor | UsageExported
)

// Has reports whether all flags in f are set
func (u PropertyUsage) Has(f PropertyUsage) bool {
	return u&f == f
}

// PropertyHint is editor metadata passed through to the host untouched
type PropertyHint struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// Param is a named, typed method or signal parameter
type Param struct {
	Name string      `json:"name" validate:"required,identifier,max=128"`
	Type VariantType `json:"type" validate:"required,varianttype"`
}

// P is shorthand for declaring a Param
func P(name string, t VariantType) Param {
	return Param{Name: name, Type: t}
}

// MethodFunc implements a script method or lifecycle hook
type MethodFunc func(c *Call) (any, error)

// PropertyDescriptor describes one declared property of a script class
type PropertyDescriptor struct {
	Name        string        `json:"name" validate:"required,identifier,max=128"`
	Type        VariantType   `json:"type" validate:"required,varianttype"`
	Usage       PropertyUsage `json:"usage"`
	Hint        PropertyHint  `json:"hint"`
	Default     cty.Value     `json:"-"`
	Description string        `json:"description,omitempty"`
}

// MethodDescriptor describes one declared method of a script class
type MethodDescriptor struct {
	Name        string      `json:"name" validate:"required,identifier,max=128"`
	Params      []Param     `json:"params" validate:"dive"`
	Return      VariantType `json:"return" validate:"required,varianttype"`
	Mutable     bool        `json:"mutable"`
	Description string      `json:"description,omitempty"`
	Impl        MethodFunc  `json:"-"`
}

// Arity is the number of declared parameters
func (m *MethodDescriptor) Arity() int {
	return len(m.Params)
}

// SignalDescriptor describes a signal a script class may emit
type SignalDescriptor struct {
	Name        string  `json:"name" validate:"required,identifier,max=128"`
	Params      []Param `json:"params" validate:"dive"`
	Description string  `json:"description,omitempty"`
}

// ClassDescriptor is the published, immutable shape of a script class
type ClassDescriptor struct {
	Name        string `validate:"required,identifier,max=128"`
	Base        string `validate:"omitempty,identifier,max=128"`
	Description string
	Tool        bool
	Module      string
	Generation  uint64

	Properties []PropertyDescriptor
	Methods    []MethodDescriptor
	Signals    []SignalDescriptor
	Hooks      map[Hook]MethodFunc

	propIndex   map[string]int
	methodIndex map[string]int
	signalIndex map[string]int
}

// Property returns the named property descriptor
func (c *ClassDescriptor) Property(name string) (*PropertyDescriptor, bool) {
	i, ok := c.propIndex[name]
	if !ok {
		return nil, false
	}
	return &c.Properties[i], true
}

// Method returns the named method descriptor
func (c *ClassDescriptor) Method(name string) (*MethodDescriptor, bool) {
	i, ok := c.methodIndex[name]
	if !ok {
		return nil, false
	}
	return &c.Methods[i], true
}

// Signal returns the named signal descriptor
func (c *ClassDescriptor) Signal(name string) (*SignalDescriptor, bool) {
	i, ok := c.signalIndex[name]
	if !ok {
		return nil, false
	}
	return &c.Signals[i], true
}

// HasMethod reports whether the class declares a method with the given name
func (c *ClassDescriptor) HasMethod(name string) bool {
	_, ok := c.methodIndex[name]
	return ok
}

// HasHook reports whether the class implements the given lifecycle hook
func (c *ClassDescriptor) HasHook(h Hook) bool {
	_, ok := c.Hooks[h]
	return ok
}

// PropertyType returns the declared type of a property
func (c *ClassDescriptor) PropertyType(name string) (VariantType, bool) {
	p, ok := c.Property(name)
	if !ok {
		return "", false
	}
	return p.Type, true
}

// Defaults returns a fresh map of every property's default value
func (c *ClassDescriptor) Defaults() map[string]cty.Value {
	out := make(map[string]cty.Value, len(c.Properties))
	for _, p := range c.Properties {
		out[p.Name] = p.Default
	}
	return out
}

// index builds the lookup maps and rejects duplicate member names
func (c *ClassDescriptor) index() error {
	c.propIndex = make(map[string]int, len(c.Properties))
	for i, p := range c.Properties {
		if _, dup := c.propIndex[p.Name]; dup {
			return shapeError(c.Name, p.Name, "duplicate property %q", p.Name)
		}
		c.propIndex[p.Name] = i
	}
	c.methodIndex = make(map[string]int, len(c.Methods))
	for i, m := range c.Methods {
		if _, dup := c.methodIndex[m.Name]; dup {
			return shapeError(c.Name, m.Name, "duplicate method %q", m.Name)
		}
		c.methodIndex[m.Name] = i
	}
	c.signalIndex = make(map[string]int, len(c.Signals))
	for i, s := range c.Signals {
		if _, dup := c.signalIndex[s.Name]; dup {
			return shapeError(c.Name, s.Name, "duplicate signal %q", s.Name)
		}
		c.signalIndex[s.Name] = i
	}
	return nil
}

// validate checks identifiers, type tags, defaults and implementations
func (c *ClassDescriptor) validate() error {
	if err := shapeValidator.Struct(c); err != nil {
		return NewScriptError(ErrorTypeInvalidScriptShape, c.Name, "", fmt.Sprintf("class %q has an invalid name or base", c.Name), err)
	}
	for i := range c.Properties {
		p := &c.Properties[i]
		if err := shapeValidator.Struct(p); err != nil {
			return NewScriptError(ErrorTypeInvalidScriptShape, c.Name, p.Name, fmt.Sprintf("property %q has no engine-compatible representation", p.Name), err)
		}
		if p.Type == TypeNil {
			return shapeError(c.Name, p.Name, "property %q cannot be declared nil", p.Name)
		}
		if p.Default == cty.NilVal {
			p.Default = ZeroValue(p.Type)
			continue
		}
		def, ok := coerce(p.Default, p.Type)
		if !ok {
			return shapeError(c.Name, p.Name, "default for property %q is %s, not representable as %s", p.Name, TypeOf(p.Default), p.Type)
		}
		p.Default = def
	}
	for i := range c.Methods {
		m := &c.Methods[i]
		if err := shapeValidator.Struct(m); err != nil {
			return NewScriptError(ErrorTypeInvalidScriptShape, c.Name, m.Name, fmt.Sprintf("method %q has an unsupported signature", m.Name), err)
		}
		for _, p := range m.Params {
			if p.Type == TypeNil {
				return shapeError(c.Name, m.Name, "parameter %q of method %q cannot be declared nil", p.Name, m.Name)
			}
		}
		if m.Impl == nil {
			return shapeError(c.Name, m.Name, "method %q has no implementation", m.Name)
		}
	}
	for i := range c.Signals {
		s := &c.Signals[i]
		if err := shapeValidator.Struct(s); err != nil {
			return NewScriptError(ErrorTypeInvalidScriptShape, c.Name, s.Name, fmt.Sprintf("signal %q has an unsupported signature", s.Name), err)
		}
	}
	for h, fn := range c.Hooks {
		if !h.Valid() {
			return shapeError(c.Name, string(h), "unknown lifecycle hook %q", h)
		}
		if fn == nil {
			return shapeError(c.Name, string(h), "hook %q has no implementation", h)
		}
	}
	return nil
}

func shapeError(class, member, format string, args ...any) *ScriptError {
	return NewScriptError(ErrorTypeInvalidScriptShape, class, member, fmt.Sprintf("%s: ", class)+fmt.Sprintf(format, args...), nil)
}

// Snapshot is an immutable, versioned set of class descriptors
type Snapshot struct {
	ID         uuid.UUID
	Generation uint64
	Source     string
	LoadedAt   time.Time

	classes map[string]*ClassDescriptor
	names   []string
}

// Lookup returns the descriptor registered under name
func (s *Snapshot) Lookup(name string) (*ClassDescriptor, error) {
	if s != nil {
		if desc, ok := s.classes[name]; ok {
			return desc, nil
		}
	}
	return nil, NewScriptError(ErrorTypeUnknownClass, name, "", fmt.Sprintf("unknown script class %q", name), nil)
}

// ListClasses returns the class names in sorted order
func (s *Snapshot) ListClasses() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of classes in the snapshot
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Metadata holds the published snapshot and builds new ones
type Metadata struct {
	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
}

// NewMetadata creates an empty metadata registry with nothing published
func NewMetadata() *Metadata {
	return &Metadata{}
}

// Load asks loader for every module reachable from ref and builds a snapshot
// from them. The published snapshot is not touched.
func (m *Metadata) Load(ctx context.Context, loader ModuleLoader, ref string) (*Snapshot, error) {
	modules, err := loader.Load(ctx, ref)
	if err != nil {
		if _, ok := AsScriptError(err); ok {
			return nil, err
		}
		return nil, NewScriptError(ErrorTypeInvalidScriptShape, "", "", fmt.Sprintf("failed to load script modules from %q", ref), err)
	}
	return m.Build(ref, modules)
}

// Build runs each module's registration and assembles a snapshot
func (m *Metadata) Build(source string, modules []Module) (*Snapshot, error) {
	classes := make(map[string]*ClassDescriptor)
	for _, mod := range modules {
		descs, err := registerModule(mod)
		if err != nil {
			return nil, err
		}
		for _, desc := range descs {
			if prev, dup := classes[desc.Name]; dup {
				return nil, NewScriptError(ErrorTypeDuplicateClassName, desc.Name, "",
					fmt.Sprintf("class %q is declared by both %q and %q", desc.Name, prev.Module, desc.Module), nil)
			}
			classes[desc.Name] = desc
		}
	}

	gen := m.generation.Add(1)
	names := make([]string, 0, len(classes))
	for name, desc := range classes {
		desc.Generation = gen
		names = append(names, name)
	}
	sort.Strings(names)

	return &Snapshot{
		ID:         uuid.New(),
		Generation: gen,
		Source:     source,
		LoadedAt:   time.Now(),
		classes:    classes,
		names:      names,
	}, nil
}

// registerModule runs a module's registration, containing panics in module code
func registerModule(mod Module) (descs []*ClassDescriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ScriptError{
				Type:      ErrorTypeInvalidScriptShape,
				Message:   fmt.Sprintf("module %q panicked during registration: %v", mod.Name(), r),
				ArgIndex:  noArg,
				Stack:     string(debug.Stack()),
				Timestamp: time.Now(),
			}
		}
	}()

	b := NewModuleBuilder(mod.Name())
	mod.Register(b)
	return b.build()
}

// Publish makes s the active snapshot and returns the one it replaced
func (m *Metadata) Publish(s *Snapshot) *Snapshot {
	return m.current.Swap(s)
}

// Current returns the active snapshot, or nil before the first publish
func (m *Metadata) Current() *Snapshot {
	return m.current.Load()
}

// Lookup resolves a class against the active snapshot
func (m *Metadata) Lookup(name string) (*ClassDescriptor, error) {
	return m.current.Load().Lookup(name)
}

// ListClasses lists the classes of the active snapshot
func (m *Metadata) ListClasses() []string {
	return m.current.Load().ListClasses()
}

// Release drops the active snapshot
func (m *Metadata) Release() *Snapshot {
	return m.current.Swap(nil)
}

// ClassDoc is the editor-facing documentation of a class
type ClassDoc struct {
	Name        string      `json:"name"`
	Base        string      `json:"base,omitempty"`
	Description string      `json:"description,omitempty"`
	Tool        bool        `json:"tool"`
	Module      string      `json:"module"`
	Properties  []MemberDoc `json:"properties"`
	Methods     []MemberDoc `json:"methods"`
	Signals     []MemberDoc `json:"signals"`
	Hooks       []string    `json:"hooks"`
}

// MemberDoc documents a property, method or signal
type MemberDoc struct {
	Name        string  `json:"name"`
	Type        string  `json:"type,omitempty"`
	Params      []Param `json:"params,omitempty"`
	Default     string  `json:"default,omitempty"`
	Mutable     bool    `json:"mutable,omitempty"`
	Hint        string  `json:"hint,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Documentation describes the named class for editor tooling
func (s *Snapshot) Documentation(name string) (*ClassDoc, error) {
	desc, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}
	doc := &ClassDoc{
		Name:        desc.Name,
		Base:        desc.Base,
		Description: desc.Description,
		Tool:        desc.Tool,
		Module:      desc.Module,
		Properties:  make([]MemberDoc, 0, len(desc.Properties)),
		Methods:     make([]MemberDoc, 0, len(desc.Methods)),
		Signals:     make([]MemberDoc, 0, len(desc.Signals)),
		Hooks:       make([]string, 0, len(desc.Hooks)),
	}
	for _, p := range desc.Properties {
		md := MemberDoc{
			Name:        p.Name,
			Type:        string(p.Type),
			Default:     FormatValue(p.Default),
			Description: p.Description,
		}
		if p.Hint.Kind != "" {
			md.Hint = p.Hint.Kind
			if p.Hint.Text != "" {
				md.Hint += ":" + p.Hint.Text
			}
		}
		doc.Properties = append(doc.Properties, md)
	}
	for _, m := range desc.Methods {
		doc.Methods = append(doc.Methods, MemberDoc{
			Name:        m.Name,
			Type:        string(m.Return),
			Params:      m.Params,
			Mutable:     m.Mutable,
			Description: m.Description,
		})
	}
	for _, sig := range desc.Signals {
		doc.Signals = append(doc.Signals, MemberDoc{
			Name:        sig.Name,
			Params:      sig.Params,
			Description: sig.Description,
		})
	}
	for h := range desc.Hooks {
		doc.Hooks = append(doc.Hooks, string(h))
	}
	sort.Strings(doc.Hooks)
	return doc, nil
}
