// Package enginesim is an in-memory stand-in for the game engine host. It
// owns objects and a class hierarchy and drives the script language the way
// the engine would.
package enginesim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/zclconf/go-cty/cty"

	"github.com/nfrund/scriptrt/internal/extension"
	"github.com/nfrund/scriptrt/internal/script"
)

var (
	ErrUnknownObject      = errors.New("unknown object")
	ErrUnknownEngineClass = errors.New("unknown engine class")
	ErrLanguageRegistered = errors.New("script language already registered")
	ErrNoLanguage         = errors.New("no script language registered")
)

// Object is a host object, optionally carrying a script
type Object struct {
	ID     script.ObjectID `json:"id"`
	Class  string          `json:"class"`
	Script string          `json:"script,omitempty"`
}

// Engine is the simulated host
type Engine struct {
	mu      sync.RWMutex
	parents map[string]string
	objects map[script.ObjectID]*Object
	nextID  script.ObjectID
	lang    *extension.Language
	signals []script.Signal
	events  []string
	frames  uint64
}

// New creates an engine with a small built-in class hierarchy
func New() *Engine {
	e := &Engine{
		parents: map[string]string{"Object": ""},
		objects: make(map[script.ObjectID]*Object),
		nextID:  1,
	}
	for _, c := range [][2]string{
		{"Node", "Object"},
		{"Node2D", "Node"},
		{"Node3D", "Node"},
		{"Sprite2D", "Node2D"},
		{"CharacterBody2D", "Node2D"},
		{"Control", "Node"},
		{"Resource", "Object"},
	} {
		e.parents[c[0]] = c[1]
	}
	return e
}

// RegisterClass adds an engine class deriving from parent
func (e *Engine) RegisterClass(name, parent string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.parents[parent]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEngineClass, parent)
	}
	e.parents[name] = parent
	return nil
}

// IsParentClass reports whether class inherits from (or is) parent
func (e *Engine) IsParentClass(class, parent string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for c := class; c != ""; {
		if c == parent {
			return true
		}
		next, ok := e.parents[c]
		if !ok {
			return false
		}
		c = next
	}
	return false
}

// RegisterScriptLanguage implements extension.Host
func (e *Engine) RegisterScriptLanguage(lang *extension.Language) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lang != nil {
		return ErrLanguageRegistered
	}
	e.lang = lang
	e.events = append(e.events, "register:"+lang.Name())
	return nil
}

// UnregisterScriptLanguage implements extension.Host
func (e *Engine) UnregisterScriptLanguage(lang *extension.Language) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lang == nil || e.lang != lang {
		return ErrNoLanguage
	}
	e.lang = nil
	e.events = append(e.events, "unregister:"+lang.Name())
	return nil
}

// EmitSignal implements script.SignalSink by recording the signal
func (e *Engine) EmitSignal(ctx context.Context, sig script.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signals = append(e.signals, sig)
}

// Language returns the registered script language
func (e *Engine) Language() (*extension.Language, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lang == nil {
		return nil, ErrNoLanguage
	}
	return e.lang, nil
}

// Signals returns every signal delivered so far
func (e *Engine) Signals() []script.Signal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.signals)
}

// Events returns the language registration history
func (e *Engine) Events() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.events)
}

// Frames returns how many frames have been ticked
func (e *Engine) Frames() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.frames
}

// Spawn creates an engine object of class
func (e *Engine) Spawn(class string) (script.ObjectID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.parents[class]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEngineClass, class)
	}
	id := e.nextID
	e.nextID++
	e.objects[id] = &Object{ID: id, Class: class}
	return id, nil
}

// Object returns a copy of the object with id
func (e *Engine) Object(id script.ObjectID) (Object, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	obj, ok := e.objects[id]
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	return *obj, nil
}

// Objects lists every object in id order
func (e *Engine) Objects() []Object {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Object, 0, len(e.objects))
	for _, id := range slices.Sorted(maps.Keys(e.objects)) {
		out = append(out, *e.objects[id])
	}
	return out
}

// Attach creates a script instance of class on object id, then runs its
// ready hook.
func (e *Engine) Attach(ctx context.Context, id script.ObjectID, class string) error {
	lang, err := e.Language()
	if err != nil {
		return err
	}
	obj, err := e.Object(id)
	if err != nil {
		return err
	}
	if err := lang.CreateInstance(ctx, script.ObjectRef{ID: id, Class: obj.Class}, class); err != nil {
		return err
	}

	e.mu.Lock()
	if o, ok := e.objects[id]; ok {
		o.Script = class
	}
	e.mu.Unlock()

	_, err = lang.Hook(ctx, id, script.HookReady)
	return err
}

// Free runs the exit_tree hook of an attached script, detaches it and
// deletes the object.
func (e *Engine) Free(ctx context.Context, id script.ObjectID) error {
	obj, err := e.Object(id)
	if err != nil {
		return err
	}

	var errs []error
	if obj.Script != "" {
		if lang, err := e.Language(); err == nil {
			if _, err := lang.Hook(ctx, id, script.HookExitTree); err != nil {
				errs = append(errs, err)
			}
			if err := lang.DestroyInstance(ctx, id); err != nil && !script.IsErrorType(err, script.ErrorTypeInstanceNotFound) {
				errs = append(errs, err)
			}
		}
	}

	e.mu.Lock()
	delete(e.objects, id)
	e.mu.Unlock()
	return errors.Join(errs...)
}

// Tick advances one frame, running the process hook of every scripted
// object in id order. Hook failures are collected, not fatal.
func (e *Engine) Tick(ctx context.Context, delta float64) error {
	lang, err := e.Language()
	if err != nil {
		return err
	}

	var errs []error
	for _, obj := range e.Objects() {
		if obj.Script == "" {
			continue
		}
		if _, err := lang.Hook(ctx, obj.ID, script.HookProcess, cty.NumberFloatVal(delta)); err != nil {
			slog.Debug("Process hook failed", "object_id", uint64(obj.ID), "error", err)
			errs = append(errs, err)
		}
	}

	e.mu.Lock()
	e.frames++
	e.mu.Unlock()
	return errors.Join(errs...)
}

// Get reads a script property of object id
func (e *Engine) Get(ctx context.Context, id script.ObjectID, name string) (cty.Value, error) {
	lang, err := e.Language()
	if err != nil {
		return cty.NilVal, err
	}
	return lang.Get(ctx, id, name)
}

// Set writes a script property of object id
func (e *Engine) Set(ctx context.Context, id script.ObjectID, name string, value cty.Value) error {
	lang, err := e.Language()
	if err != nil {
		return err
	}
	return lang.Set(ctx, id, name, value)
}

// Call invokes a script method of object id
func (e *Engine) Call(ctx context.Context, id script.ObjectID, method string, args ...cty.Value) (cty.Value, error) {
	lang, err := e.Language()
	if err != nil {
		return cty.NilVal, err
	}
	v, _, err := lang.Call(ctx, id, method, args...)
	return v, err
}
