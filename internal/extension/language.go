package extension

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/nfrund/scriptrt/internal/script"
)

// LanguageName is the name the runtime registers with the host
const LanguageName = "scriptrt"

// Host is the engine side of the extension: it keeps track of the script
// languages it can dispatch to.
type Host interface {
	RegisterScriptLanguage(lang *Language) error
	UnregisterScriptLanguage(lang *Language) error
}

// Runtime bundles the script services that live for one init/deinit cycle
type Runtime struct {
	Metadata    *script.Metadata
	Instances   *script.Instances
	Dispatcher  *script.Dispatcher
	Coordinator *script.Coordinator
	Reporter    *script.ErrorReporter
	Loader      script.ModuleLoader
	Root        string
}

// Language is the inbound surface the host uses to drive scripts. Every
// failure is passed to the error reporter before being returned.
type Language struct {
	rt *Runtime
}

func newLanguage(rt *Runtime) *Language {
	return &Language{rt: rt}
}

// Name returns the language name
func (l *Language) Name() string {
	return LanguageName
}

// Runtime exposes the services behind the language
func (l *Language) Runtime() *Runtime {
	return l.rt
}

func (l *Language) report(ctx context.Context, err error) error {
	if err != nil {
		l.rt.Reporter.Report(ctx, err)
	}
	return err
}

// ListClasses lists every script class the host may attach
func (l *Language) ListClasses() []string {
	return l.rt.Metadata.ListClasses()
}

// Documentation returns the editor documentation for class
func (l *Language) Documentation(class string) (*script.ClassDoc, error) {
	return l.rt.Metadata.Current().Documentation(class)
}

// HasClass reports whether class is currently registered
func (l *Language) HasClass(class string) bool {
	_, err := l.rt.Metadata.Lookup(class)
	return err == nil
}

// CreateInstance attaches a new instance of class to owner
func (l *Language) CreateInstance(ctx context.Context, owner script.ObjectRef, class string) error {
	_, err := l.rt.Instances.Create(ctx, owner, class)
	return l.report(ctx, err)
}

// DestroyInstance detaches the instance from id. A missing instance is
// benign and not reported.
func (l *Language) DestroyInstance(ctx context.Context, id script.ObjectID) error {
	err := l.rt.Instances.Destroy(ctx, id)
	if script.IsErrorType(err, script.ErrorTypeInstanceNotFound) {
		return err
	}
	return l.report(ctx, err)
}

// HasInstance reports whether id has an attached instance
func (l *Language) HasInstance(id script.ObjectID) bool {
	_, err := l.rt.Instances.Get(id)
	return err == nil
}

// Get reads a property
func (l *Language) Get(ctx context.Context, id script.ObjectID, name string) (cty.Value, error) {
	v, err := l.rt.Dispatcher.GetProperty(ctx, id, name)
	return v, l.report(ctx, err)
}

// Set writes a property
func (l *Language) Set(ctx context.Context, id script.ObjectID, name string, value cty.Value) error {
	return l.report(ctx, l.rt.Dispatcher.SetProperty(ctx, id, name, value))
}

// Call invokes a method and maps any failure onto a host call-error code
func (l *Language) Call(ctx context.Context, id script.ObjectID, method string, args ...cty.Value) (cty.Value, script.CallError, error) {
	v, err := l.rt.Dispatcher.CallMethod(ctx, id, method, args...)
	return v, script.CallErrorOf(err), l.report(ctx, err)
}

// Hook runs a lifecycle hook; classes without the hook are a no-op
func (l *Language) Hook(ctx context.Context, id script.ObjectID, hook script.Hook, args ...cty.Value) (bool, error) {
	handled, err := l.rt.Dispatcher.CallHook(ctx, id, hook, args...)
	return handled, l.report(ctx, err)
}

// Reload asks the coordinator to rebuild from the script root
func (l *Language) Reload(ctx context.Context) (*script.ReloadReport, error) {
	return l.rt.Coordinator.Reload(ctx, l.rt.Root)
}
