package pubsub

import (
	"time"

	"github.com/nfrund/scriptrt/internal/script"
)

// ReloadRequest asks the hot-reload coordinator to rebuild from Ref.
type ReloadRequest struct {
	Ref    string   `json:"ref"`
	Reason string   `json:"reason,omitempty"`
	Paths  []string `json:"paths,omitempty"`
}

// Diagnostic is the bus form of a script error report.
type Diagnostic struct {
	Type        script.ErrorType     `json:"type"`
	Severity    script.ErrorSeverity `json:"severity"`
	Class       string               `json:"class,omitempty"`
	Member      string               `json:"member,omitempty"`
	Object      script.ObjectID      `json:"object,omitempty"`
	Message     string               `json:"message"`
	Suggestion  string               `json:"suggestion,omitempty"`
	Recoverable bool                 `json:"recoverable"`
	Occurrences int                  `json:"occurrences"`
	Timestamp   time.Time            `json:"timestamp"`
}

// DiagnosticFrom flattens an error report for publishing.
func DiagnosticFrom(r *script.ErrorReport) Diagnostic {
	return Diagnostic{
		Type:        r.Error.Type,
		Severity:    r.Severity,
		Class:       r.Error.Class,
		Member:      r.Error.Member,
		Object:      r.Error.Object,
		Message:     r.Error.Error(),
		Suggestion:  r.SuggestedAction,
		Recoverable: r.Recoverable,
		Occurrences: r.Occurrences,
		Timestamp:   r.Context.Timestamp,
	}
}

var (
	ReloadRequested = NewEvent[ReloadRequest]("scripts.reload.requested", "A script source changed or a reload was requested")
	ReloadCompleted = NewEvent[script.ReloadReport]("scripts.reload.completed", "A reload attempt finished")
	Diagnostics     = NewEvent[Diagnostic]("scripts.diagnostics", "A script error was reported")
)
