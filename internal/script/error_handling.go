package script

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ErrorReporter classifies script runtime errors, tracks how often they
// occur and logs them at a level matching their severity.
type ErrorReporter struct {
	mu          sync.Mutex
	errorCounts map[string]int
	lastErrors  map[string]*ScriptError
	listeners   []func(*ErrorReport)
	threshold   int
}

// ErrorContext provides additional context for error analysis
type ErrorContext struct {
	Class      string
	Member     string
	Object     ObjectID
	Timestamp  time.Time
	StackTrace string
	SystemInfo SystemInfo
}

// SystemInfo captures system state at time of error
type SystemInfo struct {
	GoVersion     string
	OS            string
	Arch          string
	NumGoroutines int
	MemoryUsage   int64
}

// ErrorSummary provides aggregated error information
type ErrorSummary struct {
	TotalErrors     int               `json:"total_errors"`
	ErrorsByType    map[ErrorType]int `json:"errors_by_type"`
	ErrorsByClass   map[string]int    `json:"errors_by_class"`
	MostCommonError *ScriptError      `json:"-"`
	LastErrorTime   time.Time         `json:"last_error_time"`
}

// ErrorReport contains comprehensive information about a script error
type ErrorReport struct {
	Error           *ScriptError
	Context         *ErrorContext
	Severity        ErrorSeverity
	Recoverable     bool
	SuggestedAction string
	Occurrences     int
	FirstOccurrence bool
	// Repeating is set once the same error has been seen threshold times
	Repeating bool
}

// ErrorSeverity categorizes the impact of errors
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical" // Extension cannot run scripts
	SeverityHigh     ErrorSeverity = "high"     // Script code failed
	SeverityMedium   ErrorSeverity = "medium"   // A request was rejected
	SeverityLow      ErrorSeverity = "low"      // Benign or warning-level
)

// NewErrorReporter creates a new error reporter
func NewErrorReporter() *ErrorReporter {
	return &ErrorReporter{
		errorCounts: make(map[string]int),
		lastErrors:  make(map[string]*ScriptError),
		threshold:   5,
	}
}

// Subscribe registers fn to receive every report
func (er *ErrorReporter) Subscribe(fn func(*ErrorReport)) {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.listeners = append(er.listeners, fn)
}

func errorKey(err *ScriptError) string {
	return fmt.Sprintf("%s/%s/%s", err.Class, err.Member, err.Type)
}

// Report classifies err when it is a ScriptError; other errors are wrapped
// as script failures.
func (er *ErrorReporter) Report(ctx context.Context, err error) *ErrorReport {
	if err == nil {
		return nil
	}
	serr, ok := AsScriptError(err)
	if !ok {
		serr = NewScriptError(ErrorTypeScriptFailure, "", "", "unclassified script runtime error", err)
	}
	return er.ReportError(ctx, serr)
}

// ReportError reports and categorizes a script error with full context
func (er *ErrorReporter) ReportError(ctx context.Context, err *ScriptError) *ErrorReport {
	key := errorKey(err)

	er.mu.Lock()
	er.errorCounts[key]++
	er.lastErrors[key] = err
	count := er.errorCounts[key]
	listeners := append([]func(*ErrorReport){}, er.listeners...)
	er.mu.Unlock()

	report := &ErrorReport{
		Error:           err,
		Context:         er.createErrorContext(err),
		Severity:        er.determineSeverity(err, count),
		Recoverable:     er.isRecoverable(err),
		SuggestedAction: er.suggestAction(err),
		Occurrences:     count,
		FirstOccurrence: count == 1,
		Repeating:       count >= er.threshold,
	}

	er.logError(report)
	for _, fn := range listeners {
		fn(report)
	}
	return report
}

// createErrorContext builds comprehensive error context
func (er *ErrorReporter) createErrorContext(err *ScriptError) *ErrorContext {
	stackTrace := err.Stack
	if stackTrace == "" {
		stackBuf := make([]byte, 4096)
		stackSize := runtime.Stack(stackBuf, false)
		stackTrace = string(stackBuf[:stackSize])
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &ErrorContext{
		Class:      err.Class,
		Member:     err.Member,
		Object:     err.Object,
		Timestamp:  err.Timestamp,
		StackTrace: stackTrace,
		SystemInfo: SystemInfo{
			GoVersion:     runtime.Version(),
			OS:            runtime.GOOS,
			Arch:          runtime.GOARCH,
			NumGoroutines: runtime.NumGoroutine(),
			MemoryUsage:   int64(memStats.Alloc),
		},
	}
}

// determineSeverity categorizes error severity based on type and frequency
func (er *ErrorReporter) determineSeverity(err *ScriptError, count int) ErrorSeverity {
	switch err.Type {
	case ErrorTypeDuplicateClassName, ErrorTypeInvalidScriptShape, ErrorTypeReloadFailed:
		return SeverityHigh
	case ErrorTypePropagatedPanic, ErrorTypeScriptFailure:
		if count > 3 {
			return SeverityCritical
		}
		return SeverityHigh
	case ErrorTypeUnknownClass, ErrorTypeUnknownMember, ErrorTypeTypeMismatch,
		ErrorTypeAlreadyAttached, ErrorTypeIncompatibleBase, ErrorTypeReadOnly:
		return SeverityMedium
	case ErrorTypeInstanceNotFound, ErrorTypeStale, ErrorTypePropertyMigrationLoss, ErrorTypeNotAccepting:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// isRecoverable determines whether the runtime keeps working after err
func (er *ErrorReporter) isRecoverable(err *ScriptError) bool {
	switch err.Type {
	case ErrorTypeDuplicateClassName, ErrorTypeInvalidScriptShape:
		// Fatal only during the initial load; a reload keeps the old snapshot.
		return false
	default:
		return true
	}
}

// suggestAction provides actionable suggestions for error resolution
func (er *ErrorReporter) suggestAction(err *ScriptError) string {
	switch err.Type {
	case ErrorTypeDuplicateClassName:
		return "Rename one of the classes; class names must be unique across all script modules."
	case ErrorTypeInvalidScriptShape:
		return "Check declared property, parameter and return types and that every method has an implementation."
	case ErrorTypeUnknownClass:
		return "Check the class name against the loaded script classes."
	case ErrorTypeUnknownMember:
		return "Check the member name and argument count against the class declaration."
	case ErrorTypeTypeMismatch:
		return "Pass a value of the declared type; strings are never converted to numbers."
	case ErrorTypePropagatedPanic:
		return "Fix the panic in script code; other instances are unaffected."
	case ErrorTypeScriptFailure:
		return "Review script logic for the returned error."
	case ErrorTypePropertyMigrationLoss:
		return "The property changed type during reload and was reset to its default."
	case ErrorTypeReloadFailed:
		return "Fix the script modules; the previous version stays active until a reload succeeds."
	case ErrorTypeIncompatibleBase:
		return "Attach the script to an object inheriting the class's base type."
	case ErrorTypeReadOnly:
		return "Mark the method as mutating to change instance state."
	default:
		return "Review error details and script implementation."
	}
}

// logError logs the error with appropriate level and context
func (er *ErrorReporter) logError(report *ErrorReport) {
	fields := []interface{}{
		"class", report.Error.Class,
		"member", report.Error.Member,
		"error_type", report.Error.Type,
		"severity", report.Severity,
		"recoverable", report.Recoverable,
		"occurrences", report.Occurrences,
		"first_occurrence", report.FirstOccurrence,
		"error_message", report.Error.Message,
	}
	if report.Error.Object != 0 {
		fields = append(fields, "object_id", uint64(report.Error.Object))
	}
	if report.Error.Cause != nil {
		fields = append(fields, "underlying_error", report.Error.Cause.Error())
	}

	switch report.Severity {
	case SeverityCritical:
		slog.Error("Critical script error", fields...)
	case SeverityHigh:
		slog.Error("High severity script error", fields...)
	case SeverityMedium:
		slog.Warn("Medium severity script error", fields...)
	case SeverityLow:
		slog.Info("Low severity script error", fields...)
	}

	if report.FirstOccurrence && report.SuggestedAction != "" {
		slog.Info("Error resolution suggestion",
			"class", report.Error.Class,
			"member", report.Error.Member,
			"suggestion", report.SuggestedAction,
		)
	}

	if report.Severity == SeverityCritical && report.Context != nil {
		slog.Debug("Stack trace for critical error",
			"class", report.Error.Class,
			"member", report.Error.Member,
			"stack_trace", report.Context.StackTrace,
		)
	}
}

// GetErrorSummary returns aggregated error statistics
func (er *ErrorReporter) GetErrorSummary() *ErrorSummary {
	er.mu.Lock()
	defer er.mu.Unlock()

	summary := &ErrorSummary{
		ErrorsByType:  make(map[ErrorType]int),
		ErrorsByClass: make(map[string]int),
	}

	var mostCommonCount int
	for key, count := range er.errorCounts {
		summary.TotalErrors += count

		parts := strings.Split(key, "/")
		if len(parts) == 3 {
			summary.ErrorsByClass[parts[0]] += count
			summary.ErrorsByType[ErrorType(parts[2])] += count
		}

		lastErr := er.lastErrors[key]
		if count > mostCommonCount {
			mostCommonCount = count
			summary.MostCommonError = lastErr
		}
		if lastErr != nil && lastErr.Timestamp.After(summary.LastErrorTime) {
			summary.LastErrorTime = lastErr.Timestamp
		}
	}
	return summary
}

// ClearErrorHistory clears error tracking history
func (er *ErrorReporter) ClearErrorHistory() {
	er.mu.Lock()
	er.errorCounts = make(map[string]int)
	er.lastErrors = make(map[string]*ScriptError)
	er.mu.Unlock()
	slog.Info("Error history cleared")
}
