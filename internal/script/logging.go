package script

import (
	"context"
	"log/slog"
	"time"
)

// ScriptLogger provides centralized logging for the script runtime
type ScriptLogger struct {
	baseFields []slog.Attr
}

// NewScriptLogger creates a new script logger with base fields
func NewScriptLogger() *ScriptLogger {
	return &ScriptLogger{
		baseFields: []slog.Attr{
			slog.String("component", "script_runtime"),
		},
	}
}

func (sl *ScriptLogger) log(level slog.Level, message, eventType string, extra ...slog.Attr) {
	fields := make([]slog.Attr, 0, len(sl.baseFields)+1+len(extra))
	fields = append(fields, sl.baseFields...)
	fields = append(fields, slog.String("event_type", eventType))
	fields = append(fields, extra...)

	slog.LogAttrs(context.TODO(), level, message, fields...)
}

// LogDispatch logs a dispatch outcome for an object member
func (sl *ScriptLogger) LogDispatch(level slog.Level, message string, id ObjectID, class, member string, additionalFields ...slog.Attr) {
	fields := append([]slog.Attr{
		slog.Uint64("object_id", uint64(id)),
		slog.String("class", class),
		slog.String("member", member),
	}, additionalFields...)
	sl.log(level, message, "script_dispatch", fields...)
}

// LogScriptLifecycle logs instance and metadata lifecycle events
func (sl *ScriptLogger) LogScriptLifecycle(level slog.Level, message string, class string, additionalFields ...slog.Attr) {
	fields := append([]slog.Attr{slog.String("class", class)}, additionalFields...)
	sl.log(level, message, "script_lifecycle", fields...)
}

// LogSystemEvent logs system-level script events
func (sl *ScriptLogger) LogSystemEvent(level slog.Level, message string, additionalFields ...slog.Attr) {
	sl.log(level, message, "script_system", additionalFields...)
}

// LogHotReload logs hot-reload events
func (sl *ScriptLogger) LogHotReload(action, ref string, generation uint64, success bool, err error, additionalFields ...slog.Attr) {
	fields := []slog.Attr{
		slog.String("ref", ref),
		slog.String("action", action),
		slog.Uint64("generation", generation),
		slog.Bool("success", success),
	}
	if err != nil {
		fields = append(fields, slog.String("error", err.Error()))
	}
	fields = append(fields, additionalFields...)

	level := slog.LevelInfo
	if !success {
		level = slog.LevelError
	}

	sl.log(level, "Script hot-reload "+action, "hot_reload", fields...)
}

// LogMigrationLoss logs a property reset to its default during migration
func (sl *ScriptLogger) LogMigrationLoss(loss MigrationLoss) {
	sl.log(slog.LevelWarn, "Property reset during migration", "migration_loss",
		slog.Uint64("object_id", uint64(loss.Object)),
		slog.String("class", loss.Class),
		slog.String("property", loss.Property),
		slog.String("from", string(loss.From)),
		slog.String("to", string(loss.To)),
	)
}

// LogPerformance logs how long a dispatch took
func (sl *ScriptLogger) LogPerformance(class, member string, elapsed time.Duration, success bool) {
	level := slog.LevelDebug
	if !success {
		level = slog.LevelWarn
	}
	sl.log(level, "Script call metrics", "script_performance",
		slog.String("class", class),
		slog.String("member", member),
		slog.Duration("execution_time", elapsed),
		slog.Bool("success", success),
	)
}

// Global script logger instance
var scriptLogger = NewScriptLogger()

// LogDispatch logs a dispatch event
func LogDispatch(level slog.Level, message string, id ObjectID, class, member string, additionalFields ...slog.Attr) {
	scriptLogger.LogDispatch(level, message, id, class, member, additionalFields...)
}

// LogLifecycle logs a script lifecycle event
func LogLifecycle(level slog.Level, message string, class string, additionalFields ...slog.Attr) {
	scriptLogger.LogScriptLifecycle(level, message, class, additionalFields...)
}

// LogSystem logs a system-level event
func LogSystem(level slog.Level, message string, additionalFields ...slog.Attr) {
	scriptLogger.LogSystemEvent(level, message, additionalFields...)
}

// LogHotReloadEvent logs hot-reload events
func LogHotReloadEvent(action, ref string, generation uint64, success bool, err error, additionalFields ...slog.Attr) {
	scriptLogger.LogHotReload(action, ref, generation, success, err, additionalFields...)
}

// LogMigrationLoss logs a per-field migration loss
func LogMigrationLoss(loss MigrationLoss) {
	scriptLogger.LogMigrationLoss(loss)
}
