package script

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorReporter_ReportError(t *testing.T) {
	reporter := NewErrorReporter()

	scriptErr := NewTypeMismatch("Foo", "add", 0, TypeInt, TypeString)
	scriptErr.Object = 7

	report := reporter.ReportError(context.Background(), scriptErr)

	assert.Equal(t, scriptErr, report.Error)
	assert.Equal(t, SeverityMedium, report.Severity)
	assert.True(t, report.Recoverable)
	assert.True(t, report.FirstOccurrence)
	assert.Equal(t, 1, report.Occurrences)
	assert.NotEmpty(t, report.SuggestedAction)

	assert.Equal(t, "Foo", report.Context.Class)
	assert.Equal(t, "add", report.Context.Member)
	assert.Equal(t, ObjectID(7), report.Context.Object)
	assert.NotEmpty(t, report.Context.StackTrace)
	assert.NotEmpty(t, report.Context.SystemInfo.GoVersion)
}

func TestErrorReporter_DetermineSeverity(t *testing.T) {
	reporter := NewErrorReporter()

	testCases := []struct {
		errorType        ErrorType
		expectedSeverity ErrorSeverity
	}{
		{ErrorTypeDuplicateClassName, SeverityHigh},
		{ErrorTypeInvalidScriptShape, SeverityHigh},
		{ErrorTypeReloadFailed, SeverityHigh},
		{ErrorTypePropagatedPanic, SeverityHigh},
		{ErrorTypeUnknownMember, SeverityMedium},
		{ErrorTypeTypeMismatch, SeverityMedium},
		{ErrorTypeReadOnly, SeverityMedium},
		{ErrorTypeStale, SeverityLow},
		{ErrorTypePropertyMigrationLoss, SeverityLow},
	}

	for _, tc := range testCases {
		t.Run(string(tc.errorType), func(t *testing.T) {
			err := NewScriptError(tc.errorType, "Foo", "m", "test", nil)
			assert.Equal(t, tc.expectedSeverity, reporter.determineSeverity(err, 1))
		})
	}
}

func TestErrorReporter_RepeatedPanicsEscalate(t *testing.T) {
	reporter := NewErrorReporter()
	ctx := context.Background()

	var report *ErrorReport
	for i := 0; i < 5; i++ {
		report = reporter.ReportError(ctx, NewScriptError(ErrorTypePropagatedPanic, "Foo", "boom", "panicked", nil))
	}
	assert.Equal(t, SeverityCritical, report.Severity)
	assert.Equal(t, 5, report.Occurrences)
	assert.False(t, report.FirstOccurrence)
	assert.True(t, report.Repeating)
}

func TestErrorReporter_IsRecoverable(t *testing.T) {
	reporter := NewErrorReporter()

	assert.False(t, reporter.isRecoverable(NewScriptError(ErrorTypeDuplicateClassName, "", "", "", nil)))
	assert.False(t, reporter.isRecoverable(NewScriptError(ErrorTypeInvalidScriptShape, "", "", "", nil)))
	assert.True(t, reporter.isRecoverable(NewScriptError(ErrorTypePropagatedPanic, "", "", "", nil)))
	assert.True(t, reporter.isRecoverable(NewScriptError(ErrorTypeReloadFailed, "", "", "", nil)))
}

func TestErrorReporter_ReportWrapsPlainErrors(t *testing.T) {
	reporter := NewErrorReporter()
	cause := errors.New("plain failure")

	report := reporter.Report(context.Background(), cause)
	require.NotNil(t, report)
	assert.Equal(t, ErrorTypeScriptFailure, report.Error.Type)
	assert.ErrorIs(t, report.Error, cause)

	assert.Nil(t, reporter.Report(context.Background(), nil))
}

func TestErrorReporter_Subscribe(t *testing.T) {
	reporter := NewErrorReporter()
	var got []*ErrorReport
	reporter.Subscribe(func(r *ErrorReport) { got = append(got, r) })

	reporter.ReportError(context.Background(), NewScriptError(ErrorTypeUnknownClass, "Nope", "", "unknown", nil))
	require.Len(t, got, 1)
	assert.Equal(t, "Nope", got[0].Error.Class)
}

func TestErrorReporter_ErrorSummary(t *testing.T) {
	reporter := NewErrorReporter()
	ctx := context.Background()

	reporter.ReportError(ctx, NewScriptError(ErrorTypeTypeMismatch, "Foo", "add", "a", nil))
	reporter.ReportError(ctx, NewScriptError(ErrorTypeTypeMismatch, "Foo", "add", "b", nil))
	reporter.ReportError(ctx, NewScriptError(ErrorTypePropagatedPanic, "Bar", "boom", "c", nil))

	summary := reporter.GetErrorSummary()
	assert.Equal(t, 3, summary.TotalErrors)
	assert.Equal(t, 2, summary.ErrorsByType[ErrorTypeTypeMismatch])
	assert.Equal(t, 1, summary.ErrorsByType[ErrorTypePropagatedPanic])
	assert.Equal(t, 2, summary.ErrorsByClass["Foo"])
	assert.Equal(t, 1, summary.ErrorsByClass["Bar"])
	require.NotNil(t, summary.MostCommonError)
	assert.Equal(t, ErrorTypeTypeMismatch, summary.MostCommonError.Type)
	assert.False(t, summary.LastErrorTime.IsZero())
}

func TestErrorReporter_SuggestAction(t *testing.T) {
	reporter := NewErrorReporter()

	for _, errorType := range []ErrorType{
		ErrorTypeDuplicateClassName,
		ErrorTypeInvalidScriptShape,
		ErrorTypeTypeMismatch,
		ErrorTypePropagatedPanic,
		ErrorTypeReloadFailed,
		ErrorTypeStale,
	} {
		t.Run(string(errorType), func(t *testing.T) {
			suggestion := reporter.suggestAction(NewScriptError(errorType, "", "", "", nil))
			assert.NotEmpty(t, suggestion)
		})
	}
}

func TestErrorReporter_ClearHistory(t *testing.T) {
	reporter := NewErrorReporter()
	reporter.ReportError(context.Background(), NewScriptError(ErrorTypeTypeMismatch, "Foo", "add", "a", nil))
	assert.Equal(t, 1, reporter.GetErrorSummary().TotalErrors)

	reporter.ClearErrorHistory()
	summary := reporter.GetErrorSummary()
	assert.Equal(t, 0, summary.TotalErrors)
	assert.Nil(t, summary.MostCommonError)
}
