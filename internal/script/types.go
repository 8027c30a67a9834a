package script

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ScriptLanguage represents the languages script modules can be written in
type ScriptLanguage string

const (
	LanguageGo    ScriptLanguage = "go"
	LanguageTengo ScriptLanguage = "tengo"
)

// Extensions lists the source file extensions a language's modules are read from
func (l ScriptLanguage) Extensions() []string {
	switch l {
	case LanguageGo:
		return []string{".go"}
	case LanguageTengo:
		return []string{".hcl", ".tengo"}
	}
	return nil
}

// VariantType is the declared type tag of a property, parameter or return value
type VariantType string

const (
	TypeNil        VariantType = "nil"
	TypeBool       VariantType = "bool"
	TypeInt        VariantType = "int"
	TypeFloat      VariantType = "float"
	TypeString     VariantType = "string"
	TypeVector2    VariantType = "vector2"
	TypeVector3    VariantType = "vector3"
	TypeColor      VariantType = "color"
	TypeArray      VariantType = "array"
	TypeDictionary VariantType = "dictionary"
	TypeObject     VariantType = "object"
	TypeVariant    VariantType = "variant"
)

var knownTypes = map[VariantType]bool{
	TypeNil:        true,
	TypeBool:       true,
	TypeInt:        true,
	TypeFloat:      true,
	TypeString:     true,
	TypeVector2:    true,
	TypeVector3:    true,
	TypeColor:      true,
	TypeArray:      true,
	TypeDictionary: true,
	TypeObject:     true,
	TypeVariant:    true,
}

// Valid reports whether the tag has an engine-compatible representation
func (t VariantType) Valid() bool {
	return knownTypes[t]
}

// ObjectID is the opaque, stable handle the host uses for a live object
type ObjectID uint64

func (id ObjectID) String() string {
	return "#" + strconv.FormatUint(uint64(id), 10)
}

// ObjectRef identifies a host object together with its engine class
type ObjectRef struct {
	ID    ObjectID
	Class string
}

// Vector2 is the native form of TypeVector2
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vector3 is the native form of TypeVector3
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Color is the native form of TypeColor
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// ErrorType categorizes runtime errors
type ErrorType string

const (
	ErrorTypeDuplicateClassName    ErrorType = "duplicate_class_name"
	ErrorTypeInvalidScriptShape    ErrorType = "invalid_script_shape"
	ErrorTypeUnknownClass          ErrorType = "unknown_class"
	ErrorTypeAlreadyAttached       ErrorType = "already_attached"
	ErrorTypeInstanceNotFound      ErrorType = "instance_not_found"
	ErrorTypeStale                 ErrorType = "stale"
	ErrorTypeUnknownMember         ErrorType = "unknown_member"
	ErrorTypeTypeMismatch          ErrorType = "type_mismatch"
	ErrorTypePropagatedPanic       ErrorType = "propagated_panic"
	ErrorTypePropertyMigrationLoss ErrorType = "property_migration_loss"
	ErrorTypeReloadFailed          ErrorType = "reload_failed"
	ErrorTypeIncompatibleBase      ErrorType = "incompatible_base"
	ErrorTypeNotAccepting          ErrorType = "not_accepting"
	ErrorTypeReadOnly              ErrorType = "read_only"
	ErrorTypeScriptFailure         ErrorType = "script_failure"
)

// noArg marks a ScriptError that is not about a specific argument
const noArg = -1

// ScriptError represents runtime errors with the context the host needs to report them
type ScriptError struct {
	Type    ErrorType
	Class   string
	Member  string
	Object  ObjectID
	Message string
	Cause   error

	// ArgIndex, Expected and Actual are set for type mismatches. ArgIndex is -1
	// when the mismatch is about a property value or a return value.
	ArgIndex int
	Expected VariantType
	Actual   VariantType

	// Arity is set when a call had the wrong number of arguments
	Arity *ArityMismatch

	// Stack is the goroutine stack captured for contained panics
	Stack string

	Timestamp time.Time
}

// ArityMismatch records the argument counts of a rejected call
type ArityMismatch struct {
	Got  int
	Want int
}

func (e *ScriptError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// NewScriptError creates a new ScriptError with the given parameters
func NewScriptError(errorType ErrorType, class, member, message string, cause error) *ScriptError {
	return &ScriptError{
		Type:      errorType,
		Class:     class,
		Member:    member,
		Message:   message,
		Cause:     cause,
		ArgIndex:  noArg,
		Timestamp: time.Now(),
	}
}

// NewTypeMismatch reports a value that cannot be represented in the declared type.
// argIndex is -1 for property values and return values.
func NewTypeMismatch(class, member string, argIndex int, expected, actual VariantType) *ScriptError {
	var msg string
	if argIndex >= 0 {
		msg = fmt.Sprintf("%s.%s: argument %d expected %s, got %s", class, member, argIndex, expected, actual)
	} else {
		msg = fmt.Sprintf("%s.%s: expected %s, got %s", class, member, expected, actual)
	}
	err := NewScriptError(ErrorTypeTypeMismatch, class, member, msg, nil)
	err.ArgIndex = argIndex
	err.Expected = expected
	err.Actual = actual
	return err
}

// IsErrorType reports whether err is, or wraps, a ScriptError of the given type
func IsErrorType(err error, errorType ErrorType) bool {
	var scriptErr *ScriptError
	if errors.As(err, &scriptErr) {
		return scriptErr.Type == errorType
	}
	return false
}

// AsScriptError extracts the ScriptError from err, if any
func AsScriptError(err error) (*ScriptError, bool) {
	var scriptErr *ScriptError
	ok := errors.As(err, &scriptErr)
	return scriptErr, ok
}
