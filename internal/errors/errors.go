// Package errors defines the typed error taxonomy shared by every stage of
// the panel analysis pipeline.
//
// Errors fall into two families. Fatal errors (missing files, missing
// columns, empty merges) abort the current phase. Data-quality conditions
// that the methodology expects (residual non-normality, autocorrelation,
// heteroskedasticity) are never represented as errors at all; they are
// recorded as diagnostic results by the diagnostics package.
package errors

import (
	"fmt"
	"strings"
)

// ErrorType classifies pipeline errors
type ErrorType string

const (
	ErrTypeMissingFile      ErrorType = "MISSING_FILE"
	ErrTypeSchema           ErrorType = "SCHEMA"
	ErrTypeEmptyMerge       ErrorType = "EMPTY_MERGE"
	ErrTypeTypeMismatch     ErrorType = "TYPE_MISMATCH"
	ErrTypeDegenerateEntity ErrorType = "DEGENERATE_ENTITY"
	ErrTypeEstimation       ErrorType = "ESTIMATION"
	ErrTypeConfig           ErrorType = "CONFIG"
	ErrTypeExport           ErrorType = "EXPORT"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// IsType reports whether err is an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == errType
}

// NewMissingFileError reports an input file that does not exist.
// Fatal: the phase must stop and name the missing resource.
func NewMissingFileError(path string, cause error) *AppError {
	return NewAppError(ErrTypeMissingFile,
		fmt.Sprintf("input file not found: %s", path), cause).
		WithContext("path", path)
}

// NewSchemaError reports a required column absent from a loaded table.
func NewSchemaError(source, column string) *AppError {
	return NewAppError(ErrTypeSchema,
		fmt.Sprintf("source %q is missing required column %q", source, column), nil).
		WithContext("source", source).
		WithContext("column", column)
}

// NewEmptyMergeError reports a time merge that produced no overlapping rows.
func NewEmptyMergeError(sources []string) *AppError {
	return NewAppError(ErrTypeEmptyMerge,
		fmt.Sprintf("no overlapping time periods between sources: %s",
			strings.Join(sources, ", ")), nil).
		WithContext("sources", sources)
}

// NewTypeMismatchError reports an interaction built from a column that was
// never centered in this pipeline run.
func NewTypeMismatchError(column string) *AppError {
	return NewAppError(ErrTypeTypeMismatch,
		fmt.Sprintf("column %q was not produced by centering; interactions require centered inputs", column), nil).
		WithContext("column", column)
}

// NewDegenerateEntityError reports entities whose dependent variable has no
// within variance and therefore cannot identify fixed effects.
func NewDegenerateEntityError(entities []string) *AppError {
	return NewAppError(ErrTypeDegenerateEntity,
		fmt.Sprintf("%d entities have no within variance in the dependent variable: %s",
			len(entities), strings.Join(entities, ", ")), nil).
		WithContext("entities", entities)
}
