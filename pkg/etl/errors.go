package etl

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled is reported when the run context is cancelled.
	ErrCancelled = errors.New("run cancelled")

	errMissingKey = errors.New("missing natural key")
)

// ConfigurationError is a run-scoped error found while validating a mapping,
// before any row is read. It is not retryable until the configuration changes.
type ConfigurationError struct {
	Field  string // offending source field or mapping attribute, if any
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error on %s: %s", e.Field, e.Reason)
}

// TransformError is a row-scoped failure of a transform on one value.
type TransformError struct {
	Transform string
	Value     any
	Err       error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s failed for value %v: %v", e.Transform, e.Value, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// LookupMiss is a row-scoped failure of fk_lookup to find a target row.
type LookupMiss struct {
	Table string
	Field string
	Value any
}

func (e *LookupMiss) Error() string {
	return fmt.Sprintf("no %s row with %s = %v", e.Table, e.Field, e.Value)
}

// WriteError is a row-scoped rejection of one record by the target store,
// such as a constraint or data type violation.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return "target rejected row: " + e.Err.Error() }

func (e *WriteError) Unwrap() error { return e.Err }

// ConnectivityError is a run-scoped failure to reach the source or the target.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IsRowScoped reports whether err only affects the row being processed.
func IsRowScoped(err error) bool {
	var te *TransformError
	var lm *LookupMiss
	var we *WriteError
	return errors.As(err, &te) || errors.As(err, &lm) || errors.As(err, &we)
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// fatal wraps anything that is not row-scoped as a ConnectivityError, keeping
// cancellation recognizable.
func fatal(op string, err error) error {
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return err
	}
	return &ConnectivityError{Op: op, Err: err}
}
