// Package pipelineerrors defines the typed error taxonomy shared by every
// pipeline stage, following the sentinel-plus-wrapping convention the rest
// of this codebase uses for storage errors.
package pipelineerrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error classes a pipeline stage can fail with.
type Kind string

const (
	KindConfig      Kind = "config"
	KindPartition   Kind = "partition"
	KindModel       Kind = "model"
	KindTransient   Kind = "transient"
	KindParse       Kind = "parse"
	KindTimeout     Kind = "timeout"
	KindQualityGate Kind = "quality_gate"
)

// Error wraps an underlying cause with a Kind so callers can classify
// failures with errors.As without depending on string matching.
type Error struct {
	Kind  Kind
	Step  string
	Cause error
}

func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, step string, cause error) *Error {
	return &Error{Kind: kind, Step: step, Cause: cause}
}

// Constructors, one per taxonomy member (spec §7).
func Config(step string, cause error) error      { return newErr(KindConfig, step, cause) }
func Partition(step string, cause error) error    { return newErr(KindPartition, step, cause) }
func Model(step string, cause error) error        { return newErr(KindModel, step, cause) }
func Transient(step string, cause error) error     { return newErr(KindTransient, step, cause) }
func Parse(step string, cause error) error         { return newErr(KindParse, step, cause) }
func Timeout(step string, cause error) error       { return newErr(KindTimeout, step, cause) }
func QualityGate(step string, cause error) error   { return newErr(KindQualityGate, step, cause) }

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// IsTransient reports whether err should be retried by the Model Gateway's
// backoff policy (spec §4.4).
func IsTransient(err error) bool {
	return Is(err, KindTransient)
}
