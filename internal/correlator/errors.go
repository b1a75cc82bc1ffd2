package correlator

import (
	"errors"
	"fmt"
)

// FaultCode categorizes runtime faults surfaced by the controller.
type FaultCode string

const (
	// CodeSensorTimeout: a sensor collaborator stopped producing events.
	// Reported, not fatal; the controller runs degraded.
	CodeSensorTimeout FaultCode = "SENSOR_TIMEOUT"

	// CodeClassifierFailed: the escalation collaborator errored or timed
	// out; the transaction stays ambiguous.
	CodeClassifierFailed FaultCode = "CLASSIFIER_FAILED"

	// CodeLedgerDrift: tracked cart weight diverged from the live
	// baseline beyond the global tolerance.
	CodeLedgerDrift FaultCode = "LEDGER_DRIFT"
)

// FaultError is a categorized runtime fault with context for diagnostics.
// Faults are reported through logs and notifications; none of them stop
// the event loop.
type FaultError struct {
	Code    FaultCode
	Message string
	Source  string // sensor or collaborator name, if applicable
	Err     error
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s (source=%s)", e.Code, e.Message, e.Source)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *FaultError) Unwrap() error {
	return e.Err
}

// IsFault reports whether err is a FaultError with the given code.
func IsFault(err error, code FaultCode) bool {
	var fe *FaultError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}
