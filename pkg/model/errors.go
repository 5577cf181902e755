package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrorKind classifies an engine error per the taxonomy of spec §7.
// Each kind carries a fixed fatal/non-fatal classification so callers
// can decide propagation mechanically instead of by string-matching.
type ErrorKind string

const (
	ErrSchemaValidationFailed    ErrorKind = "SCHEMA_VALIDATION_FAILED"
	ErrCanonicalization          ErrorKind = "CANONICALIZATION_ERROR"
	ErrTransform                 ErrorKind = "TRANSFORM_ERROR"
	ErrPluginInvariantViolation  ErrorKind = "PLUGIN_INVARIANT_VIOLATION"
	ErrContractMerge             ErrorKind = "CONTRACT_MERGE_ERROR"
	ErrOrchestrationInvariant    ErrorKind = "ORCHESTRATION_INVARIANT_ERROR"
	ErrTopologyMismatch          ErrorKind = "TOPOLOGY_MISMATCH"
	ErrCapacity                  ErrorKind = "CAPACITY_ERROR"
	ErrTimeout                   ErrorKind = "TIMEOUT_ERROR"
	ErrDurability                ErrorKind = "DURABILITY_ERROR"
	ErrAuditIntegrity            ErrorKind = "AUDIT_INTEGRITY_ERROR"
)

// fatalKinds enumerates the ErrorKinds that must abort the owning run
// rather than merely fail the current row/token. A kind absent from
// this set is non-fatal: the row is quarantined or the token is routed
// to FAILED and the run continues.
var fatalKinds = map[ErrorKind]bool{
	ErrPluginInvariantViolation: true,
	ErrContractMerge:            true,
	ErrOrchestrationInvariant:   true,
	ErrTopologyMismatch:         true,
	ErrDurability:               true,
	ErrAuditIntegrity:           true,
}

// IsFatal reports whether an error of this kind must abort the run.
func (k ErrorKind) IsFatal() bool {
	return fatalKinds[k]
}

// EngineError is the concrete error type carrying an ErrorKind. It
// wraps an underlying cause and exposes it via Unwrap so callers can
// use errors.As/errors.Is against both the kind and the cause.
type EngineError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	Cause     error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Fatal reports whether this error's kind must abort the owning run.
func (e *EngineError) Fatal() bool {
	return e.Kind.IsFatal()
}

// NewEngineError constructs an EngineError of the given kind.
func NewEngineError(kind ErrorKind, message string, retryable bool, cause error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Retryable: retryable, Cause: cause}
}

// ToErrorPayload hashes the error's message deterministically and
// produces the ErrorPayload embedded in NodeState/Call/Operation audit
// records. The hash lets two identical failures be recognized as the
// same error without re-storing the full message each time.
func (e *EngineError) ToErrorPayload() *ErrorPayload {
	sum := sha256.Sum256([]byte(string(e.Kind) + "|" + e.Message))
	return &ErrorPayload{
		Kind:      e.Kind,
		Message:   e.Message,
		ErrorHash: hex.EncodeToString(sum[:]),
		Retryable: e.Retryable,
	}
}

// AsEngineError extracts the EngineError from err, if any is present
// in its wrap chain.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
