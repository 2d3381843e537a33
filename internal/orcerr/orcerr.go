// Package orcerr defines the typed error taxonomy for the orchestration
// engine. Every error carries a stable code, a severity, the affected
// component, and diagnostic context.
package orcerr

import (
	"errors"
	"fmt"
)

// Severity ranks an error's impact.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Component identifies the subsystem an error originates from.
type Component string

const (
	ComponentRefinement   Component = "refinement"
	ComponentExecution    Component = "execution"
	ComponentValidation   Component = "validation"
	ComponentPlan         Component = "plan"
	ComponentTool         Component = "tool"
	ComponentMemory       Component = "memory"
	ComponentLLM          Component = "llm"
	ComponentSupervisor   Component = "supervisor"
	ComponentTransition   Component = "phase_transition"
	ComponentContext      Component = "context_propagation"
	ComponentPassCheck    Component = "execution_pass_validation"
	ComponentTTL          Component = "ttl"
	ComponentOrchestrator Component = "orchestrator"
)

// Error is the structured orchestration error.
type Error struct {
	Code      string
	Severity  Severity
	Component Component
	Message   string
	Context   map[string]string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s/%s]: %s: %v", e.Code, e.Component, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s/%s]: %s", e.Code, e.Component, e.Severity, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a structured error.
func New(code string, component Component, severity Severity, message string) *Error {
	return &Error{Code: code, Component: component, Severity: severity, Message: message}
}

// Wrap attaches a cause to a new structured error.
func Wrap(cause error, code string, component Component, severity Severity, message string) *Error {
	return &Error{Code: code, Component: component, Severity: severity, Message: message, Cause: cause}
}

// WithContext adds one diagnostic key/value and returns the error.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable or not and returns it.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Stable codes used across the engine.
const (
	CodeTTLExpired          = "ttl_expired"
	CodeRefinementLimit     = "refinement_global_limit"
	CodeNestingDepth        = "subplan_nesting_depth"
	CodeContractViolation   = "phase_transition_contract"
	CodePassInvariant       = "execution_pass_invariant"
	CodeLLMTransport        = "llm_transport"
	CodeSupervisorExhausted = "supervisor_repair_exhausted"
	CodeToolFailure         = "tool_failure"
	CodeMemoryFailure       = "memory_failure"
	CodePlanInvalid         = "plan_invalid"
)

// ErrTTLExpired is the sentinel wrapped by every TTL expiration error.
var ErrTTLExpired = errors.New("ttl budget exhausted")

// TTLExpired builds the critical TTL-expiration error.
func TTLExpired(phase string) *Error {
	return Wrap(ErrTTLExpired, CodeTTLExpired, ComponentTTL, SeverityCritical, "ttl budget exhausted").
		WithContext("phase", phase)
}

// IsTTLExpired reports whether err is (or wraps) a TTL expiration.
func IsTTLExpired(err error) bool {
	return errors.Is(err, ErrTTLExpired)
}

// AsError extracts a structured *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
