// Package eventlog defines the structured event logger the engine reports
// to. Sinks must never let a logging failure propagate into orchestration.
package eventlog

import (
	"time"
)

// Type enumerates event record kinds.
type Type string

const (
	TypePhaseEntry        Type = "phase_entry"
	TypePhaseExit         Type = "phase_exit"
	TypeStateTransition   Type = "state_transition"
	TypeRefinementOutcome Type = "refinement_outcome"
	TypeEvaluationOutcome Type = "evaluation_outcome"
	TypeError             Type = "error"
	TypeErrorRecovery     Type = "error_recovery"
)

// Record is one event log entry. Every record carries the run's correlation
// id and an ISO-8601 timestamp.
type Record struct {
	CorrelationID string         `json:"correlation_id"`
	Timestamp     string         `json:"timestamp"`
	Type          Type           `json:"type"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Logger receives engine event records.
type Logger interface {
	Log(rec Record)
}

// New stamps a record for the given run.
func New(correlationID string, typ Type, fields map[string]any) Record {
	return Record{
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Type:          typ,
		Fields:        fields,
	}
}

// Nop discards all records.
type Nop struct{}

// Log implements Logger.
func (Nop) Log(Record) {}

// Fanout forwards each record to every sink.
type Fanout []Logger

// Log implements Logger.
func (f Fanout) Log(rec Record) {
	for _, sink := range f {
		sink.Log(rec)
	}
}

// PhaseEntry builds a phase_entry record.
func PhaseEntry(correlationID, phase string, pass int) Record {
	return New(correlationID, TypePhaseEntry, map[string]any{
		"phase": phase,
		"pass":  pass,
	})
}

// PhaseExit builds a phase_exit record.
func PhaseExit(correlationID, phase string, pass int, duration time.Duration, outcome string) Record {
	return New(correlationID, TypePhaseExit, map[string]any{
		"phase":    phase,
		"pass":     pass,
		"duration": duration.String(),
		"outcome":  outcome,
	})
}

// StateTransition builds a state_transition record.
func StateTransition(correlationID, component, before, after, reason string) Record {
	return New(correlationID, TypeStateTransition, map[string]any{
		"component": component,
		"before":    before,
		"after":     after,
		"reason":    reason,
	})
}

// RefinementOutcome builds a refinement_outcome record.
func RefinementOutcome(correlationID, beforeFragment, afterFragment string, actions int, signals map[string]any) Record {
	return New(correlationID, TypeRefinementOutcome, map[string]any{
		"before_fragment":    beforeFragment,
		"after_fragment":     afterFragment,
		"actions":            actions,
		"evaluation_signals": signals,
	})
}

// EvaluationOutcome builds an evaluation_outcome record.
func EvaluationOutcome(correlationID string, assessment, validationReport any) Record {
	return New(correlationID, TypeEvaluationOutcome, map[string]any{
		"convergence_assessment": assessment,
		"validation_report":      validationReport,
	})
}

// Error builds an error record.
func Error(correlationID, code, severity, message, component string, context map[string]string) Record {
	return New(correlationID, TypeError, map[string]any{
		"code":      code,
		"severity":  severity,
		"message":   message,
		"component": component,
		"context":   context,
	})
}

// ErrorRecovery builds an error_recovery record.
func ErrorRecovery(correlationID, originalError, action, outcome string) Record {
	return New(correlationID, TypeErrorRecovery, map[string]any{
		"original_error": originalError,
		"action":         action,
		"outcome":        outcome,
	})
}
