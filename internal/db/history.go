package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lumeon/arbiter/internal/eventlog"
	"github.com/lumeon/arbiter/internal/model"
)

// EventSink adapts the store to the event logger interface. Write failures
// are swallowed; the timeline is best effort and must never fail a run.
type EventSink struct {
	Store *Store
}

// Log persists one event record.
func (s *EventSink) Log(rec eventlog.Record) {
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		data = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Store.AppendEvent(ctx, rec.CorrelationID, Event{Type: string(rec.Type), DataJSON: string(data)})
}

// SaveHistory persists the complete run record: every pass plus the final
// answer and terminal status.
func (s *Store) SaveHistory(ctx context.Context, h *model.ExecutionHistory) error {
	for _, pass := range h.Passes {
		rec := PassRecord{
			RunID:            h.ExecutionID,
			PassNumber:       pass.PassNumber,
			Phase:            string(pass.Phase),
			TTLRemaining:     pass.TTLRemaining,
			StartedAt:        pass.Timing.Start.Format(time.RFC3339Nano),
			EndedAt:          pass.Timing.End.Format(time.RFC3339Nano),
			DurationMS:       pass.Timing.Duration.Milliseconds(),
			AdjustmentReason: pass.AdjustmentReason,
		}
		rec.PlanJSON = marshalOrEmpty(pass.PlanState)
		if len(pass.ExecutionResults) > 0 {
			rec.ResultsJSON = marshalOrEmpty(pass.ExecutionResults)
		}
		if pass.EvaluationResults != nil {
			rec.EvaluationJSON = marshalOrEmpty(pass.EvaluationResults)
		}
		if len(pass.RefinementChanges) > 0 {
			rec.RefinementsJSON = marshalOrEmpty(pass.RefinementChanges)
		}
		update := Update{
			PassCount:      pass.PassNumber + 1,
			TTLRemaining:   pass.TTLRemaining,
			ProfileVersion: h.Statistics.ProfileVersions,
			Status:         string(model.RunInProgress),
		}
		if err := s.CommitPass(ctx, rec, nil, update); err != nil {
			return err
		}
	}

	var answerText string
	var confidence float64
	var exhausted bool
	if h.FinalResult != nil {
		answerText = h.FinalResult.AnswerText
		confidence = h.FinalResult.Confidence
		exhausted = h.FinalResult.TTLExhausted
	}
	return s.FinishRun(ctx, h.ExecutionID, string(h.Status), answerText, confidence, exhausted, h.Statistics.TTLRemaining)
}

func marshalOrEmpty(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
