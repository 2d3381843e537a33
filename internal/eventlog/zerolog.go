package eventlog

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ZerologSink writes event records through the global zerolog logger.
type ZerologSink struct{}

// Log implements Logger. Zerolog write errors are dropped.
func (ZerologSink) Log(rec Record) {
	var ev *zerolog.Event
	if rec.Type == TypeError {
		ev = log.Warn()
	} else {
		ev = log.Debug()
	}
	ev = ev.
		Str("correlation_id", rec.CorrelationID).
		Str("timestamp", rec.Timestamp)
	for key, value := range rec.Fields {
		ev = ev.Interface(key, value)
	}
	ev.Msg(string(rec.Type))
}
