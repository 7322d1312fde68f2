package app

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/models"
)

// logSink forwards session events to the structured log. The pipeline
// itself never writes to the terminal, so this is the default consumer
// when no richer UI is attached.
type logSink struct {
	logger arbor.ILogger
}

func newLogSink(logger arbor.ILogger) *logSink {
	return &logSink{logger: logger}
}

func (s *logSink) Publish(event models.Event) {
	entry := s.logger.Debug()
	if event.Type == models.EventURLFailed {
		entry = s.logger.Warn()
	}
	entry.
		Str("event", string(event.Type)).
		Str("session_id", event.SessionID).
		Str("url", event.URL).
		Int("page", event.Page).
		Int("count", event.Count).
		Str("error", event.Error).
		Msg("Session event")
}
