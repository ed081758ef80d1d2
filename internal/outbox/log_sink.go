package outbox

import (
	"context"

	"ddrc/queue-service/internal/store"

	"github.com/rs/zerolog"
)

type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, event store.Event) error {
	s.logger.Info().
		Str("event_id", event.EventID).
		Str("event_type", event.Type).
		Str("token", event.Token.String()).
		Str("department_id", event.DepartmentID).
		Str("branch_id", event.BranchID).
		Int("seq", event.Seq).
		RawJSON("payload", event.Payload).
		Msg("queue event")
	return nil
}
