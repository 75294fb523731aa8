package events

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// LogPublisher writes events to the process log. Used when no broker is configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher { return &LogPublisher{} }

func (LogPublisher) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	log.Info().
		Str("module", "events").
		Str("event", ev.EventType).
		Str("correlation_id", ev.Metadata.CorrelationID).
		RawJSON("payload", payload).
		Msg("event published")
	return nil
}

func (LogPublisher) Close() error { return nil }
