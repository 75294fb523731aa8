// Package events carries lifecycle notifications to downstream consumers.
// Publishing is best-effort: callers log failures and carry on.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	RegistrationCreated   = "registration.created"
	RegistrationCancelled = "registration.cancelled"
	SessionStarted        = "session.started"
	SessionEnded          = "session.ended"
	ParticipantJoined     = "participant.joined"
	ParticipantLeft       = "participant.left"
)

const (
	Version = "1.0"
	Source  = "parley"
)

// Event is a CloudEvent-style envelope.
type Event struct {
	EventType string    `json:"eventType"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
	Metadata  Metadata  `json:"metadata"`
}

type Metadata struct {
	CorrelationID string `json:"correlationId"`
	Source        string `json:"source"`
}

func New(eventType string, payload any, at time.Time) Event {
	return Event{
		EventType: eventType,
		Version:   Version,
		Timestamp: at,
		Payload:   payload,
		Metadata: Metadata{
			CorrelationID: uuid.NewString(),
			Source:        Source,
		},
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// RegistrationPayload accompanies registration.* events.
type RegistrationPayload struct {
	RegistrationID string `json:"registrationId"`
	TimeSlotID     string `json:"timeSlotId"`
	UserID         string `json:"userId"`
}

// SessionPayload accompanies session.* events.
type SessionPayload struct {
	SessionID        string     `json:"sessionId"`
	TimeSlotID       string     `json:"timeSlotId"`
	LanguageCode     string     `json:"targetLanguageCode"`
	Level            string     `json:"level"`
	ParticipantIDs   []string   `json:"participantUserIds,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	RecordingEnabled bool       `json:"recordingEnabled"`
}

// ParticipantPayload accompanies participant.* events.
type ParticipantPayload struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}
