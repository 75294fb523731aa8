package domain

import "time"

type SessionID string

type SessionStatus string

const (
	SessionWaiting SessionStatus = "waiting"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// Session is the live conversation for one slot. Ended sessions are kept as archive.
type Session struct {
	ID               SessionID     `json:"id"`
	TimeSlotID       SlotID        `json:"timeSlotId"`
	LanguageCode     string        `json:"targetLanguageCode"`
	Level            Level         `json:"level"`
	Status           SessionStatus `json:"status"`
	StartedAt        *time.Time    `json:"startedAt,omitempty"`
	EndedAt          *time.Time    `json:"endedAt,omitempty"`
	EmptySince       *time.Time    `json:"-"`
	RecordingEnabled bool          `json:"recordingEnabled"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}
