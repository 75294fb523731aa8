package domain

import "time"

type ParticipantID string

type ParticipantStatus string

const (
	ParticipantWaiting      ParticipantStatus = "waiting"
	ParticipantConnected    ParticipantStatus = "connected"
	ParticipantDisconnected ParticipantStatus = "disconnected"
)

// Participant is a user's seat in a session. (SessionID, UserID) is unique.
type Participant struct {
	ID               ParticipantID     `json:"id"`
	SessionID        SessionID         `json:"sessionId"`
	UserID           UserID            `json:"userId"`
	DisplayName      string            `json:"displayName"`
	Status           ParticipantStatus `json:"status"`
	CameraEnabled    bool              `json:"cameraEnabled"`
	MicEnabled       bool              `json:"micEnabled"`
	RecordingConsent bool              `json:"recordingConsent"`
	JoinedAt         *time.Time        `json:"joinedAt,omitempty"`
	LeftAt           *time.Time        `json:"leftAt,omitempty"`
}

func (p Participant) Live() bool {
	return p.Status != ParticipantDisconnected
}
