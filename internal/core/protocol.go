package core

import "encoding/json"

// Inbound message types.
const (
	TypeJoin         = "join"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeMediaState   = "media-state"
	TypePing         = "ping"
)

// Outbound message types.
const (
	TypeRoomState         = "room-state"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeMediaStateChanged = "media-state-changed"
	TypeSessionEnded      = "session-ended"
	TypeError             = "error"
	TypePong              = "pong"
)

// Error codes carried by error frames that are not lifecycle codes.
const (
	CodeBadPayload    = "bad_payload"
	CodeNotJoined     = "not_joined"
	CodeAlreadyJoined = "already_joined"
	CodeRateLimited   = "rate_limited"
	CodeForbidden     = "forbidden"
	CodeInternal      = "internal"
)

type Envelope struct {
	Type string `json:"type"`
}

type JoinMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

// RelayMessage is an inbound offer, answer or ice-candidate.
type RelayMessage struct {
	Type         string          `json:"type"`
	TargetUserID string          `json:"targetUserId"`
	Data         json.RawMessage `json:"data"`
}

type MediaStateMessage struct {
	Type          string `json:"type"`
	CameraEnabled bool   `json:"cameraEnabled"`
	MicEnabled    bool   `json:"micEnabled"`
}

type PeerState struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	CameraEnabled bool   `json:"cameraEnabled"`
	MicEnabled    bool   `json:"micEnabled"`
}

type RoomState struct {
	Type         string      `json:"type"`
	SessionID    string      `json:"sessionId"`
	Participants []PeerState `json:"participants"`
}

type ParticipantJoined struct {
	Type string `json:"type"`
	PeerState
}

type ParticipantLeft struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// Relayed is an offer, answer or ice-candidate on its way to the target.
type Relayed struct {
	Type       string          `json:"type"`
	FromUserID string          `json:"fromUserId"`
	Data       json.RawMessage `json:"data"`
}

type MediaStateChanged struct {
	Type          string `json:"type"`
	UserID        string `json:"userId"`
	CameraEnabled bool   `json:"cameraEnabled"`
	MicEnabled    bool   `json:"micEnabled"`
}

type SessionEnded struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}
