package rtc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var ErrBadPayload = errors.New("bad negotiation payload")

// ValidateDescription checks that data is an RTCSessionDescription of the wanted type
// carrying parseable SDP.
func ValidateDescription(data json.RawMessage, want webrtc.SDPType) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrBadPayload)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if desc.Type != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrBadPayload, want, desc.Type)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: sdp: %v", ErrBadPayload, err)
	}
	return nil
}

// ValidateCandidate checks that data is an RTCIceCandidateInit. An empty candidate
// string marks end-of-candidates and is allowed.
func ValidateCandidate(data json.RawMessage) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrBadPayload)
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &ci); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if ci.Candidate != "" && ci.SDPMid == nil && ci.SDPMLineIndex == nil {
		return fmt.Errorf("%w: candidate needs sdpMid or sdpMLineIndex", ErrBadPayload)
	}
	return nil
}
