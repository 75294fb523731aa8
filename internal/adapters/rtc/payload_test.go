package rtc

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/Parley/internal/config"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const minimalSDP = "v=0\r\no=- 4215775240449105457 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func description(t *testing.T, typ, sdp string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]string{"type": typ, "sdp": sdp})
	require.NoError(t, err)
	return b
}

func TestValidateDescription(t *testing.T) {
	require.NoError(t, ValidateDescription(description(t, "offer", minimalSDP), webrtc.SDPTypeOffer))
	require.NoError(t, ValidateDescription(description(t, "answer", minimalSDP), webrtc.SDPTypeAnswer))

	t.Run("wrong type", func(t *testing.T) {
		err := ValidateDescription(description(t, "answer", minimalSDP), webrtc.SDPTypeOffer)
		require.ErrorIs(t, err, ErrBadPayload)
	})
	t.Run("missing", func(t *testing.T) {
		require.ErrorIs(t, ValidateDescription(nil, webrtc.SDPTypeOffer), ErrBadPayload)
	})
	t.Run("not json", func(t *testing.T) {
		require.ErrorIs(t, ValidateDescription(json.RawMessage(`"offer"`), webrtc.SDPTypeOffer), ErrBadPayload)
	})
	t.Run("garbage sdp", func(t *testing.T) {
		err := ValidateDescription(description(t, "offer", "hello"), webrtc.SDPTypeOffer)
		require.ErrorIs(t, err, ErrBadPayload)
	})
}

func TestValidateCandidate(t *testing.T) {
	require.NoError(t, ValidateCandidate(json.RawMessage(
		`{"candidate":"candidate:1 1 udp 2122260223 192.168.1.2 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`)))
	require.NoError(t, ValidateCandidate(json.RawMessage(`{"candidate":""}`)))
	require.ErrorIs(t, ValidateCandidate(json.RawMessage(`{"candidate":"candidate:1 1 udp 1 1.2.3.4 1 typ host"}`)), ErrBadPayload)
	require.ErrorIs(t, ValidateCandidate(json.RawMessage(`[1,2]`)), ErrBadPayload)
	require.ErrorIs(t, ValidateCandidate(nil), ErrBadPayload)
}

func TestICEServers(t *testing.T) {
	require.Equal(t, DefaultICEServers(), ICEServers(nil))

	got := ICEServers([]config.ICEServer{{URLs: []string{"turn:t.example.com"}, Username: "u", Credential: "c"}})
	require.Len(t, got, 1)
	require.Equal(t, "u", got[0].Username)
	require.Equal(t, "c", got[0].Credential)
}
