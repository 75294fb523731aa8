package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := New(SessionStarted, SessionPayload{SessionID: "s1", TimeSlotID: "t1"}, at)

	require.Equal(t, SessionStarted, ev.EventType)
	require.Equal(t, "1.0", ev.Version)
	require.Equal(t, Source, ev.Metadata.Source)
	require.NotEmpty(t, ev.Metadata.CorrelationID)

	other := New(SessionStarted, nil, at)
	require.NotEqual(t, ev.Metadata.CorrelationID, other.Metadata.CorrelationID)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "session.started", decoded["eventType"])
	require.Equal(t, "s1", decoded["payload"].(map[string]any)["sessionId"])
	require.Equal(t, "parley", decoded["metadata"].(map[string]any)["source"])
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher()
	require.NoError(t, p.Publish(context.Background(), New(ParticipantLeft, ParticipantPayload{SessionID: "s", UserID: "u"}, time.Now())))
	require.NoError(t, p.Close())
}
