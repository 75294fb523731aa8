package orch_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/app/orch"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/events"
	"github.com/dkeye/Parley/internal/store"
	"github.com/dkeye/Parley/internal/testfixtures"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	limit  int
	frames []core.Frame
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.limit > 0 && len(c.frames) >= c.limit {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var env core.Envelope
		_ = json.Unmarshal(f, &env)
		out = append(out, env.Type)
	}
	return out
}

// last decodes the newest frame of the given type into v.
func (c *fakeConn) last(t *testing.T, typ string, v any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		var env core.Envelope
		require.NoError(t, json.Unmarshal(c.frames[i], &env))
		if env.Type == typ {
			require.NoError(t, json.Unmarshal(c.frames[i], v))
			return
		}
	}
	t.Fatalf("no %s frame", typ)
}

type world struct {
	st    store.Store
	clock *testfixtures.Clock
	dir   *app.Directory
	reg   *app.Registry
	relay *orch.Orchestrator
	slot  domain.TimeSlot
	sid   domain.SessionID
}

// newWorld opens a session with alice and bob joined through the directory.
func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	w := &world{
		st:    testfixtures.Stores(t)["memory"],
		clock: testfixtures.NewClock(time.Time{}),
		reg:   app.NewRegistry(),
	}
	pub := events.NewLogPublisher()
	ledger := app.NewLedger(w.st, w.st, pub, app.DefaultLedgerConfig(), w.clock.NowFunc())
	w.dir = app.NewDirectory(w.st, ledger, pub, app.DefaultDirectoryConfig(), w.clock.NowFunc())
	w.relay = orch.New(w.reg, w.dir, nil)
	w.dir.OnSessionEnded(w.relay.EndSession)
	w.dir.OnParticipantLeft(w.relay.Kick)

	w.slot = testfixtures.SaveSlot(t, w.st, testfixtures.Slot(w.clock.Now().Add(time.Hour), 2, 4))
	for _, u := range []domain.UserID{"alice", "bob", "carol"} {
		_, err := ledger.Reserve(ctx, w.slot.ID, u)
		require.NoError(t, err)
	}
	w.clock.Set(w.slot.StartTime)
	var view app.SessionView
	for _, u := range []domain.UserID{"alice", "bob"} {
		var err error
		view, err = w.dir.JoinSession(ctx, u, w.slot.ID, app.JoinOptions{})
		require.NoError(t, err)
	}
	require.Equal(t, domain.SessionActive, view.Status)
	w.sid = view.ID
	return w
}

func TestSignalingScenario(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	a, b := &fakeConn{}, &fakeConn{}

	require.NoError(t, w.relay.Join(ctx, "conn-a", w.sid, "alice", a))
	var state core.RoomState
	a.last(t, core.TypeRoomState, &state)
	require.Equal(t, string(w.sid), state.SessionID)
	require.Empty(t, state.Participants, "bob is in the directory but has no signaling connection yet")

	require.NoError(t, w.relay.Join(ctx, "conn-b", w.sid, "bob", b))
	b.last(t, core.TypeRoomState, &state)
	require.Len(t, state.Participants, 1)
	require.Equal(t, "alice", state.Participants[0].UserID)
	var joined core.ParticipantJoined
	a.last(t, core.TypeParticipantJoined, &joined)
	require.Equal(t, "bob", joined.UserID)
	require.True(t, joined.MicEnabled)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, w.relay.Forward("conn-a", core.RelayMessage{Type: core.TypeOffer, TargetUserID: "bob", Data: offer}))
	var relayed core.Relayed
	b.last(t, core.TypeOffer, &relayed)
	require.Equal(t, "alice", relayed.FromUserID)
	require.JSONEq(t, string(offer), string(relayed.Data))

	before := len(b.types())
	require.NoError(t, w.relay.Forward("conn-a", core.RelayMessage{Type: core.TypeOffer, TargetUserID: "carol", Data: offer}))
	require.NoError(t, w.relay.Forward("conn-a", core.RelayMessage{Type: core.TypeOffer, TargetUserID: "alice", Data: offer}))
	require.Len(t, b.types(), before)
	require.Equal(t, []string{core.TypeRoomState, core.TypeParticipantJoined}, a.types())
	require.ErrorIs(t, w.relay.Forward("conn-x", core.RelayMessage{Type: core.TypeOffer, TargetUserID: "bob"}), orch.ErrNotJoined)

	require.NoError(t, w.relay.MediaState(ctx, "conn-a", false, true))
	var media core.MediaStateChanged
	b.last(t, core.TypeMediaStateChanged, &media)
	require.Equal(t, "alice", media.UserID)
	require.False(t, media.CameraEnabled)
	require.True(t, media.MicEnabled)

	w.relay.OnDisconnect(ctx, "conn-a")
	w.relay.OnDisconnect(ctx, "conn-a")
	var left core.ParticipantLeft
	b.last(t, core.TypeParticipantLeft, &left)
	require.Equal(t, "alice", left.UserID)
	n := 0
	for _, typ := range b.types() {
		if typ == core.TypeParticipantLeft {
			n++
		}
	}
	require.Equal(t, 1, n)

	p, err := w.st.FindParticipant(ctx, w.sid, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantDisconnected, p.Status)

	ended, err := w.dir.SweepGracePeriodExpiredSessions(ctx, w.clock.Advance(time.Hour))
	require.NoError(t, err)
	require.Zero(t, ended, "bob is still connected")
	sess, err := w.st.FindSession(ctx, w.sid)
	require.NoError(t, err)
	require.Equal(t, domain.SessionActive, sess.Status)
}

func TestEndSessionClosesConnections(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	a, b := &fakeConn{}, &fakeConn{}
	require.NoError(t, w.relay.Join(ctx, "conn-a", w.sid, "alice", a))
	require.NoError(t, w.relay.Join(ctx, "conn-b", w.sid, "bob", b))

	require.NoError(t, w.dir.CloseSession(ctx, w.sid))
	for _, c := range []*fakeConn{a, b} {
		var msg core.SessionEnded
		c.last(t, core.TypeSessionEnded, &msg)
		require.Equal(t, string(w.sid), msg.SessionID)
		require.True(t, c.isClosed())
	}
	require.Zero(t, w.reg.Len())

	// the pumps still report their exits; those must be no-ops now
	w.relay.OnDisconnect(ctx, "conn-a")
	require.NotContains(t, b.types(), core.TypeParticipantLeft)

	err := w.relay.Join(ctx, "conn-c", w.sid, "alice", &fakeConn{})
	require.ErrorIs(t, err, app.ErrSessionEnded)
}

func TestJoinRejectsUnauthorized(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	err := w.relay.Join(ctx, "conn-m", w.sid, "mallory", &fakeConn{})
	require.ErrorIs(t, err, app.ErrNotRegistered)
	err = w.relay.Join(ctx, "conn-c", w.sid, "carol", &fakeConn{})
	require.ErrorIs(t, err, app.ErrNoActiveSession, "registered but never joined")
	err = w.relay.Join(ctx, "conn-x", "missing", "alice", &fakeConn{})
	require.ErrorIs(t, err, app.ErrSessionNotFound)
	require.Zero(t, w.reg.Len())
}

func TestJoinSupersedesPreviousConnection(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	first, second, b := &fakeConn{}, &fakeConn{}, &fakeConn{}
	require.NoError(t, w.relay.Join(ctx, "conn-b", w.sid, "bob", b))
	require.NoError(t, w.relay.Join(ctx, "conn-a1", w.sid, "alice", first))
	require.NoError(t, w.relay.Join(ctx, "conn-a2", w.sid, "alice", second))

	require.True(t, first.isClosed())
	w.relay.OnDisconnect(ctx, "conn-a1")
	require.NotContains(t, b.types(), core.TypeParticipantLeft)

	p, err := w.st.FindParticipant(ctx, w.sid, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantConnected, p.Status)

	peer, ok := w.reg.Lookup(w.sid, "alice")
	require.True(t, ok)
	require.Equal(t, core.ConnID("conn-a2"), peer.ConnID)
}

func TestSlowPeerIsKicked(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	a := &fakeConn{}
	slow := &fakeConn{limit: 1}
	require.NoError(t, w.relay.Join(ctx, "conn-b", w.sid, "bob", slow))
	require.NoError(t, w.relay.Join(ctx, "conn-a", w.sid, "alice", a))

	require.True(t, slow.isClosed(), "room-state filled the buffer, participant-joined overflowed it")
	require.False(t, a.isClosed())
}

func TestRoomStateListsBoundPeersOnly(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	_, err := w.dir.JoinSession(ctx, "carol", w.slot.ID, app.JoinOptions{DisplayName: "Carol"})
	require.NoError(t, err)

	b, c := &fakeConn{}, &fakeConn{}
	require.NoError(t, w.relay.Join(ctx, "conn-b", w.sid, "bob", b))
	require.NoError(t, w.relay.MediaState(ctx, "conn-b", false, true))
	require.NoError(t, w.relay.Join(ctx, "conn-c", w.sid, "carol", c))

	var state core.RoomState
	c.last(t, core.TypeRoomState, &state)
	require.Len(t, state.Participants, 1, "alice joined the session but never connected")
	require.Equal(t, "bob", state.Participants[0].UserID)
	require.Equal(t, "bob", state.Participants[0].DisplayName)
	require.False(t, state.Participants[0].CameraEnabled)
	require.True(t, state.Participants[0].MicEnabled)

	var joined core.ParticipantJoined
	b.last(t, core.TypeParticipantJoined, &joined)
	require.Equal(t, "carol", joined.UserID)
	require.Equal(t, "Carol", joined.DisplayName)
}

func TestLeaveThroughDirectoryKicksConnection(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	a, b := &fakeConn{}, &fakeConn{}
	require.NoError(t, w.relay.Join(ctx, "conn-a", w.sid, "alice", a))
	require.NoError(t, w.relay.Join(ctx, "conn-b", w.sid, "bob", b))

	require.NoError(t, w.dir.LeaveSession(ctx, "alice"))
	require.True(t, a.isClosed())
	var left core.ParticipantLeft
	b.last(t, core.TypeParticipantLeft, &left)
	require.Equal(t, "alice", left.UserID)
	_, bound := w.reg.Lookup(w.sid, "alice")
	require.False(t, bound)

	// the closed socket's pump reports in afterwards
	w.relay.OnDisconnect(ctx, "conn-a")
	n := 0
	for _, typ := range b.types() {
		if typ == core.TypeParticipantLeft {
			n++
		}
	}
	require.Equal(t, 1, n)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	before := len(a.types())
	require.NoError(t, w.relay.Forward("conn-b", core.RelayMessage{Type: core.TypeOffer, TargetUserID: "alice", Data: offer}))
	require.Len(t, a.types(), before)

	// a relay-side disconnect reaches the hook too, with nothing left to kick
	w.relay.OnDisconnect(ctx, "conn-b")
	require.False(t, b.isClosed(), "the pump closes its own socket")
	_, bound = w.reg.Lookup(w.sid, "bob")
	require.False(t, bound)
}

func TestEndedSessionsAreBounded(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	require.NoError(t, w.dir.CloseSession(ctx, w.sid))
	for i := 0; i < 5000; i++ {
		w.relay.EndSession(ctx, domain.SessionID(fmt.Sprintf("gone-%d", i)))
	}
	// the oldest id is forgotten but the directory still refuses it
	err := w.relay.Join(ctx, "conn-a", w.sid, "alice", &fakeConn{})
	require.ErrorIs(t, err, app.ErrSessionEnded)
	require.Zero(t, w.reg.Len())
}
