package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/events"
	"github.com/dkeye/Parley/internal/events/mocks"
	"github.com/dkeye/Parley/internal/testfixtures"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestJoinActivatesOnQuorum(t *testing.T) {
	for name, st := range testfixtures.Stores(t) {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, st, nil)
			slot := h.slot(t, 2, 4)
			h.reserve(t, slot, "alice", "bob", "carol")
			h.clock.Set(slot.StartTime.Add(-10 * time.Minute))

			view := h.join(t, slot, "alice")
			require.Equal(t, domain.SessionWaiting, view.Status)
			require.Equal(t, 1, view.ConnectedCount)
			require.Nil(t, view.StartedAt)
			require.Equal(t, "es", view.LanguageCode)

			h.clock.Advance(time.Minute)
			view = h.join(t, slot, "bob")
			require.Equal(t, domain.SessionActive, view.Status)
			require.Equal(t, 2, view.ConnectedCount)
			require.NotNil(t, view.StartedAt)
			startedAt := *view.StartedAt

			view = h.join(t, slot, "carol")
			require.Equal(t, domain.SessionActive, view.Status)
			require.True(t, view.StartedAt.Equal(startedAt))

			require.Equal(t, 1, h.pub.count(events.SessionStarted))
			require.Equal(t, 3, h.pub.count(events.ParticipantJoined))
			ev, _ := h.pub.last(events.SessionStarted)
			require.ElementsMatch(t, []string{"alice", "bob"}, ev.Payload.(events.SessionPayload).ParticipantIDs)

			for _, u := range []domain.UserID{"alice", "bob", "carol"} {
				require.Equal(t, domain.RegistrationAttended, h.registration(t, slot, u).Status)
			}
		})
	}
}

func TestJoinRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testfixtures.Stores(t)["memory"], nil)
	slot := h.slot(t, 2, 4)
	other := h.slot(t, 2, 4)
	h.reserve(t, slot, "alice", "bob")
	h.reserve(t, other, "alice")

	_, err := h.dir.JoinSession(ctx, "alice", "missing", app.JoinOptions{})
	require.ErrorIs(t, err, app.ErrSlotNotFound)

	h.clock.Set(slot.StartTime.Add(-11 * time.Minute))
	_, err = h.dir.JoinSession(ctx, "alice", slot.ID, app.JoinOptions{})
	require.ErrorIs(t, err, app.ErrSessionNotOpen)

	h.clock.Set(slot.StartTime)
	_, err = h.dir.JoinSession(ctx, "zoe", slot.ID, app.JoinOptions{})
	require.ErrorIs(t, err, app.ErrNotRegistered)

	h.join(t, slot, "alice")
	_, err = h.dir.JoinSession(ctx, "alice", other.ID, app.JoinOptions{})
	require.ErrorIs(t, err, app.ErrAlreadyInSession)

	h.clock.Set(slot.EndTime().Add(time.Second))
	_, err = h.dir.JoinSession(ctx, "bob", other.ID, app.JoinOptions{})
	require.ErrorIs(t, err, app.ErrNotRegistered)
}

func TestJoinSessionFull(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testfixtures.Stores(t)["memory"], &openDoor{})
	slot := h.slot(t, 1, 2)
	h.clock.Set(slot.StartTime)

	h.join(t, slot, "alice")
	h.join(t, slot, "bob")
	_, err := h.dir.JoinSession(ctx, "carol", slot.ID, app.JoinOptions{})
	require.ErrorIs(t, err, app.ErrSessionFull)

	require.NoError(t, h.dir.LeaveSession(ctx, "bob"))
	h.join(t, slot, "carol")
}

func TestJoinIdempotentAndRejoin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testfixtures.Stores(t)["memory"], nil)
	slot := h.slot(t, 2, 4)
	h.reserve(t, slot, "alice", "bob")
	h.clock.Set(slot.StartTime)

	view, err := h.dir.JoinSession(ctx, "alice", slot.ID, app.JoinOptions{DisplayName: "Alice", RecordingConsent: true})
	require.NoError(t, err)
	require.Equal(t, "Alice", view.Participants[0].DisplayName)

	again := h.join(t, slot, "alice")
	require.Equal(t, view.ID, again.ID)
	require.Len(t, again.Participants, 1)
	require.Equal(t, 1, h.pub.count(events.ParticipantJoined))

	p, err := h.dir.UpdateMediaState(ctx, "alice", false, false)
	require.NoError(t, err)
	require.False(t, p.CameraEnabled)

	require.NoError(t, h.dir.LeaveSession(ctx, "alice"))
	require.ErrorIs(t, h.dir.LeaveSession(ctx, "alice"), app.ErrNoActiveSession)
	_, err = h.dir.UpdateMediaState(ctx, "alice", true, true)
	require.ErrorIs(t, err, app.ErrNoActiveSession)

	view = h.join(t, slot, "alice")
	require.Len(t, view.Participants, 1)
	p = view.Participants[0]
	require.Equal(t, domain.ParticipantConnected, p.Status)
	require.True(t, p.CameraEnabled)
	require.True(t, p.MicEnabled)
	require.True(t, p.RecordingConsent, "consent given once sticks")
	require.Equal(t, "alice", p.DisplayName)
	require.Nil(t, p.LeftAt)
}

func TestConcurrentJoinsKeepOneLiveParticipant(t *testing.T) {
	for name, st := range testfixtures.Stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, st, &openDoor{})
			a := h.slot(t, 2, 4)
			b := testfixtures.SaveSlot(t, st, testfixtures.Slot(a.StartTime, 2, 4))
			h.clock.Set(a.StartTime)

			var wg sync.WaitGroup
			for i := range 16 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					slot := a
					if i%2 == 1 {
						slot = b
					}
					_, err := h.dir.JoinSession(ctx, "alice", slot.ID, app.JoinOptions{})
					if err != nil && !errors.Is(err, app.ErrAlreadyInSession) {
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			live := 0
			for _, slot := range []domain.TimeSlot{a, b} {
				sess, err := st.FindSessionBySlot(ctx, slot.ID)
				if err != nil {
					continue
				}
				n, err := st.CountParticipants(ctx, sess.ID, domain.ParticipantConnected)
				require.NoError(t, err)
				live += n
			}
			require.Equal(t, 1, live)
		})
	}
}

func TestConcurrentJoinsStartOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testfixtures.Stores(t)["memory"], &openDoor{})
	slot := h.slot(t, 2, 10)
	h.clock.Set(slot.StartTime)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.dir.JoinSession(ctx, domain.UserID(fmt.Sprintf("user-%d", i)), slot.ID, app.JoinOptions{})
			if err != nil {
				t.Errorf("join: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, h.pub.count(events.SessionStarted))
	sess, err := h.st.FindSessionBySlot(ctx, slot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionActive, sess.Status)
	n, err := h.st.CountParticipants(ctx, sess.ID, domain.ParticipantConnected)
	require.NoError(t, err)
	require.Equal(t, 10, n)
}

func TestGracePeriodSweep(t *testing.T) {
	for name, st := range testfixtures.Stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, st, nil)
			slot := h.slot(t, 2, 4)
			h.reserve(t, slot, "alice", "bob")
			h.clock.Set(slot.StartTime)
			view := h.join(t, slot, "alice")
			h.join(t, slot, "bob")

			require.NoError(t, h.dir.Disconnect(ctx, view.ID, "alice"))
			sess, err := st.FindSession(ctx, view.ID)
			require.NoError(t, err)
			require.Nil(t, sess.EmptySince)

			emptyAt := h.clock.Advance(time.Minute)
			require.NoError(t, h.dir.LeaveSession(ctx, "bob"))
			sess, err = st.FindSession(ctx, view.ID)
			require.NoError(t, err)
			require.Equal(t, domain.SessionActive, sess.Status)
			require.NotNil(t, sess.EmptySince)
			require.True(t, sess.EmptySince.Equal(emptyAt))

			n, err := h.dir.SweepGracePeriodExpiredSessions(ctx, emptyAt.Add(5*time.Minute))
			require.NoError(t, err)
			require.Zero(t, n)

			h.clock.Set(emptyAt.Add(5*time.Minute + time.Second))
			n, err = h.dir.SweepGracePeriodExpiredSessions(ctx, h.clock.Now())
			require.NoError(t, err)
			require.Equal(t, 1, n)
			require.Equal(t, view.ID, <-h.ended)

			n, err = h.dir.SweepGracePeriodExpiredSessions(ctx, h.clock.Now())
			require.NoError(t, err)
			require.Zero(t, n)
			require.Empty(t, h.ended)

			sess, err = st.FindSession(ctx, view.ID)
			require.NoError(t, err)
			require.Equal(t, domain.SessionEnded, sess.Status)
			require.NotNil(t, sess.EndedAt)
			require.Equal(t, 1, h.pub.count(events.SessionEnded))
		})
	}
}

func TestRejoinClearsGracePeriod(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testfixtures.Stores(t)["memory"], nil)
	slot := h.slot(t, 2, 4)
	h.reserve(t, slot, "alice", "bob")
	h.clock.Set(slot.StartTime)
	view := h.join(t, slot, "alice")
	h.join(t, slot, "bob")
	require.NoError(t, h.dir.LeaveSession(ctx, "alice"))
	require.NoError(t, h.dir.LeaveSession(ctx, "bob"))

	h.clock.Advance(4 * time.Minute)
	h.join(t, slot, "alice")

	n, err := h.dir.SweepGracePeriodExpiredSessions(ctx, h.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
	got, err := h.dir.GetSession(ctx, view.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionActive, got.Status)
	require.Equal(t, 1, got.ConnectedCount)
}

func TestWaitingSweep(t *testing.T) {
	for name, st := range testfixtures.Stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, st, nil)
			slot := h.slot(t, 2, 4)
			h.reserve(t, slot, "alice", "bob")
			h.clock.Set(slot.StartTime)
			view := h.join(t, slot, "alice")

			n, err := h.dir.SweepExpiredWaitingSessions(ctx, slot.EndTime())
			require.NoError(t, err)
			require.Zero(t, n)

			h.clock.Set(slot.EndTime().Add(time.Second))
			n, err = h.dir.SweepExpiredWaitingSessions(ctx, h.clock.Now())
			require.NoError(t, err)
			require.Equal(t, 1, n)
			require.Equal(t, view.ID, <-h.ended)

			got, err := h.dir.GetSession(ctx, view.ID)
			require.NoError(t, err)
			require.Equal(t, domain.SessionEnded, got.Status)
			require.Zero(t, got.ConnectedCount)
			require.Equal(t, domain.ParticipantDisconnected, got.Participants[0].Status)

			require.Equal(t, domain.RegistrationAttended, h.registration(t, slot, "alice").Status)
			require.Equal(t, domain.RegistrationNoShow, h.registration(t, slot, "bob").Status)

			_, err = h.dir.JoinSession(ctx, "alice", slot.ID, app.JoinOptions{})
			require.ErrorIs(t, err, app.ErrSessionEnded)
		})
	}
}

func TestCloseSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testfixtures.Stores(t)["memory"], nil)
	slot := h.slot(t, 1, 4)
	h.reserve(t, slot, "alice")
	h.clock.Set(slot.StartTime)
	_, err := h.dir.JoinSession(ctx, "alice", slot.ID, app.JoinOptions{RecordingConsent: true})
	require.NoError(t, err)
	sess, err := h.st.FindSessionBySlot(ctx, slot.ID)
	require.NoError(t, err)

	require.ErrorIs(t, h.dir.CloseSession(ctx, "missing"), app.ErrSessionNotFound)
	require.NoError(t, h.dir.CloseSession(ctx, sess.ID))
	require.NoError(t, h.dir.CloseSession(ctx, sess.ID))
	require.Equal(t, sess.ID, <-h.ended)
	require.Empty(t, h.ended)

	got, err := h.dir.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, got.RecordingEnabled)

	ev, ok := h.pub.last(events.SessionEnded)
	require.True(t, ok)
	payload := ev.Payload.(events.SessionPayload)
	require.True(t, payload.RecordingEnabled)
	require.Equal(t, []string{"alice"}, payload.ParticipantIDs)

	_, err = h.dir.AuthorizeSignal(ctx, sess.ID, "alice")
	require.ErrorIs(t, err, app.ErrSessionEnded)
}

func TestAuthorizeSignal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testfixtures.Stores(t)["memory"], nil)
	slot := h.slot(t, 2, 4)
	h.reserve(t, slot, "alice", "bob")
	h.clock.Set(slot.StartTime)
	view := h.join(t, slot, "alice")

	p, err := h.dir.AuthorizeSignal(ctx, view.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.UserID("alice"), p.UserID)

	_, err = h.dir.AuthorizeSignal(ctx, view.ID, "bob")
	require.ErrorIs(t, err, app.ErrNoActiveSession)
	_, err = h.dir.AuthorizeSignal(ctx, view.ID, "mallory")
	require.ErrorIs(t, err, app.ErrNotRegistered)
	_, err = h.dir.AuthorizeSignal(ctx, "missing", "alice")
	require.ErrorIs(t, err, app.ErrSessionNotFound)
}

func TestDirectoryPublishesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockPublisher(ctrl)

	var (
		mu    sync.Mutex
		types []string
	)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev events.Event) error {
		mu.Lock()
		types = append(types, ev.EventType)
		mu.Unlock()
		require.Equal(t, events.Version, ev.Version)
		require.Equal(t, events.Source, ev.Metadata.Source)
		require.NotEmpty(t, ev.Metadata.CorrelationID)
		return errors.New("broker down")
	}).AnyTimes()

	st := testfixtures.Stores(t)["memory"]
	clock := testfixtures.NewClock(time.Time{})
	door := &openDoor{}
	dir := app.NewDirectory(st, door, pub, app.DefaultDirectoryConfig(), clock.NowFunc())
	slot := testfixtures.SaveSlot(t, st, testfixtures.Slot(clock.Now(), 2, 4))

	view, err := dir.JoinSession(ctx, "alice", slot.ID, app.JoinOptions{})
	require.NoError(t, err, "publish failures never fail the caller")
	_, err = dir.JoinSession(ctx, "bob", slot.ID, app.JoinOptions{})
	require.NoError(t, err)
	require.NoError(t, dir.LeaveSession(ctx, "bob"))
	require.NoError(t, dir.CloseSession(ctx, view.ID))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		events.ParticipantJoined,
		events.ParticipantJoined,
		events.SessionStarted,
		events.ParticipantLeft,
		events.SessionEnded,
	}, types)
	require.Equal(t, 1, door.attended["alice"])
}
