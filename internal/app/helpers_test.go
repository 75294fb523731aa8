package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/events"
	"github.com/dkeye/Parley/internal/store"
	"github.com/dkeye/Parley/internal/testfixtures"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.evs {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func (r *recorder) last(eventType string) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.evs) - 1; i >= 0; i-- {
		if r.evs[i].EventType == eventType {
			return r.evs[i], true
		}
	}
	return events.Event{}, false
}

// openDoor admits every user; it lets tests reach session capacity limits that the
// ledger would otherwise stop at reservation time.
type openDoor struct {
	mu       sync.Mutex
	attended map[domain.UserID]int
}

func (o *openDoor) Holds(context.Context, domain.SlotID, domain.UserID) (bool, error) {
	return true, nil
}

func (o *openDoor) MarkAttended(_ context.Context, _ domain.SlotID, userID domain.UserID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attended == nil {
		o.attended = make(map[domain.UserID]int)
	}
	o.attended[userID]++
	return nil
}

func (o *openDoor) MarkNoShows(context.Context, domain.SlotID) (int, error) { return 0, nil }

type harness struct {
	st     store.Store
	clock  *testfixtures.Clock
	pub    *recorder
	ledger *app.Ledger
	dir    *app.Directory
	ended  chan domain.SessionID
}

func newHarness(t *testing.T, st store.Store, attendance app.Attendance) *harness {
	t.Helper()
	h := &harness{
		st:    st,
		clock: testfixtures.NewClock(testfixtures.ReferenceTime()),
		pub:   &recorder{},
		ended: make(chan domain.SessionID, 16),
	}
	h.ledger = app.NewLedger(st, st, h.pub, app.DefaultLedgerConfig(), h.clock.NowFunc())
	if attendance == nil {
		attendance = h.ledger
	}
	h.dir = app.NewDirectory(st, attendance, h.pub, app.DefaultDirectoryConfig(), h.clock.NowFunc())
	h.dir.OnSessionEnded(func(_ context.Context, id domain.SessionID) { h.ended <- id })
	return h
}

// slot saves a slot starting in an hour.
func (h *harness) slot(t *testing.T, minP, maxP int) domain.TimeSlot {
	t.Helper()
	return testfixtures.SaveSlot(t, h.st, testfixtures.Slot(h.clock.Now().Add(time.Hour), minP, maxP))
}

func (h *harness) reserve(t *testing.T, slot domain.TimeSlot, users ...domain.UserID) {
	t.Helper()
	for _, u := range users {
		_, err := h.ledger.Reserve(context.Background(), slot.ID, u)
		require.NoError(t, err)
	}
}

func (h *harness) join(t *testing.T, slot domain.TimeSlot, user domain.UserID) app.SessionView {
	t.Helper()
	view, err := h.dir.JoinSession(context.Background(), user, slot.ID, app.JoinOptions{})
	require.NoError(t, err)
	return view
}

func (h *harness) registration(t *testing.T, slot domain.TimeSlot, user domain.UserID) domain.Registration {
	t.Helper()
	reg, err := h.st.FindRegistration(context.Background(), slot.ID, user)
	require.NoError(t, err)
	return reg
}
