package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/events"
	"github.com/dkeye/Parley/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type DirectoryConfig struct {
	// GracePeriod is how long an active session may sit with nobody connected.
	GracePeriod time.Duration
	// JoinEarly opens a slot's session this long before its start time.
	JoinEarly time.Duration
}

func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		GracePeriod: 5 * time.Minute,
		JoinEarly:   10 * time.Minute,
	}
}

// Attendance is the slice of the ledger the directory needs.
type Attendance interface {
	Holds(ctx context.Context, slotID domain.SlotID, userID domain.UserID) (bool, error)
	MarkAttended(ctx context.Context, slotID domain.SlotID, userID domain.UserID) error
	MarkNoShows(ctx context.Context, slotID domain.SlotID) (int, error)
}

type JoinOptions struct {
	RecordingConsent bool
	DisplayName      string
}

type SessionView struct {
	domain.Session
	MinParticipants int                  `json:"minParticipants"`
	MaxParticipants int                  `json:"maxParticipants"`
	ConnectedCount  int                  `json:"connectedCount"`
	Participants    []domain.Participant `json:"participants"`
}

// SessionEndedFunc is called once per ended session, after its state is persisted.
type SessionEndedFunc func(ctx context.Context, id domain.SessionID)

// ParticipantLeftFunc is called after a live participant is marked disconnected.
type ParticipantLeftFunc func(ctx context.Context, sessionID domain.SessionID, userID domain.UserID)

// Directory owns the session state machine waiting -> active -> ended.
// Mutations lock the user and then the session's slot, so activation and
// ending each happen exactly once.
type Directory struct {
	slots        store.SlotStore
	sessions     store.SessionStore
	participants store.ParticipantStore
	attendance   Attendance
	pub          events.Publisher
	cfg          DirectoryConfig
	now          func() time.Time
	locks        *keyLock

	hooksMu sync.RWMutex
	onEnded []SessionEndedFunc
	onLeft  []ParticipantLeftFunc
}

func NewDirectory(
	st interface {
		store.SlotStore
		store.SessionStore
		store.ParticipantStore
	},
	attendance Attendance,
	pub events.Publisher,
	cfg DirectoryConfig,
	now func() time.Time,
) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{
		slots:        st,
		sessions:     st,
		participants: st,
		attendance:   attendance,
		pub:          pub,
		cfg:          cfg,
		now:          now,
		locks:        newKeyLock(),
	}
}

// OnSessionEnded registers fn to run whenever a session ends, whatever the path.
func (d *Directory) OnSessionEnded(fn SessionEndedFunc) {
	d.hooksMu.Lock()
	d.onEnded = append(d.onEnded, fn)
	d.hooksMu.Unlock()
}

// OnParticipantLeft registers fn to run whenever a participant leaves or disconnects.
// Sessions that end take their participants with them without calling it.
func (d *Directory) OnParticipantLeft(fn ParticipantLeftFunc) {
	d.hooksMu.Lock()
	d.onLeft = append(d.onLeft, fn)
	d.hooksMu.Unlock()
}

func (d *Directory) lockUser(id domain.UserID) func() { return d.locks.Lock("user:" + string(id)) }
func (d *Directory) lockSlot(id domain.SlotID) func() { return d.locks.Lock("slot:" + string(id)) }

// outcome collects side effects to run once the locks are released.
type outcome struct {
	events []events.Event
	left   []domain.Participant
	ended  []domain.SessionID
}

func (d *Directory) flush(ctx context.Context, out *outcome) {
	publish(ctx, d.pub, out.events...)
	if len(out.left) == 0 && len(out.ended) == 0 {
		return
	}
	d.hooksMu.RLock()
	onLeft := append([]ParticipantLeftFunc(nil), d.onLeft...)
	onEnded := append([]SessionEndedFunc(nil), d.onEnded...)
	d.hooksMu.RUnlock()
	for _, p := range out.left {
		for _, fn := range onLeft {
			fn(ctx, p.SessionID, p.UserID)
		}
	}
	for _, id := range out.ended {
		for _, fn := range onEnded {
			fn(ctx, id)
		}
	}
}

func (d *Directory) JoinSession(ctx context.Context, userID domain.UserID, slotID domain.SlotID, opts JoinOptions) (SessionView, error) {
	var out outcome
	view, err := d.join(ctx, userID, slotID, opts, &out)
	d.flush(ctx, &out)
	return view, err
}

func (d *Directory) join(ctx context.Context, userID domain.UserID, slotID domain.SlotID, opts JoinOptions, out *outcome) (SessionView, error) {
	defer d.lockUser(userID)()
	defer d.lockSlot(slotID)()

	slot, err := d.slots.FindSlot(ctx, slotID)
	if errors.Is(err, store.ErrNotFound) {
		return SessionView{}, ErrSlotNotFound
	}
	if err != nil {
		return SessionView{}, fmt.Errorf("find slot: %w", err)
	}

	holds, err := d.attendance.Holds(ctx, slotID, userID)
	if err != nil {
		return SessionView{}, err
	}
	if !holds {
		return SessionView{}, ErrNotRegistered
	}

	sess, err := d.sessions.FindSessionBySlot(ctx, slotID)
	exists := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return SessionView{}, fmt.Errorf("find session: %w", err)
	}

	live, err := d.participants.FindLiveParticipantByUser(ctx, userID)
	switch {
	case err == nil && (!exists || live.SessionID != sess.ID):
		return SessionView{}, ErrAlreadyInSession
	case err == nil && live.Status == domain.ParticipantConnected:
		return d.view(ctx, sess, slot)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return SessionView{}, fmt.Errorf("find participant: %w", err)
	}

	now := d.now()
	if !exists {
		if now.Before(slot.StartTime.Add(-d.cfg.JoinEarly)) || now.After(slot.EndTime()) {
			return SessionView{}, ErrSessionNotOpen
		}
		sess = domain.Session{
			ID:           domain.SessionID(uuid.NewString()),
			TimeSlotID:   slot.ID,
			LanguageCode: slot.LanguageCode,
			Level:        slot.Level,
			Status:       domain.SessionWaiting,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := d.sessions.CreateSession(ctx, sess); err != nil {
			return SessionView{}, fmt.Errorf("create session: %w", err)
		}
		log.Info().Str("module", "app.directory").Str("session", string(sess.ID)).Str("slot", string(slotID)).Msg("session created")
	}
	if sess.Status == domain.SessionEnded {
		return SessionView{}, ErrSessionEnded
	}

	connected, err := d.participants.CountParticipants(ctx, sess.ID, domain.ParticipantConnected)
	if err != nil {
		return SessionView{}, fmt.Errorf("count participants: %w", err)
	}
	if connected >= slot.MaxParticipants {
		return SessionView{}, ErrSessionFull
	}

	p, err := d.participants.FindParticipant(ctx, sess.ID, userID)
	if errors.Is(err, store.ErrNotFound) {
		p = domain.Participant{
			ID:        domain.ParticipantID(uuid.NewString()),
			SessionID: sess.ID,
			UserID:    userID,
		}
	} else if err != nil {
		return SessionView{}, fmt.Errorf("find participant: %w", err)
	}
	p.DisplayName = opts.DisplayName
	if p.DisplayName == "" {
		p.DisplayName = string(userID)
	}
	p.Status = domain.ParticipantConnected
	p.CameraEnabled = true
	p.MicEnabled = true
	p.RecordingConsent = p.RecordingConsent || opts.RecordingConsent
	p.JoinedAt = &now
	p.LeftAt = nil
	if err := d.participants.SaveParticipant(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return SessionView{}, ErrAlreadyInSession
		}
		return SessionView{}, fmt.Errorf("save participant: %w", err)
	}
	connected++

	sess.EmptySince = nil
	sess.UpdatedAt = now
	started := false
	if sess.Status == domain.SessionWaiting && connected >= slot.MinParticipants {
		sess.Status = domain.SessionActive
		sess.StartedAt = &now
		started = true
	}
	if err := d.sessions.UpdateSession(ctx, sess); err != nil {
		return SessionView{}, fmt.Errorf("update session: %w", err)
	}

	if err := d.attendance.MarkAttended(ctx, slotID, userID); err != nil {
		log.Warn().Str("module", "app.directory").Err(err).Str("user", string(userID)).Msg("mark attended failed")
	}

	out.events = append(out.events, events.New(events.ParticipantJoined, participantPayload(p), now))
	view, err := d.view(ctx, sess, slot)
	if err != nil {
		return SessionView{}, err
	}
	if started {
		payload := sessionPayload(sess)
		for _, vp := range view.Participants {
			if vp.Status == domain.ParticipantConnected {
				payload.ParticipantIDs = append(payload.ParticipantIDs, string(vp.UserID))
			}
		}
		out.events = append(out.events, events.New(events.SessionStarted, payload, now))
		log.Info().Str("module", "app.directory").Str("session", string(sess.ID)).Int("connected", connected).Msg("session active")
	}
	return view, nil
}

// LeaveSession disconnects the user from whichever session they are live in.
func (d *Directory) LeaveSession(ctx context.Context, userID domain.UserID) error {
	var out outcome
	err := d.leave(ctx, userID, &out)
	d.flush(ctx, &out)
	return err
}

func (d *Directory) leave(ctx context.Context, userID domain.UserID, out *outcome) error {
	defer d.lockUser(userID)()

	live, err := d.participants.FindLiveParticipantByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoActiveSession
	}
	if err != nil {
		return fmt.Errorf("find participant: %w", err)
	}
	sess, err := d.sessions.FindSession(ctx, live.SessionID)
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	defer d.lockSlot(sess.TimeSlotID)()

	left, err := d.disconnectLocked(ctx, sess.ID, userID, out)
	if err != nil {
		return err
	}
	if !left {
		return ErrNoActiveSession
	}
	return nil
}

// Disconnect is LeaveSession scoped to one session, so a stale connection can never
// evict the user from a session they have since moved to. It is a no-op when the
// user is not live there.
func (d *Directory) Disconnect(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) error {
	sess, err := d.sessions.FindSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}

	var out outcome
	err = func() error {
		defer d.lockUser(userID)()
		defer d.lockSlot(sess.TimeSlotID)()
		_, err := d.disconnectLocked(ctx, sessionID, userID, &out)
		return err
	}()
	d.flush(ctx, &out)
	return err
}

// disconnectLocked requires the user and slot locks.
func (d *Directory) disconnectLocked(ctx context.Context, sessionID domain.SessionID, userID domain.UserID, out *outcome) (bool, error) {
	p, err := d.participants.FindParticipant(ctx, sessionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find participant: %w", err)
	}
	if !p.Live() {
		return false, nil
	}

	now := d.now()
	p.Status = domain.ParticipantDisconnected
	p.LeftAt = &now
	if err := d.participants.SaveParticipant(ctx, p); err != nil {
		return false, fmt.Errorf("save participant: %w", err)
	}
	out.events = append(out.events, events.New(events.ParticipantLeft, participantPayload(p), now))
	out.left = append(out.left, p)

	connected, err := d.participants.CountParticipants(ctx, sessionID, domain.ParticipantConnected)
	if err != nil {
		return true, fmt.Errorf("count participants: %w", err)
	}
	if connected > 0 {
		return true, nil
	}

	sess, err := d.sessions.FindSession(ctx, sessionID)
	if err != nil {
		return true, fmt.Errorf("find session: %w", err)
	}
	if sess.Status == domain.SessionEnded || sess.EmptySince != nil {
		return true, nil
	}
	sess.EmptySince = &now
	sess.UpdatedAt = now
	if err := d.sessions.UpdateSession(ctx, sess); err != nil {
		return true, fmt.Errorf("update session: %w", err)
	}
	log.Info().Str("module", "app.directory").Str("session", string(sessionID)).Msg("session empty, grace period started")
	return true, nil
}

func (d *Directory) UpdateMediaState(ctx context.Context, userID domain.UserID, camera, mic bool) (domain.Participant, error) {
	defer d.lockUser(userID)()

	live, err := d.participants.FindLiveParticipantByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Participant{}, ErrNoActiveSession
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("find participant: %w", err)
	}
	sess, err := d.sessions.FindSession(ctx, live.SessionID)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("find session: %w", err)
	}
	defer d.lockSlot(sess.TimeSlotID)()

	p, err := d.participants.FindParticipant(ctx, sess.ID, userID)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("find participant: %w", err)
	}
	if p.Status != domain.ParticipantConnected {
		return domain.Participant{}, ErrNoActiveSession
	}
	p.CameraEnabled = camera
	p.MicEnabled = mic
	if err := d.participants.SaveParticipant(ctx, p); err != nil {
		return domain.Participant{}, fmt.Errorf("save participant: %w", err)
	}
	return p, nil
}

// CloseSession ends a session on request. Closing an ended session is a no-op.
func (d *Directory) CloseSession(ctx context.Context, sessionID domain.SessionID) error {
	sess, err := d.sessions.FindSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	_, err = d.endIf(ctx, sess.TimeSlotID, sessionID, "closed", func(domain.Session) (bool, error) { return true, nil })
	return err
}

// SweepExpiredWaitingSessions ends sessions that never reached quorum before their slot ended.
func (d *Directory) SweepExpiredWaitingSessions(ctx context.Context, now time.Time) (int, error) {
	waiting, err := d.sessions.ListSessionsByStatus(ctx, domain.SessionWaiting)
	if err != nil {
		return 0, fmt.Errorf("list waiting sessions: %w", err)
	}
	ended := 0
	for _, sess := range waiting {
		slot, err := d.slots.FindSlot(ctx, sess.TimeSlotID)
		if err != nil {
			return ended, fmt.Errorf("find slot: %w", err)
		}
		if !now.After(slot.EndTime()) {
			continue
		}
		ok, err := d.endIf(ctx, sess.TimeSlotID, sess.ID, "quorum_not_reached", func(cur domain.Session) (bool, error) {
			return cur.Status == domain.SessionWaiting, nil
		})
		if err != nil {
			return ended, err
		}
		if ok {
			ended++
		}
	}
	return ended, nil
}

// SweepGracePeriodExpiredSessions ends active sessions left empty for longer than the grace period.
func (d *Directory) SweepGracePeriodExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	active, err := d.sessions.ListSessionsByStatus(ctx, domain.SessionActive)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	ended := 0
	for _, sess := range active {
		if sess.EmptySince == nil || !now.After(sess.EmptySince.Add(d.cfg.GracePeriod)) {
			continue
		}
		ok, err := d.endIf(ctx, sess.TimeSlotID, sess.ID, "grace_period_expired", func(cur domain.Session) (bool, error) {
			if cur.Status != domain.SessionActive || cur.EmptySince == nil || !now.After(cur.EmptySince.Add(d.cfg.GracePeriod)) {
				return false, nil
			}
			n, err := d.participants.CountParticipants(ctx, cur.ID, domain.ParticipantConnected)
			return n == 0, err
		})
		if err != nil {
			return ended, err
		}
		if ok {
			ended++
		}
	}
	return ended, nil
}

// endIf re-reads the session under its slot lock and ends it when cond still holds.
func (d *Directory) endIf(
	ctx context.Context,
	slotID domain.SlotID,
	sessionID domain.SessionID,
	reason string,
	cond func(domain.Session) (bool, error),
) (bool, error) {
	var out outcome
	ended, err := func() (bool, error) {
		defer d.lockSlot(slotID)()

		sess, err := d.sessions.FindSession(ctx, sessionID)
		if err != nil {
			return false, fmt.Errorf("find session: %w", err)
		}
		if sess.Status == domain.SessionEnded {
			return false, nil
		}
		ok, err := cond(sess)
		if err != nil || !ok {
			return false, err
		}
		return true, d.endLocked(ctx, sess, reason, &out)
	}()
	d.flush(ctx, &out)
	return ended, err
}

// endLocked requires the slot lock.
func (d *Directory) endLocked(ctx context.Context, sess domain.Session, reason string, out *outcome) error {
	now := d.now()
	parts, err := d.participants.ListParticipants(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	payload := sessionPayload(sess)
	for _, p := range parts {
		sess.RecordingEnabled = sess.RecordingEnabled || p.RecordingConsent
		payload.ParticipantIDs = append(payload.ParticipantIDs, string(p.UserID))
		if !p.Live() {
			continue
		}
		p.Status = domain.ParticipantDisconnected
		p.LeftAt = &now
		if err := d.participants.SaveParticipant(ctx, p); err != nil {
			return fmt.Errorf("save participant: %w", err)
		}
	}

	sess.Status = domain.SessionEnded
	sess.EndedAt = &now
	sess.EmptySince = nil
	sess.UpdatedAt = now
	if err := d.sessions.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	noShows, err := d.attendance.MarkNoShows(ctx, sess.TimeSlotID)
	if err != nil {
		log.Warn().Str("module", "app.directory").Err(err).Str("session", string(sess.ID)).Msg("mark no-shows failed")
	}

	payload.EndedAt = sess.EndedAt
	payload.RecordingEnabled = sess.RecordingEnabled
	out.events = append(out.events, events.New(events.SessionEnded, payload, now))
	out.ended = append(out.ended, sess.ID)
	log.Info().
		Str("module", "app.directory").
		Str("session", string(sess.ID)).
		Str("reason", reason).
		Int("no_shows", noShows).
		Bool("recording", sess.RecordingEnabled).
		Msg("session ended")
	return nil
}

// AuthorizeSignal admits a signaling connection for userID into sessionID.
func (d *Directory) AuthorizeSignal(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) (domain.Participant, error) {
	sess, err := d.sessions.FindSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Participant{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("find session: %w", err)
	}
	if sess.Status == domain.SessionEnded {
		return domain.Participant{}, ErrSessionEnded
	}
	holds, err := d.attendance.Holds(ctx, sess.TimeSlotID, userID)
	if err != nil {
		return domain.Participant{}, err
	}
	if !holds {
		return domain.Participant{}, ErrNotRegistered
	}
	p, err := d.participants.FindParticipant(ctx, sessionID, userID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !p.Live()) {
		return domain.Participant{}, ErrNoActiveSession
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("find participant: %w", err)
	}
	return p, nil
}

func (d *Directory) GetSession(ctx context.Context, sessionID domain.SessionID) (SessionView, error) {
	sess, err := d.sessions.FindSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return SessionView{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionView{}, fmt.Errorf("find session: %w", err)
	}
	slot, err := d.slots.FindSlot(ctx, sess.TimeSlotID)
	if err != nil {
		return SessionView{}, fmt.Errorf("find slot: %w", err)
	}
	return d.view(ctx, sess, slot)
}

func (d *Directory) Participants(ctx context.Context, sessionID domain.SessionID) ([]domain.Participant, error) {
	parts, err := d.participants.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return parts, nil
}

func (d *Directory) view(ctx context.Context, sess domain.Session, slot domain.TimeSlot) (SessionView, error) {
	parts, err := d.participants.ListParticipants(ctx, sess.ID)
	if err != nil {
		return SessionView{}, fmt.Errorf("list participants: %w", err)
	}
	connected := 0
	for _, p := range parts {
		if p.Status == domain.ParticipantConnected {
			connected++
		}
	}
	return SessionView{
		Session:         sess,
		MinParticipants: slot.MinParticipants,
		MaxParticipants: slot.MaxParticipants,
		ConnectedCount:  connected,
		Participants:    parts,
	}, nil
}

func sessionPayload(s domain.Session) events.SessionPayload {
	return events.SessionPayload{
		SessionID:    string(s.ID),
		TimeSlotID:   string(s.TimeSlotID),
		LanguageCode: s.LanguageCode,
		Level:        string(s.Level),
		StartedAt:    s.StartedAt,
	}
}

func participantPayload(p domain.Participant) events.ParticipantPayload {
	return events.ParticipantPayload{
		SessionID:   string(p.SessionID),
		UserID:      string(p.UserID),
		DisplayName: p.DisplayName,
	}
}
