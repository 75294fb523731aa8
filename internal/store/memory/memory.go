// Package memory is an in-process Store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/store"
)

type regKey struct {
	slot domain.SlotID
	user domain.UserID
}

type partKey struct {
	session domain.SessionID
	user    domain.UserID
}

// Store keeps every aggregate in maps behind a single RWMutex and hands out copies.
type Store struct {
	mu            sync.RWMutex
	slots         map[domain.SlotID]domain.TimeSlot
	registrations map[regKey]domain.Registration
	sessions      map[domain.SessionID]domain.Session
	sessionBySlot map[domain.SlotID]domain.SessionID
	participants  map[partKey]domain.Participant
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		slots:         make(map[domain.SlotID]domain.TimeSlot),
		registrations: make(map[regKey]domain.Registration),
		sessions:      make(map[domain.SessionID]domain.Session),
		sessionBySlot: make(map[domain.SlotID]domain.SessionID),
		participants:  make(map[partKey]domain.Participant),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// --- slots ---

func (s *Store) FindSlot(_ context.Context, id domain.SlotID) (domain.TimeSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[id]
	if !ok {
		return domain.TimeSlot{}, store.ErrNotFound
	}
	return slot, nil
}

func (s *Store) SaveSlot(_ context.Context, slot domain.TimeSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot.ID] = slot
	return nil
}

func (s *Store) ListSlots(_ context.Context, filter store.SlotFilter) ([]domain.TimeSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TimeSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		if filter.Match(slot) {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

// --- registrations ---

func (s *Store) FindRegistration(_ context.Context, slotID domain.SlotID, userID domain.UserID) (domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.registrations[regKey{slotID, userID}]
	if !ok {
		return domain.Registration{}, store.ErrNotFound
	}
	return reg, nil
}

func (s *Store) CreateRegistration(_ context.Context, reg domain.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := regKey{reg.TimeSlotID, reg.UserID}
	if _, ok := s.registrations[k]; ok {
		return store.ErrDuplicate
	}
	s.registrations[k] = reg
	return nil
}

func (s *Store) UpdateRegistration(_ context.Context, reg domain.Registration, from domain.RegistrationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := regKey{reg.TimeSlotID, reg.UserID}
	cur, ok := s.registrations[k]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Status != from {
		return store.ErrConflict
	}
	reg.ID = cur.ID
	s.registrations[k] = reg
	return nil
}

func (s *Store) CountRegistrationsBySlot(_ context.Context, slotID domain.SlotID, status domain.RegistrationStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k, reg := range s.registrations {
		if k.slot == slotID && reg.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountRegistrationsByUser(_ context.Context, userID domain.UserID, status domain.RegistrationStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k, reg := range s.registrations {
		if k.user == userID && reg.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListRegistrationsBySlot(_ context.Context, slotID domain.SlotID, status domain.RegistrationStatus) ([]domain.Registration, error) {
	return s.listRegistrations(func(k regKey, reg domain.Registration) bool {
		return k.slot == slotID && reg.Status == status
	}), nil
}

func (s *Store) ListRegistrationsByUser(_ context.Context, userID domain.UserID, status domain.RegistrationStatus) ([]domain.Registration, error) {
	return s.listRegistrations(func(k regKey, reg domain.Registration) bool {
		return k.user == userID && reg.Status == status
	}), nil
}

func (s *Store) listRegistrations(keep func(regKey, domain.Registration) bool) []domain.Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Registration, 0)
	for k, reg := range s.registrations {
		if keep(k, reg) {
			out = append(out, reg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out
}

// --- sessions ---

func (s *Store) FindSession(_ context.Context, id domain.SessionID) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, store.ErrNotFound
	}
	return sess, nil
}

func (s *Store) FindSessionBySlot(_ context.Context, slotID domain.SlotID) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessionBySlot[slotID]
	if !ok {
		return domain.Session{}, store.ErrNotFound
	}
	return s.sessions[id], nil
}

func (s *Store) CreateSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessionBySlot[sess.TimeSlotID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.sessions[sess.ID]; ok {
		return store.ErrDuplicate
	}
	s.sessions[sess.ID] = sess
	s.sessionBySlot[sess.TimeSlotID] = sess.ID
	return nil
}

func (s *Store) UpdateSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return store.ErrNotFound
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) ListSessionsByStatus(_ context.Context, status domain.SessionStatus) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Session, 0)
	for _, sess := range s.sessions {
		if sess.Status == status {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- participants ---

func (s *Store) FindParticipant(_ context.Context, sessionID domain.SessionID, userID domain.UserID) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[partKey{sessionID, userID}]
	if !ok {
		return domain.Participant{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) FindLiveParticipantByUser(_ context.Context, userID domain.UserID) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, p := range s.participants {
		if k.user == userID && p.Live() {
			return p, nil
		}
	}
	return domain.Participant{}, store.ErrNotFound
}

func (s *Store) SaveParticipant(_ context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := partKey{p.SessionID, p.UserID}
	if p.Live() {
		// a user holds at most one live seat across all sessions
		for key, other := range s.participants {
			if key != k && other.UserID == p.UserID && other.Live() {
				return store.ErrDuplicate
			}
		}
	}
	if cur, ok := s.participants[k]; ok {
		p.ID = cur.ID
	}
	s.participants[k] = p
	return nil
}

func (s *Store) ListParticipants(_ context.Context, sessionID domain.SessionID) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0)
	for k, p := range s.participants {
		if k.session == sessionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) CountParticipants(_ context.Context, sessionID domain.SessionID, status domain.ParticipantStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k, p := range s.participants {
		if k.session == sessionID && p.Status == status {
			n++
		}
	}
	return n, nil
}
