// Package store declares the persistence contracts the ledger and directory depend on.
// Implementations give read-your-writes consistency within one process; callers
// serialize check-then-act sequences themselves.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Parley/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
	// ErrConflict is returned by conditional updates whose precondition no longer holds.
	ErrConflict = errors.New("conflicting update")
)

// SlotFilter narrows ListSlots. Zero values match everything.
type SlotFilter struct {
	LanguageCode string
	Level        domain.Level
	From         time.Time
	To           time.Time
	ActiveOnly   bool
}

func (f SlotFilter) Match(s domain.TimeSlot) bool {
	if f.ActiveOnly && !s.Active {
		return false
	}
	if f.LanguageCode != "" && f.LanguageCode != s.LanguageCode {
		return false
	}
	if f.Level != "" && f.Level != s.Level {
		return false
	}
	if !f.From.IsZero() && s.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && s.StartTime.After(f.To) {
		return false
	}
	return true
}

type SlotStore interface {
	FindSlot(ctx context.Context, id domain.SlotID) (domain.TimeSlot, error)
	// SaveSlot inserts or replaces the slot.
	SaveSlot(ctx context.Context, slot domain.TimeSlot) error
	// ListSlots returns matching slots ordered by start time.
	ListSlots(ctx context.Context, filter SlotFilter) ([]domain.TimeSlot, error)
}

type RegistrationStore interface {
	FindRegistration(ctx context.Context, slotID domain.SlotID, userID domain.UserID) (domain.Registration, error)
	// CreateRegistration fails with ErrDuplicate when the (slot, user) pair already has a row.
	CreateRegistration(ctx context.Context, reg domain.Registration) error
	// UpdateRegistration replaces the row only while its stored status equals from, ErrConflict otherwise.
	UpdateRegistration(ctx context.Context, reg domain.Registration, from domain.RegistrationStatus) error
	CountRegistrationsBySlot(ctx context.Context, slotID domain.SlotID, status domain.RegistrationStatus) (int, error)
	CountRegistrationsByUser(ctx context.Context, userID domain.UserID, status domain.RegistrationStatus) (int, error)
	ListRegistrationsBySlot(ctx context.Context, slotID domain.SlotID, status domain.RegistrationStatus) ([]domain.Registration, error)
	ListRegistrationsByUser(ctx context.Context, userID domain.UserID, status domain.RegistrationStatus) ([]domain.Registration, error)
}

type SessionStore interface {
	FindSession(ctx context.Context, id domain.SessionID) (domain.Session, error)
	FindSessionBySlot(ctx context.Context, slotID domain.SlotID) (domain.Session, error)
	// CreateSession fails with ErrDuplicate when the slot already owns a session.
	CreateSession(ctx context.Context, s domain.Session) error
	UpdateSession(ctx context.Context, s domain.Session) error
	ListSessionsByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.Session, error)
}

type ParticipantStore interface {
	FindParticipant(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) (domain.Participant, error)
	// FindLiveParticipantByUser returns the user's non-disconnected seat in any session.
	FindLiveParticipantByUser(ctx context.Context, userID domain.UserID) (domain.Participant, error)
	// SaveParticipant upserts on (session, user).
	SaveParticipant(ctx context.Context, p domain.Participant) error
	ListParticipants(ctx context.Context, sessionID domain.SessionID) ([]domain.Participant, error)
	CountParticipants(ctx context.Context, sessionID domain.SessionID, status domain.ParticipantStatus) (int, error)
}

type Store interface {
	SlotStore
	RegistrationStore
	SessionStore
	ParticipantStore
	Ping(ctx context.Context) error
	Close() error
}
