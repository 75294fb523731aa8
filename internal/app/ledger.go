package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/events"
	"github.com/dkeye/Parley/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type LedgerConfig struct {
	RegistrationDeadline   time.Duration
	CancellationDeadline   time.Duration
	MaxActiveRegistrations int
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		RegistrationDeadline:   5 * time.Minute,
		CancellationDeadline:   15 * time.Minute,
		MaxActiveRegistrations: 3,
	}
}

// Ledger admits users into time slots. Reserve and Cancel serialize on the slot and then
// the user, so capacity and per-user ceilings are checked and written atomically
// within this process.
type Ledger struct {
	slots store.SlotStore
	regs  store.RegistrationStore
	pub   events.Publisher
	cfg   LedgerConfig
	now   func() time.Time
	locks *keyLock
}

func NewLedger(slots store.SlotStore, regs store.RegistrationStore, pub events.Publisher, cfg LedgerConfig, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		slots: slots,
		regs:  regs,
		pub:   pub,
		cfg:   cfg,
		now:   now,
		locks: newKeyLock(),
	}
}

func (l *Ledger) Reserve(ctx context.Context, slotID domain.SlotID, userID domain.UserID) (domain.Registration, error) {
	reg, err := l.reserve(ctx, slotID, userID)
	if err != nil {
		return domain.Registration{}, err
	}
	publish(ctx, l.pub, events.New(events.RegistrationCreated, registrationPayload(reg), reg.RegisteredAt))
	log.Info().Str("module", "app.ledger").Str("slot", string(slotID)).Str("user", string(userID)).Msg("reserved")
	return reg, nil
}

func (l *Ledger) reserve(ctx context.Context, slotID domain.SlotID, userID domain.UserID) (domain.Registration, error) {
	defer l.locks.Lock("slot:" + string(slotID))()
	defer l.locks.Lock("user:" + string(userID))()

	slot, err := l.slots.FindSlot(ctx, slotID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !slot.Active) {
		return domain.Registration{}, ErrSlotNotFound
	}
	if err != nil {
		return domain.Registration{}, fmt.Errorf("find slot: %w", err)
	}

	now := l.now()
	if now.After(slot.StartTime.Add(-l.cfg.RegistrationDeadline)) {
		return domain.Registration{}, ErrRegistrationClosed
	}

	existing, err := l.regs.FindRegistration(ctx, slotID, userID)
	found := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.Registration{}, fmt.Errorf("find registration: %w", err)
	}
	if found && existing.Status != domain.RegistrationCancelled {
		return domain.Registration{}, ErrAlreadyRegistered
	}

	active, err := l.regs.CountRegistrationsByUser(ctx, userID, domain.RegistrationRegistered)
	if err != nil {
		return domain.Registration{}, fmt.Errorf("count user registrations: %w", err)
	}
	if active >= l.cfg.MaxActiveRegistrations {
		return domain.Registration{}, ErrMaxRegistrationsExceeded
	}

	taken, err := l.regs.CountRegistrationsBySlot(ctx, slotID, domain.RegistrationRegistered)
	if err != nil {
		return domain.Registration{}, fmt.Errorf("count slot registrations: %w", err)
	}
	if taken >= slot.MaxParticipants {
		return domain.Registration{}, ErrSlotFull
	}

	reg := domain.Registration{
		ID:           domain.RegistrationID(uuid.NewString()),
		TimeSlotID:   slotID,
		UserID:       userID,
		Status:       domain.RegistrationRegistered,
		RegisteredAt: now,
	}

	// the (slot, user) pair is unique, so a cancelled row is reactivated in place
	if found {
		reg.ID = existing.ID
		err = l.regs.UpdateRegistration(ctx, reg, domain.RegistrationCancelled)
	} else {
		err = l.regs.CreateRegistration(ctx, reg)
	}
	switch {
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, store.ErrConflict):
		return domain.Registration{}, ErrAlreadyRegistered
	case err != nil:
		return domain.Registration{}, fmt.Errorf("save registration: %w", err)
	}
	return reg, nil
}

func (l *Ledger) Cancel(ctx context.Context, slotID domain.SlotID, userID domain.UserID) error {
	reg, err := l.cancel(ctx, slotID, userID)
	if err != nil {
		return err
	}
	publish(ctx, l.pub, events.New(events.RegistrationCancelled, registrationPayload(reg), *reg.CancelledAt))
	log.Info().Str("module", "app.ledger").Str("slot", string(slotID)).Str("user", string(userID)).Msg("cancelled")
	return nil
}

func (l *Ledger) cancel(ctx context.Context, slotID domain.SlotID, userID domain.UserID) (domain.Registration, error) {
	defer l.locks.Lock("slot:" + string(slotID))()
	defer l.locks.Lock("user:" + string(userID))()

	reg, err := l.regs.FindRegistration(ctx, slotID, userID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && reg.Status != domain.RegistrationRegistered) {
		return domain.Registration{}, ErrNotRegistered
	}
	if err != nil {
		return domain.Registration{}, fmt.Errorf("find registration: %w", err)
	}

	slot, err := l.slots.FindSlot(ctx, slotID)
	if err != nil {
		return domain.Registration{}, fmt.Errorf("find slot: %w", err)
	}
	now := l.now()
	if now.After(slot.StartTime.Add(-l.cfg.CancellationDeadline)) {
		return domain.Registration{}, ErrCancellationDeadlinePassed
	}

	reg.Status = domain.RegistrationCancelled
	reg.CancelledAt = &now
	err = l.regs.UpdateRegistration(ctx, reg, domain.RegistrationRegistered)
	switch {
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		return domain.Registration{}, ErrNotRegistered
	case err != nil:
		return domain.Registration{}, fmt.Errorf("cancel registration: %w", err)
	}
	return reg, nil
}

// MarkAttended moves a registered row to attended. Missing or terminal rows are left alone.
func (l *Ledger) MarkAttended(ctx context.Context, slotID domain.SlotID, userID domain.UserID) error {
	return l.transition(ctx, slotID, userID, domain.RegistrationAttended)
}

// MarkNoShow moves a registered row to noshow. Missing or terminal rows are left alone.
func (l *Ledger) MarkNoShow(ctx context.Context, slotID domain.SlotID, userID domain.UserID) error {
	return l.transition(ctx, slotID, userID, domain.RegistrationNoShow)
}

func (l *Ledger) transition(ctx context.Context, slotID domain.SlotID, userID domain.UserID, to domain.RegistrationStatus) error {
	reg, err := l.regs.FindRegistration(ctx, slotID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find registration: %w", err)
	}
	if reg.Status != domain.RegistrationRegistered {
		return nil
	}
	reg.Status = to
	err = l.regs.UpdateRegistration(ctx, reg, domain.RegistrationRegistered)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("mark %s: %w", to, err)
	}
	return nil
}

// MarkNoShows closes out every still-registered row of a finished slot.
func (l *Ledger) MarkNoShows(ctx context.Context, slotID domain.SlotID) (int, error) {
	regs, err := l.regs.ListRegistrationsBySlot(ctx, slotID, domain.RegistrationRegistered)
	if err != nil {
		return 0, fmt.Errorf("list registrations: %w", err)
	}
	n := 0
	for _, reg := range regs {
		if err := l.MarkNoShow(ctx, slotID, reg.UserID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Holds reports whether the user may join the slot's session.
func (l *Ledger) Holds(ctx context.Context, slotID domain.SlotID, userID domain.UserID) (bool, error) {
	reg, err := l.regs.FindRegistration(ctx, slotID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find registration: %w", err)
	}
	return reg.Holds(), nil
}

func (l *Ledger) ActiveRegistrations(ctx context.Context, userID domain.UserID) ([]domain.Registration, error) {
	regs, err := l.regs.ListRegistrationsByUser(ctx, userID, domain.RegistrationRegistered)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

func registrationPayload(r domain.Registration) events.RegistrationPayload {
	return events.RegistrationPayload{
		RegistrationID: string(r.ID),
		TimeSlotID:     string(r.TimeSlotID),
		UserID:         string(r.UserID),
	}
}

// publish never fails the caller; the broker is a best-effort collaborator.
func publish(ctx context.Context, pub events.Publisher, evs ...events.Event) {
	if pub == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ev := range evs {
		if err := pub.Publish(ctx, ev); err != nil {
			log.Warn().Str("module", "app.events").Err(err).Str("event", ev.EventType).Msg("publish failed")
		}
	}
}
