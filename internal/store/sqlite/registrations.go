package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/store"
)

const registrationColumns = `id, time_slot_id, user_id, status, registered_at, cancelled_at`

func scanRegistration(row scanner) (domain.Registration, error) {
	var (
		r          domain.Registration
		status     string
		registered int64
		cancelled  sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.TimeSlotID, &r.UserID, &status, &registered, &cancelled); err != nil {
		return domain.Registration{}, mapError(err)
	}
	r.Status = domain.RegistrationStatus(status)
	r.RegisteredAt = fromNanos(registered)
	r.CancelledAt = timePtr(cancelled)
	return r, nil
}

func (s *Store) FindRegistration(ctx context.Context, slotID domain.SlotID, userID domain.UserID) (domain.Registration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE time_slot_id = ? AND user_id = ?`, slotID, userID)
	return scanRegistration(row)
}

func (s *Store) CreateRegistration(ctx context.Context, reg domain.Registration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registrations (`+registrationColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		reg.ID, reg.TimeSlotID, reg.UserID, string(reg.Status), toNanos(reg.RegisteredAt), nullTime(reg.CancelledAt))
	if err != nil {
		return fmt.Errorf("create registration: %w", mapError(err))
	}
	return nil
}

func (s *Store) UpdateRegistration(ctx context.Context, reg domain.Registration, from domain.RegistrationStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE registrations SET status = ?, registered_at = ?, cancelled_at = ?
		WHERE time_slot_id = ? AND user_id = ? AND status = ?`,
		string(reg.Status), toNanos(reg.RegisteredAt), nullTime(reg.CancelledAt),
		reg.TimeSlotID, reg.UserID, string(from))
	if err != nil {
		return fmt.Errorf("update registration: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update registration: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.FindRegistration(ctx, reg.TimeSlotID, reg.UserID); err != nil {
		return err
	}
	return store.ErrConflict
}

func (s *Store) CountRegistrationsBySlot(ctx context.Context, slotID domain.SlotID, status domain.RegistrationStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE time_slot_id = ? AND status = ?`, slotID, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count slot registrations: %w", err)
	}
	return n, nil
}

func (s *Store) CountRegistrationsByUser(ctx context.Context, userID domain.UserID, status domain.RegistrationStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE user_id = ? AND status = ?`, userID, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user registrations: %w", err)
	}
	return n, nil
}

func (s *Store) ListRegistrationsBySlot(ctx context.Context, slotID domain.SlotID, status domain.RegistrationStatus) ([]domain.Registration, error) {
	return s.listRegistrations(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE time_slot_id = ? AND status = ? ORDER BY registered_at`,
		slotID, string(status))
}

func (s *Store) ListRegistrationsByUser(ctx context.Context, userID domain.UserID, status domain.RegistrationStatus) ([]domain.Registration, error) {
	return s.listRegistrations(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE user_id = ? AND status = ? ORDER BY registered_at`,
		userID, string(status))
}

func (s *Store) listRegistrations(ctx context.Context, query string, args ...any) ([]domain.Registration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Registration, 0)
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
