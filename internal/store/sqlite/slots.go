package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/store"
)

const slotColumns = `id, language_code, level, start_time, duration_minutes, max_participants,
	min_participants, recurrence, is_active, created_at, updated_at`

func scanSlot(row scanner) (domain.TimeSlot, error) {
	var (
		s                       domain.TimeSlot
		start, created, updated int64
		level, recurrence       string
	)
	err := row.Scan(&s.ID, &s.LanguageCode, &level, &start, &s.DurationMinutes, &s.MaxParticipants,
		&s.MinParticipants, &recurrence, &s.Active, &created, &updated)
	if err != nil {
		return domain.TimeSlot{}, mapError(err)
	}
	s.Level = domain.Level(level)
	s.Recurrence = domain.Recurrence(recurrence)
	s.StartTime = fromNanos(start)
	s.CreatedAt = fromNanos(created)
	s.UpdatedAt = fromNanos(updated)
	return s, nil
}

func (s *Store) FindSlot(ctx context.Context, id domain.SlotID) (domain.TimeSlot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = ?`, id)
	return scanSlot(row)
}

func (s *Store) SaveSlot(ctx context.Context, slot domain.TimeSlot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO time_slots (`+slotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			language_code = excluded.language_code,
			level = excluded.level,
			start_time = excluded.start_time,
			duration_minutes = excluded.duration_minutes,
			max_participants = excluded.max_participants,
			min_participants = excluded.min_participants,
			recurrence = excluded.recurrence,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		slot.ID, slot.LanguageCode, string(slot.Level), toNanos(slot.StartTime), slot.DurationMinutes,
		slot.MaxParticipants, slot.MinParticipants, string(slot.Recurrence), slot.Active,
		toNanos(slot.CreatedAt), toNanos(slot.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save slot %s: %w", slot.ID, mapError(err))
	}
	return nil
}

func (s *Store) ListSlots(ctx context.Context, filter store.SlotFilter) ([]domain.TimeSlot, error) {
	var (
		where []string
		args  []any
	)
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	if filter.LanguageCode != "" {
		where = append(where, "language_code = ?")
		args = append(args, filter.LanguageCode)
	}
	if filter.Level != "" {
		where = append(where, "level = ?")
		args = append(args, string(filter.Level))
	}
	if !filter.From.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, toNanos(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "start_time <= ?")
		args = append(args, toNanos(filter.To))
	}

	query := `SELECT ` + slotColumns + ` FROM time_slots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TimeSlot, 0)
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}
