package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/store"
)

const sessionColumns = `id, time_slot_id, language_code, level, status, started_at, ended_at,
	empty_since, recording_enabled, created_at, updated_at`

func scanSession(row scanner) (domain.Session, error) {
	var (
		s                          domain.Session
		level, status              string
		started, ended, emptySince sql.NullInt64
		created, updated           int64
	)
	err := row.Scan(&s.ID, &s.TimeSlotID, &s.LanguageCode, &level, &status, &started, &ended,
		&emptySince, &s.RecordingEnabled, &created, &updated)
	if err != nil {
		return domain.Session{}, mapError(err)
	}
	s.Level = domain.Level(level)
	s.Status = domain.SessionStatus(status)
	s.StartedAt = timePtr(started)
	s.EndedAt = timePtr(ended)
	s.EmptySince = timePtr(emptySince)
	s.CreatedAt = fromNanos(created)
	s.UpdatedAt = fromNanos(updated)
	return s, nil
}

func (s *Store) FindSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
}

func (s *Store) FindSessionBySlot(ctx context.Context, slotID domain.SlotID) (domain.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE time_slot_id = ?`, slotID))
}

func (s *Store) CreateSession(ctx context.Context, sess domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TimeSlotID, sess.LanguageCode, string(sess.Level), string(sess.Status),
		nullTime(sess.StartedAt), nullTime(sess.EndedAt), nullTime(sess.EmptySince), sess.RecordingEnabled,
		toNanos(sess.CreatedAt), toNanos(sess.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create session: %w", mapError(err))
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sess domain.Session) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, started_at = ?, ended_at = ?, empty_since = ?,
			recording_enabled = ?, updated_at = ?
		WHERE id = ?`,
		string(sess.Status), nullTime(sess.StartedAt), nullTime(sess.EndedAt), nullTime(sess.EmptySince),
		sess.RecordingEnabled, toNanos(sess.UpdatedAt), sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", mapError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListSessionsByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
