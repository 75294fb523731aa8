package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dkeye/Parley/internal/domain"
)

const participantColumns = `id, session_id, user_id, display_name, status, camera_enabled,
	mic_enabled, recording_consent, joined_at, left_at`

func scanParticipant(row scanner) (domain.Participant, error) {
	var (
		p            domain.Participant
		status       string
		joined, left sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &p.DisplayName, &status, &p.CameraEnabled,
		&p.MicEnabled, &p.RecordingConsent, &joined, &left)
	if err != nil {
		return domain.Participant{}, mapError(err)
	}
	p.Status = domain.ParticipantStatus(status)
	p.JoinedAt = timePtr(joined)
	p.LeftAt = timePtr(left)
	return p, nil
}

func (s *Store) FindParticipant(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) (domain.Participant, error) {
	return scanParticipant(s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id = ? AND user_id = ?`, sessionID, userID))
}

func (s *Store) FindLiveParticipantByUser(ctx context.Context, userID domain.UserID) (domain.Participant, error) {
	return scanParticipant(s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE user_id = ? AND status <> ? LIMIT 1`,
		userID, string(domain.ParticipantDisconnected)))
}

func (s *Store) SaveParticipant(ctx context.Context, p domain.Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (`+participantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, user_id) DO UPDATE SET
			display_name = excluded.display_name,
			status = excluded.status,
			camera_enabled = excluded.camera_enabled,
			mic_enabled = excluded.mic_enabled,
			recording_consent = excluded.recording_consent,
			joined_at = excluded.joined_at,
			left_at = excluded.left_at`,
		p.ID, p.SessionID, p.UserID, p.DisplayName, string(p.Status), p.CameraEnabled, p.MicEnabled,
		p.RecordingConsent, nullTime(p.JoinedAt), nullTime(p.LeftAt))
	if err != nil {
		return fmt.Errorf("save participant: %w", mapError(err))
	}
	return nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID domain.SessionID) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id = ? ORDER BY user_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountParticipants(ctx context.Context, sessionID domain.SessionID, status domain.ParticipantStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM participants WHERE session_id = ? AND status = ?`, sessionID, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return n, nil
}
