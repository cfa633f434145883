package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/owenh/sceneguide/internal/domain"
)

type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, id string) (*domain.Session, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id) VALUES (?)
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	session := &domain.Session{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, frames_sampled, frames_accepted FROM sessions WHERE id = ?
	`, id).Scan(&session.ID, &session.StartedAt, &session.EndedAt, &session.FramesSampled, &session.FramesAccepted)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// End closes the session, recording its final counters.
func (s *SessionStore) End(ctx context.Context, id string, framesSampled, framesAccepted int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = CURRENT_TIMESTAMP, frames_sampled = ?, frames_accepted = ?
		WHERE id = ? AND ended_at IS NULL
	`, framesSampled, framesAccepted, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("session not found or already ended")
	}

	return nil
}

func (s *SessionStore) List(ctx context.Context) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, frames_sampled, frames_accepted FROM sessions
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		session := &domain.Session{}
		if err := rows.Scan(&session.ID, &session.StartedAt, &session.EndedAt, &session.FramesSampled, &session.FramesAccepted); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}
