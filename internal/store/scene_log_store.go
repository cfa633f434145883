package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/owenh/sceneguide/internal/domain"
)

type SceneLogStore struct {
	db *sql.DB
}

func NewSceneLogStore(db *sql.DB) *SceneLogStore {
	return &SceneLogStore{db: db}
}

func (s *SceneLogStore) Append(ctx context.Context, sessionID, text string, capturedAt time.Time) (*domain.SceneEntry, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scene_log (session_id, text, captured_at) VALUES (?, ?, ?)
	`, sessionID, text, capturedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to append scene entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *SceneLogStore) GetByID(ctx context.Context, id int64) (*domain.SceneEntry, error) {
	entry := &domain.SceneEntry{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, text, captured_at FROM scene_log WHERE id = ?
	`, id).Scan(&entry.ID, &entry.SessionID, &entry.Text, &entry.CapturedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scene entry: %w", err)
	}

	return entry, nil
}

func (s *SceneLogStore) ListBySessionID(ctx context.Context, sessionID string) ([]*domain.SceneEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, text, captured_at FROM scene_log
		WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scene entries: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var entries []*domain.SceneEntry
	for rows.Next() {
		entry := &domain.SceneEntry{}
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Text, &entry.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scene entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scene entries: %w", err)
	}

	return entries, nil
}
