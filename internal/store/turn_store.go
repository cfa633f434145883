package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/owenh/sceneguide/internal/domain"
)

type TurnStore struct {
	db *sql.DB
}

func NewTurnStore(db *sql.DB) *TurnStore {
	return &TurnStore{db: db}
}

func (s *TurnStore) Append(ctx context.Context, sessionID, role, content string) (*domain.Turn, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, role, content) VALUES (?, ?, ?)
	`, sessionID, role, content)
	if err != nil {
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *TurnStore) GetByID(ctx context.Context, id int64) (*domain.Turn, error) {
	turn := &domain.Turn{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, role, content, created_at FROM turns WHERE id = ?
	`, id).Scan(&turn.ID, &turn.SessionID, &turn.Role, &turn.Content, &turn.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}

	return turn, nil
}

func (s *TurnStore) ListBySessionID(ctx context.Context, sessionID string) ([]*domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at FROM turns
		WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var turns []*domain.Turn
	for rows.Next() {
		turn := &domain.Turn{}
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	return turns, nil
}
