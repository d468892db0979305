package storage

import (
	"context"
	"fmt"

	"github.com/kalambet/karmgyan/internal/conversation"
)

// --- Conversations ---

// Append inserts turns and trims the key to its newest maxTurns rows in the
// same transaction.
func (s *Store) Append(ctx context.Context, key string, turns []conversation.Turn, maxTurns int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.timestamp()
	for _, t := range turns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_turns (conv_key, role, content, created_at)
			VALUES (?, ?, ?, ?)`,
			key, string(t.Role), t.Content, now,
		); err != nil {
			return fmt.Errorf("inserting turn: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_turns
		WHERE conv_key = ? AND id NOT IN (
			SELECT id FROM conversation_turns WHERE conv_key = ? ORDER BY id DESC LIMIT ?
		)`,
		key, key, maxTurns,
	); err != nil {
		return fmt.Errorf("trimming conversation: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Read(ctx context.Context, key string) ([]conversation.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM conversation_turns
		WHERE conv_key = ? ORDER BY id ASC`, key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := []conversation.Turn{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		turns = append(turns, conversation.Turn{Role: conversation.Role(role), Content: content})
	}
	return turns, rows.Err()
}

func (s *Store) Clear(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE conv_key = ?`, key)
	return err
}
