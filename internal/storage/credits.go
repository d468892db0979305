package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// --- Credits ---

func (s *Store) EnsureBalance(ctx context.Context, userID string, grant int) (int, error) {
	if err := s.ensureAccount(ctx, s.db, userID, grant); err != nil {
		return 0, err
	}
	var balance int
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM credit_balances WHERE user_id = ?`, userID).Scan(&balance)
	return balance, err
}

// DeductIfAvailable subtracts amount in a single conditional UPDATE, so the
// check and the write cannot be separated by another request.
func (s *Store) DeductIfAvailable(ctx context.Context, userID string, amount, grant int) (int, bool, error) {
	if err := s.ensureAccount(ctx, s.db, userID, grant); err != nil {
		return 0, false, err
	}

	var balance int
	err := s.db.QueryRowContext(ctx, `
		UPDATE credit_balances SET balance = balance - ?, updated_at = ?
		WHERE user_id = ? AND balance >= ?
		RETURNING balance`,
		amount, s.timestamp(), userID, amount,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx, `SELECT balance FROM credit_balances WHERE user_id = ?`, userID).Scan(&balance)
		return balance, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("deducting credits: %w", err)
	}
	return balance, true, nil
}

func (s *Store) AddBalance(ctx context.Context, userID string, amount, grant int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning add transaction: %w", err)
	}
	defer tx.Rollback()

	balance, err := s.addInTx(ctx, tx, userID, amount, grant)
	if err != nil {
		return 0, err
	}
	return balance, tx.Commit()
}

// ApplyPurchase records the payment and credits the balance in one
// transaction. The payment_id primary key makes replays no-ops.
func (s *Store) ApplyPurchase(ctx context.Context, userID, paymentID string, amount, grant int) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("beginning purchase transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO credit_purchases (payment_id, user_id, amount, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(payment_id) DO NOTHING`,
		paymentID, userID, amount, s.timestamp(),
	)
	if err != nil {
		return 0, false, fmt.Errorf("recording purchase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}

	if n == 0 {
		if err := s.ensureAccount(ctx, tx, userID, grant); err != nil {
			return 0, false, err
		}
		var balance int
		if err := tx.QueryRowContext(ctx, `SELECT balance FROM credit_balances WHERE user_id = ?`, userID).Scan(&balance); err != nil {
			return 0, false, err
		}
		return balance, false, tx.Commit()
	}

	balance, err := s.addInTx(ctx, tx, userID, amount, grant)
	if err != nil {
		return 0, false, err
	}
	return balance, true, tx.Commit()
}

// execQuerier is satisfied by both *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) ensureAccount(ctx context.Context, q execQuerier, userID string, grant int) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO credit_balances (user_id, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, grant, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

func (s *Store) addInTx(ctx context.Context, tx *sql.Tx, userID string, amount, grant int) (int, error) {
	if err := s.ensureAccount(ctx, tx, userID, grant); err != nil {
		return 0, err
	}
	var balance int
	err := tx.QueryRowContext(ctx, `
		UPDATE credit_balances SET balance = balance + ?, updated_at = ?
		WHERE user_id = ?
		RETURNING balance`,
		amount, s.timestamp(), userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("adding credits: %w", err)
	}
	return balance, nil
}
