package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/karmgyan/internal/reports"
)

// --- Reports ---

func (s *Store) Insert(ctx context.Context, r reports.Report) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, user_id, report_type, content, chart_data, model, usage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		r.ID, r.UserID, r.ReportType, r.Content,
		nullableJSON(r.ChartData), r.Model, nullableJSON(r.Usage),
		r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return reports.ErrDuplicateID
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (reports.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, report_type, content, chart_data, model, usage, created_at
		FROM reports WHERE id = ?`, id,
	)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reports.Report{}, reports.ErrNotFound
	}
	return r, err
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]reports.Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, report_type, content, chart_data, model, usage, created_at
		FROM reports WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []reports.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (reports.Report, error) {
	var r reports.Report
	var chart, usage sql.NullString
	var createdAt string
	if err := row.Scan(&r.ID, &r.UserID, &r.ReportType, &r.Content, &chart, &r.Model, &usage, &createdAt); err != nil {
		return reports.Report{}, err
	}
	if chart.Valid {
		r.ChartData = json.RawMessage(chart.String)
	}
	if usage.Valid {
		r.Usage = json.RawMessage(usage.String)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return reports.Report{}, err
	}
	r.CreatedAt = t
	return r, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
