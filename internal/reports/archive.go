// Package reports archives generated reports. Records are immutable: the
// archive supports insert and read only.
package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Type names a kind of report.
type Type string

const (
	TypeCareer        Type = "career"
	TypeMarriage      Type = "marriage"
	TypeComprehensive Type = "comprehensive"
	TypeYearly        Type = "yearly"
)

// PreviewLength is the number of characters kept in a summary preview.
const PreviewLength = 200

const maxIDAttempts = 3

var (
	// ErrNotFound is returned when no report has the requested id.
	ErrNotFound = errors.New("report not found")
	// ErrDuplicateID is returned by a Store when the id is already taken.
	ErrDuplicateID = errors.New("report id already exists")
	// ErrIDCollision is returned when no fresh id could be allocated.
	ErrIDCollision = errors.New("could not allocate a unique report id")
)

// Report is a generated report.
type Report struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	ReportType string          `json:"report_type"`
	Content    string          `json:"content"`
	ChartData  json.RawMessage `json:"chart_data,omitempty"`
	Model      string          `json:"model,omitempty"`
	Usage      json.RawMessage `json:"usage,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Summary is the list view of a report.
type Summary struct {
	ID         string    `json:"id"`
	ReportType string    `json:"report_type"`
	CreatedAt  time.Time `json:"created_at"`
	Preview    string    `json:"preview"`
}

// Store persists reports. Insert must fail with ErrDuplicateID rather than
// overwrite. ListByUser returns newest first.
type Store interface {
	Insert(ctx context.Context, r Report) error
	Get(ctx context.Context, id string) (Report, error)
	ListByUser(ctx context.Context, userID string) ([]Report, error)
}

// Archive assigns ids and stores reports.
type Archive struct {
	store Store
	newID func() string
	now   func() time.Time
}

// NewArchive creates an Archive on top of store.
func NewArchive(store Store) *Archive {
	return &Archive{
		store: store,
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Store assigns a fresh id and creation time to r, inserts it and returns the
// id. Id collisions are retried a few times before giving up with
// ErrIDCollision.
func (a *Archive) Store(ctx context.Context, r Report) (string, error) {
	r.CreatedAt = a.now()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		r.ID = a.newID()
		err := a.store.Insert(ctx, r)
		if err == nil {
			return r.ID, nil
		}
		if !errors.Is(err, ErrDuplicateID) {
			return "", fmt.Errorf("inserting report: %w", err)
		}
	}
	return "", ErrIDCollision
}

// Get returns the report with the given id.
func (a *Archive) Get(ctx context.Context, id string) (Report, error) {
	r, err := a.store.Get(ctx, id)
	if err != nil {
		return Report{}, err
	}
	return r, nil
}

// ListByUser returns summaries of the user's reports, newest first.
func (a *Archive) ListByUser(ctx context.Context, userID string) ([]Summary, error) {
	list, err := a.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing reports for %s: %w", userID, err)
	}
	out := make([]Summary, len(list))
	for i, r := range list {
		out[i] = Summary{
			ID:         r.ID,
			ReportType: r.ReportType,
			CreatedAt:  r.CreatedAt,
			Preview:    Preview(r.Content),
		}
	}
	return out, nil
}

// Preview returns the first PreviewLength characters of content, followed by
// "..." when it was cut.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:PreviewLength]) + "..."
}
