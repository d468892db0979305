package reports

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type failingStore struct {
	*MemoryStore
	insertErr error
}

func (f *failingStore) Insert(ctx context.Context, r Report) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.MemoryStore.Insert(ctx, r)
}

func TestStore_AssignsIDAndTimestamp(t *testing.T) {
	a := NewArchive(NewMemoryStore())
	ctx := context.Background()

	id, err := a.Store(ctx, Report{UserID: "u1", ReportType: "career", Content: "You will build things."})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := a.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, "u1", got.UserID)
	require.False(t, got.CreatedAt.IsZero())
}

func TestStore_RetriesOnCollision(t *testing.T) {
	a := NewArchive(NewMemoryStore())
	ctx := context.Background()

	ids := []string{"dup", "dup", "fresh"}
	a.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := a.Store(ctx, Report{UserID: "u1", Content: "one"})
	require.NoError(t, err)
	require.Equal(t, "dup", first)

	second, err := a.Store(ctx, Report{UserID: "u1", Content: "two"})
	require.NoError(t, err)
	require.Equal(t, "fresh", second)

	got, err := a.Get(ctx, "dup")
	require.NoError(t, err)
	require.Equal(t, "one", got.Content)
}

func TestStore_GivesUpAfterRepeatedCollisions(t *testing.T) {
	a := NewArchive(&failingStore{MemoryStore: NewMemoryStore(), insertErr: ErrDuplicateID})
	_, err := a.Store(context.Background(), Report{UserID: "u1"})
	require.ErrorIs(t, err, ErrIDCollision)
}

func TestStore_PropagatesStorageErrors(t *testing.T) {
	boom := errors.New("disk full")
	a := NewArchive(&failingStore{MemoryStore: NewMemoryStore(), insertErr: boom})
	_, err := a.Store(context.Background(), Report{UserID: "u1"})
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrIDCollision)
}

func TestGet_NotFound(t *testing.T) {
	a := NewArchive(NewMemoryStore())
	_, err := a.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListByUser_NewestFirstWithPreview(t *testing.T) {
	a := NewArchive(NewMemoryStore())
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	a.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	long := strings.Repeat("ॐ", 250)
	oldID, err := a.Store(ctx, Report{UserID: "u1", ReportType: "career", Content: "short"})
	require.NoError(t, err)
	newID, err := a.Store(ctx, Report{UserID: "u1", ReportType: "yearly", Content: long})
	require.NoError(t, err)
	_, err = a.Store(ctx, Report{UserID: "u2", ReportType: "career", Content: "other user"})
	require.NoError(t, err)

	list, err := a.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, newID, list[0].ID)
	require.Equal(t, oldID, list[1].ID)
	require.Equal(t, "short", list[1].Preview)
	require.Equal(t, strings.Repeat("ॐ", PreviewLength)+"...", list[0].Preview)
}

func TestListByUser_Empty(t *testing.T) {
	a := NewArchive(NewMemoryStore())
	list, err := a.ListByUser(context.Background(), "nobody")
	require.NoError(t, err)
	require.Empty(t, list)
}
