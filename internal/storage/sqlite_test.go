package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/karmgyan/internal/conversation"
	"github.com/kalambet/karmgyan/internal/credits"
	"github.com/kalambet/karmgyan/internal/reports"
)

var (
	_ credits.Store      = (*Store)(nil)
	_ conversation.Store = (*Store)(nil)
	_ reports.Store      = (*Store)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the migrations are not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected at least two applied migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_conversation_turns_key", "idx_reports_user_created", "idx_credit_purchases_user"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("002_credit_purchases.sql")
	if err != nil || v != 2 {
		t.Errorf("parseMigrationVersion = %d, %v; want 2, nil", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for unnumbered migration")
	}
}

// --- Credits ---

func TestEnsureBalance_GrantsOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bal, err := s.EnsureBalance(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("EnsureBalance: %v", err)
	}
	if bal != 10 {
		t.Errorf("balance = %d, want 10", bal)
	}

	// A different grant on a known user must not reset it.
	bal, err = s.EnsureBalance(ctx, "u1", 99)
	if err != nil {
		t.Fatalf("EnsureBalance: %v", err)
	}
	if bal != 10 {
		t.Errorf("balance = %d, want 10", bal)
	}
}

func TestDeductIfAvailable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bal, ok, err := s.DeductIfAvailable(ctx, "u1", 15, 10)
	if err != nil {
		t.Fatalf("DeductIfAvailable: %v", err)
	}
	if ok || bal != 10 {
		t.Errorf("over-deduct = (%d, %v), want (10, false)", bal, ok)
	}

	bal, ok, err = s.DeductIfAvailable(ctx, "u1", 10, 10)
	if err != nil {
		t.Fatalf("DeductIfAvailable: %v", err)
	}
	if !ok || bal != 0 {
		t.Errorf("exact deduct = (%d, %v), want (0, true)", bal, ok)
	}

	bal, ok, err = s.DeductIfAvailable(ctx, "u1", 1, 10)
	if err != nil {
		t.Fatalf("DeductIfAvailable: %v", err)
	}
	if ok || bal != 0 {
		t.Errorf("deduct from zero = (%d, %v), want (0, false)", bal, ok)
	}
}

func TestDeductIfAvailable_Concurrent(t *testing.T) {
	s := openTestStore(t)
	ledger := credits.NewLedger(s)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := ledger.TryDeduct(ctx, "u1", 3)
			if err != nil {
				t.Errorf("TryDeduct: %v", err)
				return
			}
			if ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Errorf("succeeded = %d, want 3", succeeded)
	}
	bal, err := ledger.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 1 {
		t.Errorf("balance = %d, want 1", bal)
	}
}

func TestAddBalance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bal, err := s.AddBalance(ctx, "new-user", 5, 10)
	if err != nil {
		t.Fatalf("AddBalance: %v", err)
	}
	if bal != 15 {
		t.Errorf("balance = %d, want 15", bal)
	}
}

func TestApplyPurchase_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bal, applied, err := s.ApplyPurchase(ctx, "u1", "demo_1", 50, 10)
	if err != nil {
		t.Fatalf("ApplyPurchase: %v", err)
	}
	if !applied || bal != 60 {
		t.Errorf("first purchase = (%d, %v), want (60, true)", bal, applied)
	}

	bal, applied, err = s.ApplyPurchase(ctx, "u1", "demo_1", 50, 10)
	if err != nil {
		t.Fatalf("ApplyPurchase: %v", err)
	}
	if applied || bal != 60 {
		t.Errorf("replayed purchase = (%d, %v), want (60, false)", bal, applied)
	}

	bal, applied, err = s.ApplyPurchase(ctx, "u2", "demo_1", 50, 10)
	if err != nil {
		t.Fatalf("ApplyPurchase: %v", err)
	}
	if applied || bal != 10 {
		t.Errorf("purchase replayed by another user = (%d, %v), want (10, false)", bal, applied)
	}
}

// --- Conversations ---

func TestConversation_AppendTrimsOldestFirst(t *testing.T) {
	s := openTestStore(t)
	w := conversation.NewWindow(s, 2)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := w.Append(ctx, "k", conversation.Exchange(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	turns, err := w.Read(ctx, "k")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []string{"q2", "a2", "q3", "a3"}
	if len(turns) != len(want) {
		t.Fatalf("len(turns) = %d, want %d", len(turns), len(want))
	}
	for i, content := range want {
		if turns[i].Content != content {
			t.Errorf("turns[%d] = %q, want %q", i, turns[i].Content, content)
		}
	}
	if turns[0].Role != conversation.RoleUser || turns[1].Role != conversation.RoleAssistant {
		t.Errorf("roles = %s, %s", turns[0].Role, turns[1].Role)
	}
}

func TestConversation_KeysAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "a", conversation.Exchange("qa", "aa"), 20); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, "b", conversation.Exchange("qb", "ab"), 20); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Clear(ctx, "a"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	a, err := s.Read(ctx, "a")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(a) != 0 {
		t.Errorf("cleared key has %d turns", len(a))
	}
	b, err := s.Read(ctx, "b")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(b) != 2 {
		t.Errorf("other key has %d turns, want 2", len(b))
	}
}

// --- Reports ---

func TestReports_InsertGetList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, typ := range []string{"career", "yearly"} {
		r := reports.Report{
			ID:         fmt.Sprintf("r%d", i),
			UserID:     "u1",
			ReportType: typ,
			Content:    "content " + typ,
			ChartData:  json.RawMessage(`{"sun":"Leo"}`),
			Model:      "m",
			Usage:      json.RawMessage(`{"tokens":1}`),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Insert(ctx, r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := s.Insert(ctx, reports.Report{ID: "other", UserID: "u2", ReportType: "career", Content: "x", CreatedAt: base}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, "r0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "u1" || got.ReportType != "career" || string(got.ChartData) != `{"sun":"Leo"}` || string(got.Usage) != `{"tokens":1}` {
		t.Errorf("Get = %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}

	list, err := s.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 2 || list[0].ID != "r1" || list[1].ID != "r0" {
		t.Errorf("ListByUser order = %+v, want r1, r0", list)
	}
}

func TestReports_DuplicateAndMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := reports.Report{ID: "dup", UserID: "u1", ReportType: "career", Content: "first", CreatedAt: time.Now()}

	if err := s.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	r.Content = "second"
	if err := s.Insert(ctx, r); err != reports.ErrDuplicateID {
		t.Errorf("duplicate Insert error = %v, want ErrDuplicateID", err)
	}

	got, err := s.Get(ctx, "dup")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "first" {
		t.Errorf("Content = %q, report was overwritten", got.Content)
	}

	if _, err := s.Get(ctx, "missing"); err != reports.ErrNotFound {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestReports_ArchiveOnSQLite(t *testing.T) {
	s := openTestStore(t)
	a := reports.NewArchive(s)
	ctx := context.Background()

	id, err := a.Store(ctx, reports.Report{UserID: "u1", ReportType: "comprehensive", Content: "full reading"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	summaries, err := a.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != id || summaries[0].Preview != "full reading" {
		t.Errorf("summaries = %+v", summaries)
	}
}
