// Package ranking provides tests for the full-ledger replay and snapshots.
package ranking

import (
	"context"
	"testing"

	"github.com/kwhuang/shelfrank/internal/db"
	"github.com/kwhuang/shelfrank/internal/errors"
	"github.com/kwhuang/shelfrank/internal/ledger"
	"github.com/kwhuang/shelfrank/internal/models"
)

func setupCalculator(t *testing.T) (*Calculator, *ledger.Ledger, *db.Repository) {
	t.Helper()

	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	m := db.NewMigrator(database.DB)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Failed to initialize migrator: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	repo := db.NewRepository(database.DB)
	t.Cleanup(func() { repo.Close() })

	l := ledger.New(repo)
	return NewCalculator(repo, l), l, repo
}

func seedBooks(t *testing.T, repo *db.Repository, titles ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(titles))
	for _, title := range titles {
		book := &models.Book{Title: title, Author: "author"}
		if err := repo.CreateBook(book); err != nil {
			t.Fatalf("Failed to seed book %q: %v", title, err)
		}
		ids = append(ids, book.ID)
	}
	return ids
}

func mustRating(t *testing.T, repo *db.Repository, id int64) float64 {
	t.Helper()
	book, err := repo.GetBook(id)
	if err != nil {
		t.Fatalf("Failed to load book %d: %v", id, err)
	}
	if !book.HasRating() {
		t.Fatalf("Book %d has no rating", id)
	}
	return *book.Rating
}

func TestReplaySingleComparison(t *testing.T) {
	calc, l, repo := setupCalculator(t)
	ids := seedBooks(t, repo, "A", "B")

	if _, err := l.Record(ids[0], ids[1], ids[0]); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	result, err := calc.ReplayAll(context.Background())
	if err != nil {
		t.Fatalf("ReplayAll failed: %v", err)
	}
	if result.Applied != 1 || result.Skipped != 0 || result.Rated != 2 {
		t.Errorf("Result = %+v", result)
	}

	// Both start at the default; winner gains 16, loser loses 16
	if got := mustRating(t, repo, ids[0]); got != 1516 {
		t.Errorf("Winner rating = %v, want 1516", got)
	}
	if got := mustRating(t, repo, ids[1]); got != 1484 {
		t.Errorf("Loser rating = %v, want 1484", got)
	}
}

func TestReplayDeterministic(t *testing.T) {
	calc, l, repo := setupCalculator(t)
	ids := seedBooks(t, repo, "A", "B", "C", "D")

	l.Record(ids[0], ids[1], ids[0])
	l.Record(ids[2], ids[3], ids[3])
	l.Record(ids[0], ids[2], ids[0])
	l.Record(ids[1], ids[3], ids[3])

	if _, err := calc.ReplayAll(context.Background()); err != nil {
		t.Fatalf("First replay failed: %v", err)
	}
	first := make(map[int64]float64)
	for _, id := range ids {
		first[id] = mustRating(t, repo, id)
	}

	// A second replay from the same ledger must reproduce identical ratings
	if _, err := calc.ReplayAll(context.Background()); err != nil {
		t.Fatalf("Second replay failed: %v", err)
	}
	for _, id := range ids {
		if got := mustRating(t, repo, id); got != first[id] {
			t.Errorf("Book %d rating drifted: %v -> %v", id, first[id], got)
		}
	}
}

func TestReplaySkipsDeletedBooks(t *testing.T) {
	calc, l, repo := setupCalculator(t)
	ids := seedBooks(t, repo, "A", "B", "C")

	l.Record(ids[0], ids[1], ids[0])
	l.Record(ids[1], ids[2], ids[2])

	if err := repo.DeleteBook(ids[0]); err != nil {
		t.Fatalf("DeleteBook failed: %v", err)
	}

	result, err := calc.ReplayAll(context.Background())
	if err != nil {
		t.Fatalf("ReplayAll failed: %v", err)
	}
	if result.Applied != 1 || result.Skipped != 1 {
		t.Errorf("Result = %+v, want 1 applied and 1 skipped", result)
	}

	// Only the surviving pair was rated
	if got := mustRating(t, repo, ids[2]); got != 1516 {
		t.Errorf("Book C rating = %v, want 1516", got)
	}
	if got := mustRating(t, repo, ids[1]); got != 1484 {
		t.Errorf("Book B rating = %v, want 1484", got)
	}
}

func TestReplayCancellationLeavesRatingsUntouched(t *testing.T) {
	calc, l, repo := setupCalculator(t)
	ids := seedBooks(t, repo, "A", "B")
	l.Record(ids[0], ids[1], ids[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := calc.ReplayAll(ctx); err == nil {
		t.Fatal("Cancelled replay should fail")
	}

	book, err := repo.GetBook(ids[0])
	if err != nil {
		t.Fatalf("GetBook failed: %v", err)
	}
	if book.HasRating() {
		t.Error("Cancelled replay persisted a rating")
	}
}

func TestReplayEmptyLedger(t *testing.T) {
	calc, _, repo := setupCalculator(t)
	seedBooks(t, repo, "A", "B")

	result, err := calc.ReplayAll(context.Background())
	if err != nil {
		t.Fatalf("ReplayAll failed: %v", err)
	}
	if result.Applied != 0 || result.Rated != 0 {
		t.Errorf("Empty ledger result = %+v", result)
	}
}

func TestSnapshotOrdering(t *testing.T) {
	calc, l, repo := setupCalculator(t)
	ids := seedBooks(t, repo, "A", "B", "C", "D")
	// D stays unrated

	l.Record(ids[0], ids[1], ids[0])
	l.Record(ids[1], ids[2], ids[1])
	l.Record(ids[0], ids[2], ids[0])

	if _, err := calc.ReplayAll(context.Background()); err != nil {
		t.Fatalf("ReplayAll failed: %v", err)
	}

	snapshot, err := calc.Snapshot("test")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snapshot.ID == 0 {
		t.Error("Snapshot not persisted")
	}
	if snapshot.Method != MethodEloReplay {
		t.Errorf("Method = %q", snapshot.Method)
	}
	if snapshot.RatedCount != 3 || snapshot.UnratedCount != 1 {
		t.Errorf("Counts = (%d, %d), want (3, 1)", snapshot.RatedCount, snapshot.UnratedCount)
	}
	if len(snapshot.Entries) != 3 {
		t.Fatalf("Entries = %d, want 3", len(snapshot.Entries))
	}

	// Ratings never increase as rank descends, and ranks are 1-based
	for i, e := range snapshot.Entries {
		if e.Rank != i+1 {
			t.Errorf("Entry %d has rank %d", i, e.Rank)
		}
		if i > 0 && e.Rating > snapshot.Entries[i-1].Rating {
			t.Errorf("Ranking not descending at position %d", i)
		}
	}

	// A beat everyone and must rank first; unrated D never appears
	if snapshot.Entries[0].BookID != ids[0] {
		t.Errorf("Rank 1 = book %d, want %d", snapshot.Entries[0].BookID, ids[0])
	}
	if _, ok := snapshot.BookRank(ids[3]); ok {
		t.Error("Unrated book appeared in the snapshot")
	}
}

func TestSnapshotNoRatedBooks(t *testing.T) {
	calc, _, repo := setupCalculator(t)
	seedBooks(t, repo, "A", "B")

	_, err := calc.Snapshot("test")
	if !errors.Is(err, errors.ErrNoRatedBooks) {
		t.Errorf("Snapshot error = %v, want NO_RATED_BOOKS", err)
	}
}

func TestSnapshotsAreImmutableHistory(t *testing.T) {
	calc, l, repo := setupCalculator(t)
	ids := seedBooks(t, repo, "A", "B", "C")

	l.Record(ids[0], ids[1], ids[0])
	calc.ReplayAll(context.Background())
	first, err := calc.Snapshot("first")
	if err != nil {
		t.Fatalf("First snapshot failed: %v", err)
	}

	// More evidence arrives and the ranking changes
	l.Record(ids[1], ids[2], ids[1])
	l.Record(ids[0], ids[2], ids[2])
	calc.ReplayAll(context.Background())
	second, err := calc.Snapshot("second")
	if err != nil {
		t.Fatalf("Second snapshot failed: %v", err)
	}

	history, err := calc.History(0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History has %d snapshots, want 2", len(history))
	}
	if history[0].ID != second.ID {
		t.Error("History should be newest first")
	}

	// The earlier snapshot still carries its original entries
	var stored *models.RankingSnapshot
	for _, s := range history {
		if s.ID == first.ID {
			stored = s
		}
	}
	if stored == nil {
		t.Fatal("First snapshot missing from history")
	}
	if len(stored.Entries) != len(first.Entries) {
		t.Errorf("First snapshot mutated: %d entries, want %d", len(stored.Entries), len(first.Entries))
	}
	for i := range first.Entries {
		if stored.Entries[i].BookID != first.Entries[i].BookID {
			t.Errorf("First snapshot entry %d changed", i)
		}
	}
}

func TestLatestSnapshot(t *testing.T) {
	calc, l, repo := setupCalculator(t)

	if _, err := calc.Latest(); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Latest on empty store = %v, want NOT_FOUND", err)
	}

	ids := seedBooks(t, repo, "A", "B")
	l.Record(ids[0], ids[1], ids[1])
	calc.ReplayAll(context.Background())
	snapshot, err := calc.Snapshot("test")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	latest, err := calc.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ID != snapshot.ID {
		t.Errorf("Latest = %d, want %d", latest.ID, snapshot.ID)
	}
}
