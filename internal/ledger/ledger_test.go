// Package ledger provides tests for the comparison ledger semantics.
package ledger

import (
	"testing"

	"github.com/kwhuang/shelfrank/internal/db"
	"github.com/kwhuang/shelfrank/internal/errors"
	"github.com/kwhuang/shelfrank/internal/models"
)

func setupLedger(t *testing.T) (*Ledger, *db.Repository) {
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
	return New(repo), repo
}

func seedBooks(t *testing.T, repo *db.Repository, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		book := &models.Book{Title: string(rune('A' + i)), Author: "author"}
		if err := repo.CreateBook(book); err != nil {
			t.Fatalf("Failed to seed book: %v", err)
		}
		ids = append(ids, book.ID)
	}
	return ids
}

func TestRecordComparison(t *testing.T) {
	l, repo := setupLedger(t)
	ids := seedBooks(t, repo, 2)

	c, err := l.Record(ids[0], ids[1], ids[0])
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if c.ID == 0 {
		t.Error("Comparison was not assigned an id")
	}
	if c.Winner != ids[0] || c.Loser() != ids[1] {
		t.Errorf("Winner/loser wrong: %+v", c)
	}
}

func TestRecordCanonicalizesPair(t *testing.T) {
	l, repo := setupLedger(t)
	ids := seedBooks(t, repo, 2)

	// Submit in reversed order; stored pair must be canonical
	c, err := l.Record(ids[1], ids[0], ids[1])
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if c.BookA != ids[0] || c.BookB != ids[1] {
		t.Errorf("Pair not canonical: (%d, %d)", c.BookA, c.BookB)
	}
	if c.Winner != ids[1] {
		t.Errorf("Winner changed during canonicalization: %d", c.Winner)
	}
}

func TestRecordSelfComparison(t *testing.T) {
	l, repo := setupLedger(t)
	ids := seedBooks(t, repo, 1)

	_, err := l.Record(ids[0], ids[0], ids[0])
	if !errors.Is(err, errors.ErrInvalidComparison) {
		t.Errorf("Self comparison error = %v, want INVALID_COMPARISON", err)
	}
}

func TestRecordForeignWinner(t *testing.T) {
	l, repo := setupLedger(t)
	ids := seedBooks(t, repo, 3)

	_, err := l.Record(ids[0], ids[1], ids[2])
	if !errors.Is(err, errors.ErrInvalidComparison) {
		t.Errorf("Foreign winner error = %v, want INVALID_COMPARISON", err)
	}
}

func TestRecordDuplicatePairBothOrders(t *testing.T) {
	l, repo := setupLedger(t)
	ids := seedBooks(t, repo, 2)

	if _, err := l.Record(ids[0], ids[1], ids[0]); err != nil {
		t.Fatalf("First record failed: %v", err)
	}

	// Same order
	_, err := l.Record(ids[0], ids[1], ids[1])
	if !errors.Is(err, errors.ErrDuplicatePair) {
		t.Errorf("Same-order duplicate = %v, want DUPLICATE_PAIR", err)
	}

	// Reversed order is the same unordered pair
	_, err = l.Record(ids[1], ids[0], ids[1])
	if !errors.Is(err, errors.ErrDuplicatePair) {
		t.Errorf("Reversed-order duplicate = %v, want DUPLICATE_PAIR", err)
	}

	// The duplicate attempts must not have left extra rows behind
	all, err := l.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Ledger has %d records, want 1", len(all))
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	l, repo := setupLedger(t)
	ids := seedBooks(t, repo, 4)

	l.Record(ids[0], ids[1], ids[0])
	l.Record(ids[0], ids[2], ids[2])
	l.Record(ids[0], ids[3], ids[0])
	l.Record(ids[1], ids[2], ids[1]) // does not touch book 0

	history, err := l.History(ids[0], 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("History returned %d records, want 3", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].ID >= history[i-1].ID {
			t.Error("History should be newest first")
		}
	}
	for _, c := range history {
		if !c.Involves(ids[0]) {
			t.Errorf("History returned unrelated comparison %+v", c)
		}
	}

	limited, _ := l.History(ids[0], 2)
	if len(limited) != 2 {
		t.Errorf("Limit ignored: got %d", len(limited))
	}
}

func TestStatistics(t *testing.T) {
	l, repo := setupLedger(t)
	ids := seedBooks(t, repo, 4)

	l.Record(ids[0], ids[1], ids[0])
	l.Record(ids[0], ids[2], ids[0])
	l.Record(ids[1], ids[2], ids[2])

	stats, err := l.Statistics()
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.TotalComparisons != 3 {
		t.Errorf("TotalComparisons = %d, want 3", stats.TotalComparisons)
	}
	if stats.DistinctPairs != 3 {
		t.Errorf("DistinctPairs = %d, want 3", stats.DistinctPairs)
	}
	if stats.BooksCompared != 3 {
		t.Errorf("BooksCompared = %d, want 3", stats.BooksCompared)
	}
	// Books 0, 1 and 2 appear twice each; any of them is a valid answer
	mostCompared := map[int64]bool{ids[0]: true, ids[1]: true, ids[2]: true}
	if !mostCompared[stats.MostComparedBook] || stats.MostComparedN != 2 {
		t.Errorf("MostCompared = (%d, %d)", stats.MostComparedBook, stats.MostComparedN)
	}
}

func TestStatisticsEmptyLedger(t *testing.T) {
	l, _ := setupLedger(t)

	stats, err := l.Statistics()
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.TotalComparisons != 0 || stats.BooksCompared != 0 {
		t.Errorf("Empty ledger stats wrong: %+v", stats)
	}
	if stats.MostComparedBook != 0 {
		t.Errorf("Empty ledger should have no most-compared book: %d", stats.MostComparedBook)
	}
}
