// Package ledger records atomic pairwise-preference events and answers
// historical queries over them.
package ledger

import (
	"database/sql"
	stderrors "errors"

	"github.com/kwhuang/shelfrank/internal/db"
	"github.com/kwhuang/shelfrank/internal/errors"
	"github.com/kwhuang/shelfrank/internal/logging"
	"github.com/kwhuang/shelfrank/internal/models"
)

// Ledger enforces one record per unordered pair of books. Recording never
// mutates ratings; that is the ranking calculator's replay step.
type Ledger struct {
	repo *db.Repository
}

// New creates a Ledger over the given repository.
func New(repo *db.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Record validates and persists a comparison.
//
// Fails with INVALID_COMPARISON when bookA == bookB or the winner is neither
// book, and with DUPLICATE_PAIR when the unordered pair has already been
// decided. Re-comparison requires explicitly deleting the prior record; it is
// never an overwrite.
func (l *Ledger) Record(bookA, bookB, winner int64) (*models.Comparison, error) {
	if bookA == bookB {
		return nil, errors.Newf(errors.ErrInvalidComparison,
			"cannot compare book %d with itself", bookA)
	}
	if winner != bookA && winner != bookB {
		return nil, errors.Newf(errors.ErrInvalidComparison,
			"winner %d is not part of pair (%d, %d)", winner, bookA, bookB)
	}

	a, b := models.CanonicalPair(bookA, bookB)
	c := &models.Comparison{
		BookA:  a,
		BookB:  b,
		Winner: winner,
	}

	if err := l.repo.CreateComparison(c); err != nil {
		if stderrors.Is(err, db.ErrPairExists) {
			return nil, errors.Newf(errors.ErrDuplicatePair,
				"pair (%d, %d) already compared", a, b)
		}
		return nil, errors.Wrap(errors.ErrDatabase, "failed to record comparison", err)
	}

	logging.Info("Comparison recorded", map[string]interface{}{
		"comparison_id": c.ID,
		"book_a":        c.BookA,
		"book_b":        c.BookB,
		"winner":        c.Winner,
	})

	return c, nil
}

// History returns all comparisons touching the book, newest first.
// limit <= 0 means no cap.
func (l *Ledger) History(bookID int64, limit int) ([]*models.Comparison, error) {
	comparisons, err := l.repo.ListComparisonsForBook(bookID, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load comparison history", err)
	}
	return comparisons, nil
}

// All returns every comparison in chronological (insertion) order.
func (l *Ledger) All() ([]*models.Comparison, error) {
	comparisons, err := l.repo.ListComparisons()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load ledger", err)
	}
	return comparisons, nil
}

// Statistics summarizes ledger activity.
type Statistics struct {
	TotalComparisons int   `json:"total_comparisons"`
	DistinctPairs    int   `json:"distinct_pairs"`
	BooksCompared    int   `json:"books_compared"`
	MostComparedBook int64 `json:"most_compared_book,omitempty"` // 0 when ledger is empty
	MostComparedN    int   `json:"most_compared_n,omitempty"`
}

// Statistics returns aggregate counts over the ledger. The most-compared
// tie-break is unspecified; callers must not depend on it.
func (l *Ledger) Statistics() (*Statistics, error) {
	total, err := l.repo.CountComparisons()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to count comparisons", err)
	}

	booksCompared, err := l.repo.CountBooksCompared()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to count compared books", err)
	}

	stats := &Statistics{
		TotalComparisons: total,
		// One record per unordered pair, so pair count equals row count.
		DistinctPairs: total,
		BooksCompared: booksCompared,
	}

	bookID, count, err := l.repo.MostComparedBook()
	switch {
	case err == nil:
		stats.MostComparedBook = bookID
		stats.MostComparedN = count
	case stderrors.Is(err, sql.ErrNoRows):
		// Empty ledger, nothing to report
	default:
		return nil, errors.Wrap(errors.ErrDatabase, "failed to find most compared book", err)
	}

	return stats, nil
}
