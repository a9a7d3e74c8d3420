// Package engine wires the ranking core together: ledger, calculator, sync
// queue, conflict resolver and connectivity. It is the application root the
// UI layer talks to.
package engine

import (
	"context"

	"github.com/kwhuang/shelfrank/internal/db"
	"github.com/kwhuang/shelfrank/internal/errors"
	"github.com/kwhuang/shelfrank/internal/ledger"
	"github.com/kwhuang/shelfrank/internal/logging"
	"github.com/kwhuang/shelfrank/internal/models"
	"github.com/kwhuang/shelfrank/internal/ranking"
	syncpkg "github.com/kwhuang/shelfrank/internal/sync"
	"github.com/kwhuang/shelfrank/internal/sync/conflict"
	"github.com/kwhuang/shelfrank/internal/sync/queue"
)

// Config holds engine construction parameters.
type Config struct {
	SheetID string        // target remote sheet
	Queue   *queue.Config // nil for defaults
}

// Engine owns every component explicitly; nothing in the core is a
// package-level singleton. Construct with New, release with Close.
type Engine struct {
	repo     *db.Repository
	ledger   *ledger.Ledger
	calc     *ranking.Calculator
	queue    *queue.Queue
	resolver *conflict.Resolver
	store    syncpkg.RowStore
	net      syncpkg.Connectivity
	sheetID  string
}

// New builds an Engine over an opened repository and a remote row store.
// The persisted sync queue is restored, and a queue drain is registered on
// every connectivity-restored transition.
func New(repo *db.Repository, store syncpkg.RowStore, net syncpkg.Connectivity, cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	led := ledger.New(repo)
	q := queue.New(store, net, repo, cfg.Queue)
	if err := q.Load(); err != nil {
		return nil, err
	}

	e := &Engine{
		repo:     repo,
		ledger:   led,
		calc:     ranking.NewCalculator(repo, led),
		queue:    q,
		resolver: conflict.NewResolver(q, repo),
		store:    store,
		net:      net,
		sheetID:  cfg.SheetID,
	}

	net.OnOnline(func() {
		go e.queue.Process(context.Background())
	})

	return e, nil
}

// Close releases engine resources. The queue has already persisted itself
// after its last drain pass.
func (e *Engine) Close() error {
	return e.repo.Close()
}

// =====================================================
// Collection management
// =====================================================

// AddBook creates a book from manual entry. The rating stays unset until the
// book's first replay.
func (e *Engine) AddBook(title, author, genre, tags string) (*models.Book, error) {
	book := &models.Book{
		Title:  title,
		Author: author,
		Genre:  genre,
		Tags:   tags,
	}
	if err := e.repo.CreateBook(book); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to create book", err)
	}
	return book, nil
}

// GetBook returns a book by id.
func (e *Engine) GetBook(id int64) (*models.Book, error) {
	book, err := e.repo.GetBook(id)
	if err != nil {
		return nil, errors.Newf(errors.ErrNotFound, "book %d not found", id)
	}
	return book, nil
}

// ListBooks returns the whole collection.
func (e *Engine) ListBooks() ([]*models.Book, error) {
	books, err := e.repo.ListBooks()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list books", err)
	}
	return books, nil
}

// DeleteBook removes a book. Its ledger entries remain and are skipped on
// subsequent replays.
func (e *Engine) DeleteBook(id int64) error {
	if err := e.repo.DeleteBook(id); err != nil {
		return errors.Newf(errors.ErrNotFound, "book %d not found", id)
	}
	return nil
}

// =====================================================
// Ranking flow
// =====================================================

// SubmitComparison records a user decision in the ledger. Ratings are not
// touched here; call Recompute to fold the ledger into ratings.
func (e *Engine) SubmitComparison(bookA, bookB, winner int64) (*models.Comparison, error) {
	return e.ledger.Record(bookA, bookB, winner)
}

// ComparisonHistory returns comparisons touching a book, newest first.
func (e *Engine) ComparisonHistory(bookID int64, limit int) ([]*models.Comparison, error) {
	return e.ledger.History(bookID, limit)
}

// LedgerStatistics returns aggregate ledger counts.
func (e *Engine) LedgerStatistics() (*ledger.Statistics, error) {
	return e.ledger.Statistics()
}

// Recompute replays the full ledger, persists a ranking snapshot and queues
// every rated book for write-back: books already placed in the sheet as
// in-place updates, the rest as one append batch.
func (e *Engine) Recompute(ctx context.Context, reason string) (*models.RankingSnapshot, error) {
	if _, err := e.calc.ReplayAll(ctx); err != nil {
		return nil, err
	}

	snapshot, err := e.calc.Snapshot(reason)
	if err != nil {
		return nil, err
	}

	if e.sheetID != "" {
		if err := e.enqueueRatedBooks(); err != nil {
			// Queue trouble must not invalidate the locally computed ranking
			logging.Error("Failed to queue ranking write-back", err)
		}
	}

	return snapshot, nil
}

// enqueueRatedBooks queues sync operations for every book holding a rating.
func (e *Engine) enqueueRatedBooks() error {
	books, err := e.repo.ListBooks()
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to list books", err)
	}

	var appends []syncpkg.Row
	for _, book := range books {
		if !book.HasRating() {
			continue
		}
		row := rowForBook(book)
		if book.SheetRow > 0 {
			if _, err := e.queue.EnqueueUpdate(e.sheetID, row); err != nil {
				return err
			}
		} else {
			appends = append(appends, row)
		}
	}

	if len(appends) > 0 {
		if _, err := e.queue.EnqueueAppend(e.sheetID, appends); err != nil {
			return err
		}
	}
	return nil
}

// LatestRanking returns the most recent snapshot.
func (e *Engine) LatestRanking() (*models.RankingSnapshot, error) {
	return e.calc.Latest()
}

// RankingHistory returns snapshots, newest first.
func (e *Engine) RankingHistory(limit int) ([]*models.RankingSnapshot, error) {
	return e.calc.History(limit)
}

// =====================================================
// Sync flow
// =====================================================

// SyncNow drains the write-back queue once. Nil report means the drain was
// skipped (offline, or already draining).
func (e *Engine) SyncNow(ctx context.Context) *queue.Report {
	return e.queue.Process(ctx)
}

// QueueStatus exposes the queue's pending and permanently failed operations.
func (e *Engine) QueueStatus() queue.Status {
	return e.queue.GetStatus()
}

// ReleaseAuthHeld resumes operations parked on 401/403 after the user
// re-authenticated.
func (e *Engine) ReleaseAuthHeld() int {
	return e.queue.ReleaseAuthHeld()
}

// ImportResult summarizes an ImportFromRemote run.
type ImportResult struct {
	Created   int
	Matched   int
	Conflicts []conflict.Resolution
}

// ImportFromRemote reads the whole remote sheet, creates local books for
// unknown composite keys, back-fills row references for known ones, and
// reconciles rating divergences (local always wins). It reads from the same
// store the queue writes back to.
func (e *Engine) ImportFromRemote(ctx context.Context) (*ImportResult, error) {
	if e.sheetID == "" {
		return nil, errors.New(errors.ErrSyncNotConfigured, "no sheet configured")
	}

	rows, err := e.store.ReadAll(ctx, e.sheetID)
	if err != nil {
		return nil, err
	}

	books, err := e.repo.ListBooks()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list books", err)
	}
	localByKey := make(map[string]*models.Book, len(books))
	for _, b := range books {
		localByKey[conflict.RowKey(b.Title, b.Author)] = b
	}

	result := &ImportResult{}
	for _, row := range rows {
		key := conflict.RowKey(row.Title, row.Author)
		if local, ok := localByKey[key]; ok {
			result.Matched++
			// Row reference is assigned once, on first sight
			if local.SheetRow == 0 && row.Index > 0 {
				if err := e.repo.SetBookSheetRow(local.ID, row.Index); err != nil {
					logging.Error("Failed to assign sheet row", err,
						map[string]interface{}{"book_id": local.ID})
				} else {
					local.SheetRow = row.Index
				}
			}
			continue
		}

		book := &models.Book{
			Title:    row.Title,
			Author:   row.Author,
			Genre:    row.Genre,
			Rating:   row.Rating,
			SheetRow: row.Index,
		}
		if row.LastRead != "" {
			book.ReadDates = []string{row.LastRead}
		}
		if err := e.repo.CreateBook(book); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to import book", err)
		}
		localByKey[key] = book
		result.Created++
	}

	result.Conflicts = e.resolver.Reconcile(e.sheetID, books, rows)

	logging.Info("Remote import completed", map[string]interface{}{
		"created":   result.Created,
		"matched":   result.Matched,
		"conflicts": len(result.Conflicts),
	})

	return result, nil
}

// rowForBook maps a book to its remote row form, fixed column order.
func rowForBook(book *models.Book) syncpkg.Row {
	return syncpkg.Row{
		Index:    book.SheetRow,
		Title:    book.Title,
		Author:   book.Author,
		LastRead: book.LastRead(),
		Genre:    book.Genre,
		Rating:   book.Rating,
	}
}
