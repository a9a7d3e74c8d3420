// Package db provides CRUD repository operations for shelfrank data models.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kwhuang/shelfrank/internal/models"
)

// ErrPairExists is returned by CreateComparison when the canonical unordered
// pair already has a recorded comparison.
var ErrPairExists = errors.New("comparison pair already recorded")

// Repository provides CRUD operations for all models.
// Frequently used queries go through a prepared statement cache to avoid
// repeated SQL parsing during full ledger replays.
type Repository struct {
	db *sql.DB

	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from the cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Book Operations
// =====================================================

// CreateBook creates a new book. The id is assigned by the database and
// written back into the model.
func (r *Repository) CreateBook(book *models.Book) error {
	now := time.Now().Unix()
	book.CreatedAt = now
	book.UpdatedAt = now

	readDates, err := book.MarshalReadDates()
	if err != nil {
		return fmt.Errorf("failed to serialize read dates: %w", err)
	}

	query := `
	INSERT INTO books (title, author, genre, tags, rating, read_dates, sheet_row,
		is_deleted, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query, book.Title, book.Author, book.Genre, book.Tags,
		ratingValue(book.Rating), readDates, book.SheetRow, book.IsDeleted,
		book.CreatedAt, book.UpdatedAt)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	book.ID = id
	return nil
}

// GetBook retrieves a book by id. Soft-deleted books are not found.
func (r *Repository) GetBook(id int64) (*models.Book, error) {
	query := `
	SELECT id, title, author, genre, tags, rating, read_dates, sheet_row,
		   is_deleted, created_at, updated_at
	FROM books WHERE id = ? AND is_deleted = 0
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	return scanBook(stmt.QueryRow(id))
}

// ListBooks returns all non-deleted books ordered by id, i.e. by creation.
func (r *Repository) ListBooks() ([]*models.Book, error) {
	query := `
	SELECT id, title, author, genre, tags, rating, read_dates, sheet_row,
		   is_deleted, created_at, updated_at
	FROM books WHERE is_deleted = 0 ORDER BY id
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []*models.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// UpdateBook updates a book's display attributes and read dates.
func (r *Repository) UpdateBook(book *models.Book) error {
	book.Touch()

	readDates, err := book.MarshalReadDates()
	if err != nil {
		return fmt.Errorf("failed to serialize read dates: %w", err)
	}

	query := `
	UPDATE books
	SET title = ?, author = ?, genre = ?, tags = ?, read_dates = ?, updated_at = ?
	WHERE id = ? AND is_deleted = 0
	`
	result, err := r.db.Exec(query, book.Title, book.Author, book.Genre, book.Tags,
		readDates, book.UpdatedAt, book.ID)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateBookRatings persists a batch of recomputed ratings in a single
// transaction. An interrupted replay therefore leaves previously persisted
// ratings untouched rather than half-updated.
func (r *Repository) UpdateBookRatings(ratings map[int64]float64) error {
	if len(ratings) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE books SET rating = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for id, rating := range ratings {
		if _, err := stmt.Exec(rating, now, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SetBookSheetRow records the remote row reference of a book. It is assigned
// once, when the book is first synced.
func (r *Repository) SetBookSheetRow(id int64, row int) error {
	query := `UPDATE books SET sheet_row = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`
	result, err := r.db.Exec(query, row, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteBook soft deletes a book. Ledger entries that reference it are kept
// and skipped during replay.
func (r *Repository) DeleteBook(id int64) error {
	query := `UPDATE books SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`
	result, err := r.db.Exec(query, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBook(row rowScanner) (*models.Book, error) {
	var book models.Book
	var rating sql.NullFloat64
	var readDates string

	err := row.Scan(&book.ID, &book.Title, &book.Author, &book.Genre, &book.Tags,
		&rating, &readDates, &book.SheetRow, &book.IsDeleted,
		&book.CreatedAt, &book.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if rating.Valid {
		v := rating.Float64
		book.Rating = &v
	}
	if err := book.UnmarshalReadDates(readDates); err != nil {
		return nil, fmt.Errorf("failed to parse read dates for book %d: %w", book.ID, err)
	}
	return &book, nil
}

func ratingValue(rating *float64) interface{} {
	if rating == nil {
		return nil
	}
	return *rating
}

// =====================================================
// Comparison Operations
// =====================================================

// CreateComparison persists a comparison with the duplicate-pair check and
// the insert inside one transaction, so two near-simultaneous submissions of
// the same pair cannot both succeed. The pair must already be canonical
// (BookA < BookB).
func (r *Repository) CreateComparison(c *models.Comparison) error {
	c.CreatedAt = time.Now().Unix()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM comparisons WHERE book_a = ? AND book_b = ?)`,
		c.BookA, c.BookB).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrPairExists
	}

	result, err := tx.Exec(`INSERT INTO comparisons (book_a, book_b, winner, created_at) VALUES (?, ?, ?, ?)`,
		c.BookA, c.BookB, c.Winner, c.CreatedAt)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id

	return tx.Commit()
}

// ListComparisons returns every comparison in insertion order, i.e.
// chronologically. This is the replay iteration order.
func (r *Repository) ListComparisons() ([]*models.Comparison, error) {
	query := `SELECT id, book_a, book_b, winner, created_at FROM comparisons ORDER BY id`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comparisons []*models.Comparison
	for rows.Next() {
		var c models.Comparison
		if err := rows.Scan(&c.ID, &c.BookA, &c.BookB, &c.Winner, &c.CreatedAt); err != nil {
			return nil, err
		}
		comparisons = append(comparisons, &c)
	}
	return comparisons, rows.Err()
}

// ListComparisonsForBook returns comparisons touching the book, newest
// first. limit <= 0 means no cap.
func (r *Repository) ListComparisonsForBook(bookID int64, limit int) ([]*models.Comparison, error) {
	query := `SELECT id, book_a, book_b, winner, created_at FROM comparisons
			  WHERE book_a = ? OR book_b = ? ORDER BY id DESC`
	args := []interface{}{bookID, bookID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comparisons []*models.Comparison
	for rows.Next() {
		var c models.Comparison
		if err := rows.Scan(&c.ID, &c.BookA, &c.BookB, &c.Winner, &c.CreatedAt); err != nil {
			return nil, err
		}
		comparisons = append(comparisons, &c)
	}
	return comparisons, rows.Err()
}

// CountComparisons returns the total number of recorded comparisons. With the
// one-record-per-pair invariant this equals the number of distinct unordered
// pairs compared.
func (r *Repository) CountComparisons() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM comparisons`).Scan(&count)
	return count, err
}

// CountBooksCompared returns the number of distinct books that appear in at
// least one comparison.
func (r *Repository) CountBooksCompared() (int, error) {
	query := `SELECT COUNT(*) FROM (
		SELECT book_a AS book_id FROM comparisons
		UNION
		SELECT book_b FROM comparisons
	)`
	var count int
	err := r.db.QueryRow(query).Scan(&count)
	return count, err
}

// MostComparedBook returns the book involved in the most comparisons and its
// comparison count. Ties are broken by whichever row the aggregation yields
// first; callers must not rely on a particular tie-break. Returns
// sql.ErrNoRows when the ledger is empty.
func (r *Repository) MostComparedBook() (int64, int, error) {
	query := `SELECT book_id, COUNT(*) AS n FROM (
		SELECT book_a AS book_id FROM comparisons
		UNION ALL
		SELECT book_b FROM comparisons
	) GROUP BY book_id ORDER BY n DESC LIMIT 1`

	var bookID int64
	var count int
	err := r.db.QueryRow(query).Scan(&bookID, &count)
	if err != nil {
		return 0, 0, err
	}
	return bookID, count, nil
}

// =====================================================
// RankingSnapshot Operations
// =====================================================

// CreateSnapshot persists an immutable ranking snapshot.
func (r *Repository) CreateSnapshot(s *models.RankingSnapshot) error {
	s.CreatedAt = time.Now().Unix()

	entries, err := s.MarshalEntries()
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot entries: %w", err)
	}

	query := `
	INSERT INTO ranking_snapshots (created_at, method, reason, rated_count, unrated_count, entries)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query, s.CreatedAt, s.Method, s.Reason,
		s.RatedCount, s.UnratedCount, string(entries))
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

// LatestSnapshot returns the snapshot with the latest timestamp, or
// sql.ErrNoRows when none exist.
func (r *Repository) LatestSnapshot() (*models.RankingSnapshot, error) {
	query := `
	SELECT id, created_at, method, reason, rated_count, unrated_count, entries
	FROM ranking_snapshots ORDER BY created_at DESC, id DESC LIMIT 1
	`
	return scanSnapshot(r.db.QueryRow(query))
}

// ListSnapshots returns snapshots sorted by timestamp descending.
// limit <= 0 means no cap.
func (r *Repository) ListSnapshots(limit int) ([]*models.RankingSnapshot, error) {
	query := `
	SELECT id, created_at, method, reason, rated_count, unrated_count, entries
	FROM ranking_snapshots ORDER BY created_at DESC, id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*models.RankingSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

func scanSnapshot(row rowScanner) (*models.RankingSnapshot, error) {
	var s models.RankingSnapshot
	var entries string
	err := row.Scan(&s.ID, &s.CreatedAt, &s.Method, &s.Reason,
		&s.RatedCount, &s.UnratedCount, &entries)
	if err != nil {
		return nil, err
	}
	if err := s.UnmarshalEntries([]byte(entries)); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %d entries: %w", s.ID, err)
	}
	return &s, nil
}

// =====================================================
// ConflictLog Operations
// =====================================================

// CreateConflictLog records a resolved conflict.
func (r *Repository) CreateConflictLog(log *models.ConflictLog) error {
	log.DetectedAt = time.Now().Unix()

	query := `
	INSERT INTO conflict_log (book_id, row_key, local_rating, remote_rating, resolution, detected_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query, log.BookID, log.RowKey, log.LocalRating,
		log.RemoteRating, log.Resolution, log.DetectedAt)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	log.ID = id
	return nil
}

// ListConflictLogs returns conflict logs, most recent first.
// limit <= 0 means no cap.
func (r *Repository) ListConflictLogs(limit int) ([]*models.ConflictLog, error) {
	query := `
	SELECT id, book_id, row_key, local_rating, remote_rating, resolution, detected_at
	FROM conflict_log ORDER BY detected_at DESC, id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		var l models.ConflictLog
		if err := rows.Scan(&l.ID, &l.BookID, &l.RowKey, &l.LocalRating,
			&l.RemoteRating, &l.Resolution, &l.DetectedAt); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// =====================================================
// App State Operations
// =====================================================

// SetState stores an opaque blob under a key. The sync queue serializes
// itself into this slot.
func (r *Repository) SetState(key string, value []byte) error {
	query := `INSERT INTO app_state (key, value) VALUES (?, ?)
			  ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := r.db.Exec(query, key, value)
	return err
}

// GetState retrieves a blob by key. Returns sql.ErrNoRows when the key has
// never been written.
func (r *Repository) GetState(key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return nil, err
	}
	return value, nil
}
