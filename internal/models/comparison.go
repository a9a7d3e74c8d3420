// Package models provides data model definitions for the shelfrank core.
package models

import "time"

// Comparison is an immutable pairwise preference fact.
//
// The pair is stored in canonical order (BookA < BookB) so that (A,B) and
// (B,A) can never coexist as distinct records; Winner is always one of the
// two. Exactly one Comparison exists per unordered pair.
type Comparison struct {
	ID        int64 `db:"id" json:"id"`
	BookA     int64 `db:"book_a" json:"book_a"`
	BookB     int64 `db:"book_b" json:"book_b"`
	Winner    int64 `db:"winner" json:"winner"`
	CreatedAt int64 `db:"created_at" json:"created_at"`
}

// TableName returns the table name for Comparison.
func (Comparison) TableName() string {
	return "comparisons"
}

// Loser returns the id of the book that lost the comparison.
func (c *Comparison) Loser() int64 {
	if c.Winner == c.BookA {
		return c.BookB
	}
	return c.BookA
}

// Involves reports whether the comparison touches the given book.
func (c *Comparison) Involves(bookID int64) bool {
	return c.BookA == bookID || c.BookB == bookID
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (c *Comparison) CreatedAtTime() time.Time {
	return time.Unix(c.CreatedAt, 0)
}

// CanonicalPair returns the unordered pair (a, b) in canonical order,
// smaller id first.
func CanonicalPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}
