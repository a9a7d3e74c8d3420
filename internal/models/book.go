// Package models provides data model definitions for the shelfrank core.
package models

import (
	"encoding/json"
	"time"
)

// Book represents one ranked entity in the collection.
//
// Rating is nil until the book participates in its first comparison replay;
// after that it only changes through ledger replay. SheetRow is the 1-based
// row of this book in the remote sheet, assigned when the book is first
// synced and never reassigned.
type Book struct {
	ID        int64    `db:"id" json:"id"`
	Title     string   `db:"title" json:"title"`
	Author    string   `db:"author" json:"author"`
	Genre     string   `db:"genre" json:"genre,omitempty"`
	Tags      string   `db:"tags" json:"tags,omitempty"` // Comma-separated
	Rating    *float64 `db:"rating" json:"rating,omitempty"`
	ReadDates []string `db:"read_dates" json:"read_dates,omitempty"` // ISO dates, display only
	SheetRow  int      `db:"sheet_row" json:"sheet_row,omitempty"`   // 0 = never synced
	IsDeleted bool     `db:"is_deleted" json:"is_deleted"`
	CreatedAt int64    `db:"created_at" json:"created_at"`
	UpdatedAt int64    `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Book.
func (Book) TableName() string {
	return "books"
}

// HasRating reports whether the book has ever been rated.
func (b *Book) HasRating() bool {
	return b.Rating != nil
}

// LastRead returns the most recent read date, or "" when none are recorded.
// Dates are ISO-8601 strings, so lexicographic max is chronological max.
func (b *Book) LastRead() string {
	last := ""
	for _, d := range b.ReadDates {
		if d > last {
			last = d
		}
	}
	return last
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (b *Book) CreatedAtTime() time.Time {
	return time.Unix(b.CreatedAt, 0)
}

// Touch updates the UpdatedAt timestamp.
func (b *Book) Touch() {
	b.UpdatedAt = time.Now().Unix()
}

// MarshalReadDates serializes the read dates for storage.
func (b *Book) MarshalReadDates() (string, error) {
	if len(b.ReadDates) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(b.ReadDates)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalReadDates restores the read dates from storage.
func (b *Book) UnmarshalReadDates(data string) error {
	if data == "" {
		b.ReadDates = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &b.ReadDates)
}
