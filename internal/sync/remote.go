// Package sync provides remote record-store access, connectivity tracking
// and the offline-tolerant write-back machinery built on top of them.
package sync

import "context"

// Row is one record of the remote store, a tuple of primitive values in
// fixed column order: title, author, last read date, genre, rating.
//
// Index is the 1-based row position used for in-place updates; 0 means the
// row has not been placed yet. Rating is nil for the remote "no value"
// sentinel (an empty cell).
type Row struct {
	Index    int      `json:"index,omitempty"`
	Title    string   `json:"title"`
	Author   string   `json:"author"`
	LastRead string   `json:"last_read,omitempty"`
	Genre    string   `json:"genre,omitempty"`
	Rating   *float64 `json:"rating,omitempty"`
}

// RowStore is the contract the engine requires from a remote record store
// client. Implementations classify failures through the internal errors
// taxonomy: REMOTE_NOT_FOUND, SYNC_AUTH_FAILED (401/403, never retried
// automatically) and SYNC_TRANSIENT (network and 5xx, retryable).
type RowStore interface {
	// Write overwrites existing rows in place, addressed by Row.Index.
	Write(ctx context.Context, sheetID string, rows []Row) error

	// Append adds new rows after the last occupied row.
	Append(ctx context.Context, sheetID string, rows []Row) error

	// ReadAll returns every row of the sheet with Index populated.
	ReadAll(ctx context.Context, sheetID string) ([]Row, error)
}
