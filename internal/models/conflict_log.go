// Package models provides data model definitions for the shelfrank core.
package models

import "time"

// ConflictLog records a resolved local/remote rating divergence for user
// awareness. Resolution is always "local_preferred" under the current
// last-writer-wins policy.
type ConflictLog struct {
	ID           int64   `db:"id" json:"id"`
	BookID       int64   `db:"book_id" json:"book_id"`
	RowKey       string  `db:"row_key" json:"row_key"` // composite title+author key
	LocalRating  float64 `db:"local_rating" json:"local_rating"`
	RemoteRating float64 `db:"remote_rating" json:"remote_rating"`
	Resolution   string  `db:"resolution" json:"resolution"`
	DetectedAt   int64   `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
