// Package models provides data model definitions for the shelfrank core.
package models

import (
	"encoding/json"
	"time"
)

// SnapshotEntry is one row of a materialized ranking, rank 1 being the
// strongest book at the time the snapshot was taken.
type SnapshotEntry struct {
	Rank   int     `json:"rank"`
	BookID int64   `json:"book_id"`
	Title  string  `json:"title"`
	Author string  `json:"author"`
	Rating float64 `json:"rating"`
}

// RankingSnapshot is an immutable, timestamped copy of the ranking at a
// point in time. Snapshots are append-only; the "current" ranking is the
// snapshot with the latest timestamp.
type RankingSnapshot struct {
	ID           int64           `db:"id" json:"id"`
	CreatedAt    int64           `db:"created_at" json:"created_at"`
	Method       string          `db:"method" json:"method"` // e.g. "elo_replay"
	Reason       string          `db:"reason" json:"reason,omitempty"`
	RatedCount   int             `db:"rated_count" json:"rated_count"`
	UnratedCount int             `db:"unrated_count" json:"unrated_count"`
	Entries      []SnapshotEntry `db:"entries" json:"entries"`
}

// TableName returns the table name for RankingSnapshot.
func (RankingSnapshot) TableName() string {
	return "ranking_snapshots"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (s *RankingSnapshot) CreatedAtTime() time.Time {
	return time.Unix(s.CreatedAt, 0)
}

// BookRank returns the 1-based rank of the given book within the snapshot.
// The second return is false when the book does not appear.
func (s *RankingSnapshot) BookRank(bookID int64) (int, bool) {
	for _, e := range s.Entries {
		if e.BookID == bookID {
			return e.Rank, true
		}
	}
	return 0, false
}

// BookByRank returns the entry at the given 1-based rank.
// BookRank and BookByRank are inverses for every valid position.
func (s *RankingSnapshot) BookByRank(rank int) (*SnapshotEntry, bool) {
	if rank < 1 || rank > len(s.Entries) {
		return nil, false
	}
	e := s.Entries[rank-1]
	return &e, true
}

// MarshalEntries serializes the entries for storage.
func (s *RankingSnapshot) MarshalEntries() ([]byte, error) {
	if len(s.Entries) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Entries)
}

// UnmarshalEntries restores the entries from storage.
func (s *RankingSnapshot) UnmarshalEntries(data []byte) error {
	if len(data) == 0 {
		s.Entries = nil
		return nil
	}
	return json.Unmarshal(data, &s.Entries)
}
