// Package models provides unit tests for the data model helpers.
package models

import (
	"testing"
	"time"
)

func TestCanonicalPair(t *testing.T) {
	tests := []struct {
		name         string
		a, b         int64
		wantA, wantB int64
	}{
		{"already ordered", 1, 2, 1, 2},
		{"reversed", 9, 3, 3, 9},
		{"equal", 7, 7, 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotA, gotB := CanonicalPair(tt.a, tt.b)
			if gotA != tt.wantA || gotB != tt.wantB {
				t.Errorf("CanonicalPair(%d, %d) = (%d, %d), want (%d, %d)",
					tt.a, tt.b, gotA, gotB, tt.wantA, tt.wantB)
			}
		})
	}
}

func TestComparisonLoser(t *testing.T) {
	c := &Comparison{BookA: 1, BookB: 2, Winner: 1}
	if got := c.Loser(); got != 2 {
		t.Errorf("Loser() = %d, want 2", got)
	}
	c.Winner = 2
	if got := c.Loser(); got != 1 {
		t.Errorf("Loser() = %d, want 1", got)
	}
}

func TestComparisonInvolves(t *testing.T) {
	c := &Comparison{BookA: 4, BookB: 8, Winner: 4}
	if !c.Involves(4) || !c.Involves(8) {
		t.Error("Involves should report both participants")
	}
	if c.Involves(5) {
		t.Error("Involves should reject a non-participant")
	}
}

func TestBookHasRating(t *testing.T) {
	b := &Book{Title: "Dune", Author: "Frank Herbert"}
	if b.HasRating() {
		t.Error("Unrated book reported a rating")
	}
	r := 1500.0
	b.Rating = &r
	if !b.HasRating() {
		t.Error("Rated book reported no rating")
	}
}

func TestBookLastRead(t *testing.T) {
	b := &Book{}
	if got := b.LastRead(); got != "" {
		t.Errorf("Empty read history should yield empty last read, got %q", got)
	}

	b.ReadDates = []string{"2023-05-01", "2024-11-30", "2024-02-14"}
	if got := b.LastRead(); got != "2024-11-30" {
		t.Errorf("LastRead() = %q, want 2024-11-30", got)
	}
}

func TestBookReadDatesRoundTrip(t *testing.T) {
	b := &Book{ReadDates: []string{"2022-01-01", "2023-06-15"}}
	data, err := b.MarshalReadDates()
	if err != nil {
		t.Fatalf("MarshalReadDates failed: %v", err)
	}

	restored := &Book{}
	if err := restored.UnmarshalReadDates(data); err != nil {
		t.Fatalf("UnmarshalReadDates failed: %v", err)
	}
	if len(restored.ReadDates) != 2 || restored.ReadDates[1] != "2023-06-15" {
		t.Errorf("Round trip lost data: %v", restored.ReadDates)
	}

	empty := &Book{}
	if err := empty.UnmarshalReadDates(""); err != nil {
		t.Errorf("Empty read dates should unmarshal cleanly: %v", err)
	}
}

func TestBookTouch(t *testing.T) {
	b := &Book{UpdatedAt: 0}
	before := time.Now().Unix()
	b.Touch()
	if b.UpdatedAt < before {
		t.Errorf("Touch did not advance UpdatedAt: %d < %d", b.UpdatedAt, before)
	}
}

func TestSnapshotRankLookups(t *testing.T) {
	s := &RankingSnapshot{Entries: []SnapshotEntry{
		{Rank: 1, BookID: 30, Title: "A", Rating: 1540},
		{Rank: 2, BookID: 10, Title: "B", Rating: 1500},
		{Rank: 3, BookID: 20, Title: "C", Rating: 1460},
	}}

	// BookRank and BookByRank must be inverses across every position
	for _, e := range s.Entries {
		rank, ok := s.BookRank(e.BookID)
		if !ok || rank != e.Rank {
			t.Errorf("BookRank(%d) = (%d, %v), want (%d, true)", e.BookID, rank, ok, e.Rank)
		}
		entry, ok := s.BookByRank(rank)
		if !ok || entry.BookID != e.BookID {
			t.Errorf("BookByRank(%d) returned book %d, want %d", rank, entry.BookID, e.BookID)
		}
	}

	if _, ok := s.BookRank(99); ok {
		t.Error("BookRank should miss for an absent book")
	}
	if _, ok := s.BookByRank(0); ok {
		t.Error("BookByRank(0) should miss")
	}
	if _, ok := s.BookByRank(4); ok {
		t.Error("BookByRank past the end should miss")
	}
}

func TestSnapshotEntriesRoundTrip(t *testing.T) {
	s := &RankingSnapshot{Entries: []SnapshotEntry{{Rank: 1, BookID: 5, Title: "T", Author: "A", Rating: 1516}}}
	data, err := s.MarshalEntries()
	if err != nil {
		t.Fatalf("MarshalEntries failed: %v", err)
	}

	restored := &RankingSnapshot{}
	if err := restored.UnmarshalEntries(data); err != nil {
		t.Fatalf("UnmarshalEntries failed: %v", err)
	}
	if len(restored.Entries) != 1 || restored.Entries[0].BookID != 5 {
		t.Errorf("Round trip lost entries: %+v", restored.Entries)
	}

	blank := &RankingSnapshot{}
	if data, _ := blank.MarshalEntries(); string(data) != "[]" {
		t.Errorf("Empty snapshot should marshal as [], got %s", data)
	}
}

func TestSyncOperationRetryable(t *testing.T) {
	op := &SyncOperation{Status: SyncStatusPending, RetryCount: 0}
	if !op.Retryable(3) {
		t.Error("Fresh pending operation should be retryable")
	}
	op.RetryCount = 3
	if op.Retryable(3) {
		t.Error("Operation at the ceiling should not be retryable")
	}
	op.RetryCount = 1
	op.Status = SyncStatusAuthHeld
	if op.Retryable(3) {
		t.Error("Auth-held operation should not be automatically retryable")
	}
}
