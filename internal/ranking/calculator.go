// Package ranking derives point-in-time rankings from the comparison ledger
// and persists immutable snapshots.
package ranking

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/kwhuang/shelfrank/internal/db"
	"github.com/kwhuang/shelfrank/internal/elo"
	"github.com/kwhuang/shelfrank/internal/errors"
	"github.com/kwhuang/shelfrank/internal/ledger"
	"github.com/kwhuang/shelfrank/internal/logging"
	"github.com/kwhuang/shelfrank/internal/models"
)

// MethodEloReplay tags snapshots produced by a full ledger replay.
const MethodEloReplay = "elo_replay"

// Calculator is stateless between calls; all state lives in the book store
// and the snapshot store.
type Calculator struct {
	repo   *db.Repository
	ledger *ledger.Ledger
}

// NewCalculator creates a Calculator.
func NewCalculator(repo *db.Repository, ledger *ledger.Ledger) *Calculator {
	return &Calculator{repo: repo, ledger: ledger}
}

// ReplayResult summarizes a replay pass.
type ReplayResult struct {
	Applied int // comparisons applied
	Skipped int // comparisons referencing deleted books
	Rated   int // books holding a rating after the replay
}

// ReplayAll recomputes every rating from scratch by replaying the full
// ledger in chronological order against a cold baseline. Each book is
// initialized to the default rating exactly once, on first appearance.
//
// The pass is deterministic: replaying the same ledger twice yields the same
// ratings. Comparisons referencing deleted books are skipped and logged, not
// fatal. All ratings are computed in memory first and persisted in a single
// final transaction, so a cancelled or failed replay leaves stored ratings
// untouched.
func (c *Calculator) ReplayAll(ctx context.Context) (*ReplayResult, error) {
	books, err := c.repo.ListBooks()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load books", err)
	}
	known := make(map[int64]bool, len(books))
	for _, b := range books {
		known[b.ID] = true
	}

	comparisons, err := c.ledger.All()
	if err != nil {
		return nil, err
	}

	result := &ReplayResult{}
	ratings := make(map[int64]float64)

	for _, cmp := range comparisons {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !known[cmp.BookA] || !known[cmp.BookB] {
			logging.Warn("Skipping comparison referencing deleted book",
				map[string]interface{}{
					"comparison_id": cmp.ID,
					"book_a":        cmp.BookA,
					"book_b":        cmp.BookB,
				})
			result.Skipped++
			continue
		}

		// Cold-baseline lazy initialization, exactly once per book
		ratingA, ok := ratings[cmp.BookA]
		if !ok {
			ratingA = elo.InitialRating
		}
		ratingB, ok := ratings[cmp.BookB]
		if !ok {
			ratingB = elo.InitialRating
		}

		outcome := elo.OutcomeLoss
		if cmp.Winner == cmp.BookA {
			outcome = elo.OutcomeWin
		}

		newA, newB := elo.ApplyOutcome(ratingA, ratingB, outcome)
		ratings[cmp.BookA] = newA
		ratings[cmp.BookB] = newB
		result.Applied++
	}

	for id, rating := range ratings {
		if !elo.WithinBounds(rating) {
			return nil, errors.Newf(errors.ErrRatingBounds,
				"book %d replayed to rating %.0f outside sanity bounds", id, rating)
		}
	}

	if err := c.repo.UpdateBookRatings(ratings); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to persist replayed ratings", err)
	}
	result.Rated = len(ratings)

	logging.Info("Ledger replay completed", map[string]interface{}{
		"applied": result.Applied,
		"skipped": result.Skipped,
		"rated":   result.Rated,
	})

	return result, nil
}

// Snapshot materializes the current ranking and persists it as an immutable
// snapshot. Fails with NO_RATED_BOOKS when no book holds a rating.
func (c *Calculator) Snapshot(reason string) (*models.RankingSnapshot, error) {
	books, err := c.repo.ListBooks()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load books", err)
	}

	var rated []*models.Book
	unrated := 0
	for _, b := range books {
		if b.HasRating() {
			rated = append(rated, b)
		} else {
			unrated++
		}
	}

	if len(rated) == 0 {
		return nil, errors.New(errors.ErrNoRatedBooks, "no rated books to snapshot")
	}

	elo.SortByRating(rated)

	snapshot := &models.RankingSnapshot{
		Method:       MethodEloReplay,
		Reason:       reason,
		RatedCount:   len(rated),
		UnratedCount: unrated,
		Entries:      make([]models.SnapshotEntry, 0, len(rated)),
	}
	for i, b := range rated {
		snapshot.Entries = append(snapshot.Entries, models.SnapshotEntry{
			Rank:   i + 1,
			BookID: b.ID,
			Title:  b.Title,
			Author: b.Author,
			Rating: *b.Rating,
		})
	}

	if err := c.repo.CreateSnapshot(snapshot); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to persist snapshot", err)
	}

	logging.Info("Ranking snapshot persisted", map[string]interface{}{
		"snapshot_id":   snapshot.ID,
		"rated_count":   snapshot.RatedCount,
		"unrated_count": snapshot.UnratedCount,
		"reason":        reason,
	})

	return snapshot, nil
}

// Latest returns the most recent snapshot, or NOT_FOUND when none exist.
func (c *Calculator) Latest() (*models.RankingSnapshot, error) {
	snapshot, err := c.repo.LatestSnapshot()
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.New(errors.ErrNotFound, "no ranking snapshots exist")
		}
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load latest snapshot", err)
	}
	return snapshot, nil
}

// History returns snapshots sorted by timestamp descending.
// limit <= 0 means no cap.
func (c *Calculator) History(limit int) ([]*models.RankingSnapshot, error) {
	snapshots, err := c.repo.ListSnapshots(limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load snapshot history", err)
	}
	return snapshots, nil
}
