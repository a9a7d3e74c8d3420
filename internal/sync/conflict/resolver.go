// Package conflict reconciles local book state against a freshly fetched
// remote row-set.
package conflict

import (
	"strings"

	"github.com/kwhuang/shelfrank/internal/db"
	"github.com/kwhuang/shelfrank/internal/logging"
	"github.com/kwhuang/shelfrank/internal/models"
	syncpkg "github.com/kwhuang/shelfrank/internal/sync"
	"github.com/kwhuang/shelfrank/internal/sync/queue"
)

// ResolutionLocalPreferred is the only resolution the fixed policy produces.
const ResolutionLocalPreferred = "local_preferred"

// Resolver implements the fixed local-always-wins policy: when a local book
// and its remote row disagree on rating and neither side is unset, the remote
// row is overwritten with the local value through a queued sync operation.
//
// This is deliberately a single-field last-writer-wins policy, not a merge,
// and it is not bidirectional.
type Resolver struct {
	queue *queue.Queue
	repo  *db.Repository
}

// NewResolver creates a Resolver.
func NewResolver(q *queue.Queue, repo *db.Repository) *Resolver {
	return &Resolver{queue: q, repo: repo}
}

// Resolution reports the outcome for one detected conflict.
type Resolution struct {
	BookID       int64
	RowKey       string
	LocalRating  float64
	RemoteRating float64
	Outcome      string // always "local_preferred"
	Queued       bool   // whether the overwrite was enqueued
	Err          error  // enqueue failure, if any
}

// RowKey builds the case-insensitive title+author composite key the remote
// store is matched on. The remote store has no concept of local ids.
func RowKey(title, author string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "|" + strings.ToLower(strings.TrimSpace(author))
}

// Reconcile matches local books to remote rows by composite key, records one
// conflict per rating divergence and queues the local value as an overwrite.
// Books or rows where either side has no rating are not conflicts.
func (r *Resolver) Reconcile(sheetID string, local []*models.Book, remote []syncpkg.Row) []Resolution {
	remoteByKey := make(map[string]syncpkg.Row, len(remote))
	for _, row := range remote {
		remoteByKey[RowKey(row.Title, row.Author)] = row
	}

	var resolutions []Resolution
	for _, book := range local {
		key := RowKey(book.Title, book.Author)
		row, ok := remoteByKey[key]
		if !ok {
			continue
		}
		if book.Rating == nil || row.Rating == nil {
			continue
		}
		if *book.Rating == *row.Rating {
			continue
		}

		res := Resolution{
			BookID:       book.ID,
			RowKey:       key,
			LocalRating:  *book.Rating,
			RemoteRating: *row.Rating,
			Outcome:      ResolutionLocalPreferred,
		}

		logging.Warn("Rating conflict detected", map[string]interface{}{
			"book_id":       book.ID,
			"row_key":       key,
			"local_rating":  *book.Rating,
			"remote_rating": *row.Rating,
			"resolution":    ResolutionLocalPreferred,
		})

		overwrite := row
		overwrite.Rating = book.Rating
		overwrite.LastRead = book.LastRead()

		if _, err := r.queue.EnqueueUpdate(sheetID, overwrite); err != nil {
			res.Err = err
			logging.Error("Failed to queue conflict overwrite", err,
				map[string]interface{}{"book_id": book.ID})
		} else {
			res.Queued = true
		}

		if err := r.repo.CreateConflictLog(&models.ConflictLog{
			BookID:       book.ID,
			RowKey:       key,
			LocalRating:  *book.Rating,
			RemoteRating: *row.Rating,
			Resolution:   ResolutionLocalPreferred,
		}); err != nil {
			logging.Error("Failed to record conflict log", err,
				map[string]interface{}{"book_id": book.ID})
		}

		resolutions = append(resolutions, res)
	}

	return resolutions
}
