// Package elo implements the pairwise rating update rule and ranking order.
//
// The package is a pure function library: it holds no state and never touches
// storage. Rating initialization and persistence belong to the ranking
// calculator.
package elo

import (
	"math"
	"sort"

	"github.com/kwhuang/shelfrank/internal/models"
)

const (
	// KFactor controls how much a single comparison can move a rating.
	KFactor = 32

	// Scale is the logistic curve scale constant.
	Scale = 400

	// InitialRating is assigned to a book exactly once, before its first
	// rating update.
	InitialRating = 1500

	// RatingFloor and RatingCeiling are sanity bounds used for integrity
	// checks only. Updates are never clamped.
	RatingFloor   = 0
	RatingCeiling = 4000
)

// Outcome values for ApplyOutcome.
const (
	OutcomeLoss = 0.0
	OutcomeDraw = 0.5
	OutcomeWin  = 1.0
)

// ExpectedScore returns the probability in (0,1) that a beats b.
func ExpectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/Scale))
}

// ApplyOutcome returns the updated ratings after a single comparison.
// outcome is the result for a: 1 win, 0.5 draw, 0 loss. Results are rounded
// to the nearest integer.
func ApplyOutcome(ratingA, ratingB, outcome float64) (float64, float64) {
	expectedA := ExpectedScore(ratingA, ratingB)
	expectedB := ExpectedScore(ratingB, ratingA)

	newA := math.Round(ratingA + KFactor*(outcome-expectedA))
	newB := math.Round(ratingB + KFactor*((1-outcome)-expectedB))

	return newA, newB
}

// WithinBounds reports whether a rating passes the sanity bounds. A failed
// check signals data corruption, not a value to clamp.
func WithinBounds(rating float64) bool {
	return rating >= RatingFloor && rating <= RatingCeiling
}

// SortByRating orders books by rating descending. The sort is stable, so
// equal-rating books keep their input order across repeated calls; the
// relative order among ties is otherwise unspecified.
func SortByRating(books []*models.Book) {
	sort.SliceStable(books, func(i, j int) bool {
		ri, rj := 0.0, 0.0
		if books[i].Rating != nil {
			ri = *books[i].Rating
		}
		if books[j].Rating != nil {
			rj = *books[j].Rating
		}
		return ri > rj
	})
}
