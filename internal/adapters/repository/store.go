// Package repository stores predictions and ranks members by churn risk.
package repository

import (
	"context"

	"github.com/okian/churngym/internal/domain/model"
)

// Entry is a ranked member with their latest prediction.
type Entry struct {
	Rank       int
	Prediction model.Prediction
}

// Store provides read/write access to recorded predictions.
type Store interface {
	// Save appends predictions. Earlier predictions are kept as history.
	Save(ctx context.Context, predictions []model.Prediction) error

	// Get returns the latest prediction for a member.
	// Returns ErrNotFound if the member is unknown.
	Get(ctx context.Context, memberID string) (model.Prediction, error)

	// TopN returns the top-N members by latest churn probability desc,
	// then member id asc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Count returns the number of members with a stored prediction.
	Count(ctx context.Context) (int, error)
}
