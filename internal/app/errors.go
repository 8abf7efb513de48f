package service

import "errors"

var (
	// ErrEmptyDataset is returned when a use case receives no member records.
	ErrEmptyDataset = errors.New("dataset has no records")
	// ErrNotConfigured is returned when a use case needs a component the service was built without.
	ErrNotConfigured = errors.New("component not configured")
	// ErrScoreMismatch is returned when the predictor returns a different number of scores than rows.
	ErrScoreMismatch = errors.New("score count does not match rows")
)
