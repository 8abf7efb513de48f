package repository

import "errors"

// Sentinel kinds for prediction store errors.
var (
	ErrNotFound     = errors.New("member not found")
	ErrInvalidLimit = errors.New("invalid at-risk limit")
	ErrStore        = errors.New("prediction store")
)
