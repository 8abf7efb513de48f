package dataset

import "errors"

// Sentinel errors for dataset operations.
var (
	ErrLoadDataset   = errors.New("load dataset")
	ErrMissingColumn = errors.New("missing required column")
	ErrWriteTable    = errors.New("write table")
)
