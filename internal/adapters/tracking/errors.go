package tracking

import "errors"

// Sentinel errors for experiment tracking.
var (
	ErrTrackingConfig = errors.New("tracking configuration")
	ErrTrackingSetup  = errors.New("tracking setup")
	ErrNoActiveRun    = errors.New("no active run")
	ErrRunNotFound    = errors.New("run not found")
)
