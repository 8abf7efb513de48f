package decision

import "errors"

// ErrInvalidConfig is returned when threshold boundaries are out of range or inverted.
var ErrInvalidConfig = errors.New("invalid threshold config")
