package preprocess

import "errors"

// ErrUnknownKind is returned by New for an unsupported pipeline kind.
var ErrUnknownKind = errors.New("unknown preprocessing kind")
