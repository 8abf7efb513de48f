package scoring

import "errors"

// Sentinel errors for model training and scoring.
var (
	ErrTrain           = errors.New("train model")
	ErrPredict         = errors.New("predict")
	ErrFeatureMismatch = errors.New("feature mismatch")
	ErrLoadModel       = errors.New("load model")
)
