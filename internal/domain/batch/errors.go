package batch

import "errors"

// Sentinel kinds for batch errors.
var (
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	ErrNoPipeline       = errors.New("no pipeline configured for kind")
)
