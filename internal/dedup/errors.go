package dedup

import "errors"

var (
	ErrCheckFailures    = errors.New("status checks failed")
	ErrNotSubmitted     = errors.New("job not submitted")
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")
	ErrInvalidConfig    = errors.New("invalid run configuration")
)
