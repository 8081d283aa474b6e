package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RunStatusKey(runID uuid.UUID) string {
	return fmt.Sprintf("run:%s:status", runID)
}

func RunProgressKey(runID uuid.UUID) string {
	return fmt.Sprintf("run:%s:progress", runID)
}

// IndexLockKey guards against concurrent runs over the same index.
func IndexLockKey(index string) string {
	return fmt.Sprintf("lock:index:%s", index)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// WriteRateLimitKey counts mutating requests separately from reads.
func WriteRateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s:write", keyPrefix)
}
