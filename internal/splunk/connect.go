package splunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ConnectWithRetry waits until Splunk accepts the configured token, retrying
// with exponential backoff for up to maxElapsed. A rejected token fails at once.
func ConnectWithRetry(ctx context.Context, c *HTTPClient, maxElapsed time.Duration) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = maxElapsed

	operation := func() error {
		err := c.Ready(ctx)
		if errors.Is(err, ErrAuth) {
			return backoff.Permanent(err)
		}
		if err != nil {
			slog.Warn("splunk not ready, will retry", "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return fmt.Errorf("splunk not ready after retries: %w", err)
	}
	return nil
}
