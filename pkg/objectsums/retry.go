package objectsums

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/umccr/cloud-checksum/pkg/util"
)

// defaultClock is shared by every backend's retry loop. No backend
// constructor takes a clock of its own, so every adapter retries
// against this wall-time clock.
var defaultClock = clock.New()

// retryConfig bounds how hard a backend retries a transient failure
// before giving up and returning it to the caller.
type retryConfig struct {
	base       time.Duration
	max        time.Duration
	maxRetries int
}

var defaultRetry = retryConfig{
	base:       100 * time.Millisecond,
	max:        10 * time.Second,
	maxRetries: 5,
}

// withRetry runs op, retrying with jittered backoff while isTransient
// reports the error as retryable, and gives up after the configured
// number of attempts or when ctx is cancelled.
func withRetry(ctx context.Context, isTransient func(error) bool, op func() error) error {
	backoff := util.NewBackoff(defaultClock, defaultRetry.base, defaultRetry.max, defaultRetry.maxRetries)

	for {
		err := op()
		if err == nil || !isTransient(err) {
			return err
		}

		delay, ok := backoff.Next()
		if !ok {
			return err
		}
		if sleepErr := backoff.Sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}
