// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"context"
	"log/slog"
	"time"
)

// WithRetry runs operation and re-runs it with exponential backoff while it
// fails with a transient error, up to maxRetries additional attempts.
// baseDelay doubles on each retry. Non-transient errors return immediately.
// Returns the error from the last attempt if all attempts fail.
func WithRetry(ctx context.Context, operation func() error, maxRetries int, baseDelay time.Duration) error {
	if maxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 0 {
				slog.Debug("operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}

		slog.Debug("transient failure, will retry", "attempt", attempt+1, "maxRetries", maxRetries, "error", lastErr)

		if attempt == maxRetries {
			break
		}

		delay := baseDelay << attempt
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
