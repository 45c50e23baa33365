package db

import (
	"errors"
	"time"

	"github.com/lib/pq"
)

// Operation is a function that performs an action and returns an error if it fails.
type Operation func() error

// IsDuplicateKeyError is a function that checks if an error is a duplicate key error.
type IsDuplicateKeyError func(err error) bool

const DefaultMaxRetries = 3

// uniqueViolation is the Postgres error code for unique constraint violations.
const uniqueViolation = "23505"

// Try executes an operation with default retry settings for duplicate key errors.
// It uses DefaultMaxRetries and IsPqDuplicateKeyError.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, IsPqDuplicateKeyError)
}

// WithRetries executes an operation with a retry mechanism for duplicate key errors.
// It attempts the operation up to maxRetries times.
// A delay can be introduced between retries if needed, but is not implemented here for simplicity.
func WithRetries(op Operation, maxRetries int, isDuplicateKey IsDuplicateKeyError) error {
	var err error
	// Loop for initial attempt (attempt = 0) + maxRetries
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil // Success
		}

		// If this was the last attempt (either initial if maxRetries = 0, or the last retry)
		// and it failed, break out of the loop to return the error.
		if attempt == maxRetries {
			break
		}

		if isDuplicateKey(err) {
			time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond) // Simple incremental backoff
			// Continue to the next attempt (handled by the loop)
		} else {
			return err // Not a duplicate key error, return immediately
		}
	}
	return err // All attempts failed or last attempt failed
}

// IsPqDuplicateKeyError checks if an error from Postgres is a unique violation (code 23505).
// Invoice number generation relies on this to retry when two writers pick the same
// per-day sequence value.
func IsPqDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
