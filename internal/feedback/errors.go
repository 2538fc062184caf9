package feedback

import (
	"fmt"

	"github.com/joescharf/prcycle/internal/retry"
)

// RemoteUnavailableError reports a platform failure that outlasted retries.
type RemoteUnavailableError struct {
	Op          string
	RateLimited bool
	Attempts    int
	Err         error
}

func (e *RemoteUnavailableError) Error() string {
	reason := "remote unavailable"
	if e.RateLimited {
		reason = "remote rate limited"
	}
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", e.Op, reason, e.Attempts, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

func newRemoteError(op string, attempts int, err error) *RemoteUnavailableError {
	return &RemoteUnavailableError{
		Op:          op,
		RateLimited: retry.ClassifyRemote(err) == retry.RateLimited,
		Attempts:    attempts,
		Err:         err,
	}
}
