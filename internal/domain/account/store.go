package account

import (
	"context"
	"errors"
	"time"
)

var ErrChallengeNotFound = errors.New("no pending verification code")

// OTPStore keeps at most one challenge per destination and purpose.
type OTPStore interface {
	// Save replaces any pending challenge for the same destination and purpose.
	Save(ctx context.Context, c *Challenge) error
	Get(ctx context.Context, destination string, purpose Purpose) (*Challenge, error)
	// IncrementAttempts returns the attempt count after the increment.
	IncrementAttempts(ctx context.Context, destination string, purpose Purpose) (int, error)
	Delete(ctx context.Context, destination string, purpose Purpose) error
	// PurgeExpired removes challenges that expired before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
