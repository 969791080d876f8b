package verification

import (
	"context"
	"time"
)

// Store persists token records. Lookups return (nil, nil) when nothing
// matches.
type Store interface {
	// Create persists rec alongside any existing tokens.
	Create(ctx context.Context, rec Record) error
	// Replace deletes every token of rec.Kind for rec.UserID and persists rec
	// as one atomic step.
	Replace(ctx context.Context, rec Record) error
	// FindActive returns the record matching hash and kind that is not
	// expired at now.
	FindActive(ctx context.Context, tokenHash string, kind Kind, now time.Time) (*Record, error)
	// Find returns the record matching hash and kind regardless of expiry.
	Find(ctx context.Context, tokenHash string, kind Kind) (*Record, error)
	// Delete removes the record with id and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// DeleteByUser removes every token of kind issued to userID.
	DeleteByUser(ctx context.Context, userID string, kind Kind) error
}

// Purger is implemented by stores that keep expired records until they are
// swept explicitly.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// UserLookup reports whether a user exists and has a verified email.
type UserLookup interface {
	UserVerified(ctx context.Context, userID string) (exists bool, verified bool, err error)
}

// UserLookupFunc adapts a function to UserLookup.
type UserLookupFunc func(ctx context.Context, userID string) (bool, bool, error)

func (f UserLookupFunc) UserVerified(ctx context.Context, userID string) (bool, bool, error) {
	return f(ctx, userID)
}
