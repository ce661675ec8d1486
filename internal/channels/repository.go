package channels

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("channels: channel not found")
	// ErrActiveExists signals a second active channel for a uniqueid.
	ErrActiveExists = errors.New("channels: active channel already exists for uniqueid")
)

// Filter narrows List results.
type Filter struct {
	ActiveOnly bool
	SystemName string
	Limit      int
}

type Repository interface {
	// GetActiveByUniqueID returns the single active channel for a
	// uniqueid, or ErrNotFound.
	GetActiveByUniqueID(ctx context.Context, uniqueID string) (Channel, error)

	// GetLatestByUniqueID returns the most recently created channel for
	// a uniqueid regardless of active state, or ErrNotFound.
	GetLatestByUniqueID(ctx context.Context, uniqueID string) (Channel, error)

	// Create stores a new channel. Returns ErrActiveExists when an
	// active channel with the same uniqueid is already present.
	Create(ctx context.Context, ch Channel) error

	// Update rewrites the channel identified by ch.ID.
	Update(ctx context.Context, ch Channel) error

	List(ctx context.Context, f Filter) ([]Channel, error)

	ListByCall(ctx context.Context, callUniqueID string) ([]Channel, error)

	// DeleteCreatedBefore removes channels created before the cutoff and
	// reports how many were deleted.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
