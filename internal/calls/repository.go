package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("calls: not found")
	ErrDuplicate = errors.New("calls: uniqueid already exists")
)

// Filter narrows call listings.
type Filter struct {
	ActiveOnly bool
	Limit      int
}

// Repository is the persistence contract for calls and their event log.
//
// Deleting a call cascades to its channels and event log entries; referenced
// contacts and users are weak associations and are never touched.
type Repository interface {
	GetByUniqueID(ctx context.Context, uniqueID string) (Call, error)
	Create(ctx context.Context, c Call) error
	Update(ctx context.Context, c Call) error
	List(ctx context.Context, f Filter) ([]Call, error)

	// DeleteEndedBefore removes calls whose ended timestamp is older than
	// cutoff. Used by retention.
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	AppendEvent(ctx context.Context, e CallEvent) error
	EventsForCall(ctx context.Context, callUniqueID string) ([]CallEvent, error)
}
