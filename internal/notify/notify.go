package notify

import "context"

// Message is a user-facing notification.
type Message struct {
	Body    string `json:"body"`
	Warning bool   `json:"warning,omitempty"`
	Sticky  bool   `json:"sticky,omitempty"`
}

// Notifier delivers best-effort signals to users and to the UI.
//
// Every method is fire-and-forget from the caller's point of view: failures
// are returned for logging but must never abort event processing.
type Notifier interface {
	// NotifyUser delivers a popup message to one user.
	NotifyUser(ctx context.Context, userID string, msg Message) error

	// Subscribe registers a user as a follower of a call's notifications.
	Subscribe(ctx context.Context, userID, callUniqueID string) error

	// Broadcast asks UI clients to perform an action on a model view,
	// e.g. reload the active calls list.
	Broadcast(ctx context.Context, action, model string) error
}

// Noop discards all notifications. Used when no bus is configured.
type Noop struct{}

func (Noop) NotifyUser(ctx context.Context, userID string, msg Message) error { return nil }
func (Noop) Subscribe(ctx context.Context, userID, callUniqueID string) error { return nil }
func (Noop) Broadcast(ctx context.Context, action, model string) error        { return nil }
