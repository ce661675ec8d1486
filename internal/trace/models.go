package trace

import "time"

// Record is an immutable raw AMI event capture.
//
// Invariants:
// - Records are never updated; retention deletes whole batches by age.
// - Capture is best-effort; do not block event processing on trace failures.
type Record struct {
	ID string `json:"id" db:"id"`

	// ChannelUniqueID ties the capture to a channel when one was matched.
	ChannelUniqueID string `json:"channel_uniqueid,omitempty" db:"channel_uniqueid"`

	// Event is the AMI event type (Newchannel, Newstate, Hangup, ...).
	Event string `json:"event" db:"event"`

	// SystemName identifies the originating telephony system.
	SystemName string `json:"system_name,omitempty" db:"system_name"`

	// Payload is the full event as JSON.
	Payload string `json:"payload" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
