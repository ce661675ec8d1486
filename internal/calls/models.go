package calls

import (
	"time"

	"pbxlink/internal/reference"
)

// Call is the logical conversation reconstructed from channel events.
// It may span multiple channels (legs); the primary leg's Uniqueid doubles
// as the call identity.
//
// Field discipline: derived fields (direction, parties, partner, names) are
// set at most once, by whichever event first supplies them. Timestamps never
// regress. See Merge.
type Call struct {
	UniqueID string `json:"uniqueid" db:"uniqueid"`

	CallingNumber string `json:"calling_number" db:"calling_number"`
	CalledNumber  string `json:"called_number" db:"called_number"`
	CallingName   string `json:"calling_name,omitempty" db:"calling_name"`

	// Started/Answered/Ended are each set at most once and are
	// monotonically non-decreasing. Zero means unset.
	Started  time.Time `json:"started" db:"started"`
	Answered time.Time `json:"answered,omitempty" db:"answered"`
	Ended    time.Time `json:"ended,omitempty" db:"ended"`

	Direction Direction `json:"direction,omitempty" db:"direction"`
	Status    Status    `json:"status" db:"status"`

	// IsActive is true until the primary leg hangs up or originate fails.
	IsActive bool `json:"is_active" db:"is_active"`

	CallingUserID  string   `json:"calling_user_id,omitempty" db:"calling_user_id"`
	AnsweredUserID string   `json:"answered_user_id,omitempty" db:"answered_user_id"`
	CalledUserIDs  []string `json:"called_user_ids,omitempty" db:"-"`

	// PartnerID is the resolved CRM contact, weakly associated.
	PartnerID string `json:"partner_id,omitempty" db:"partner_id"`

	// Ref optionally links the call to an arbitrary business record.
	Ref reference.Ref `json:"ref,omitempty"`

	Notes string `json:"notes,omitempty" db:"notes"`

	SystemName string `json:"system_name,omitempty" db:"system_name"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Duration is ended minus answered. Zero when the call was never answered
// or has not ended.
func (c Call) Duration() time.Duration {
	if c.Answered.IsZero() || c.Ended.IsZero() {
		return 0
	}
	return c.Ended.Sub(c.Answered)
}

// HasCalledUser reports whether userID already accumulated in CalledUserIDs.
func (c Call) HasCalledUser(userID string) bool {
	for _, id := range c.CalledUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

type Status string

const (
	StatusProgress Status = "progress"
	StatusAnswered Status = "answered"
	StatusBusy     Status = "busy"
	StatusNoAnswer Status = "noanswer"
	StatusFailed   Status = "failed"
)

// terminal reports whether s is a final disposition.
func (s Status) terminal() bool {
	switch s {
	case StatusBusy, StatusNoAnswer, StatusFailed:
		return true
	default:
		return false
	}
}

// CallEvent is one line of a call's human-readable event log.
type CallEvent struct {
	ID           string    `json:"id" db:"id"`
	CallUniqueID string    `json:"call_uniqueid" db:"call_uniqueid"`
	Text         string    `json:"text" db:"text"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
