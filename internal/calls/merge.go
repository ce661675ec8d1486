package calls

import (
	"time"

	"pbxlink/internal/reference"
)

// Update is a partial view of call state derived from one channel event.
// Zero-valued fields are "no information", not "clear the field".
type Update struct {
	Direction   Direction
	Status      Status
	CallingName string

	CallingUserID  string
	AnsweredUserID string
	PartnerID      string

	// AddCalledUserIDs is unioned into the call's called-users set.
	AddCalledUserIDs []string

	Answered time.Time
	Ended    time.Time

	Ref reference.Ref

	// Deactivate moves the call out of the active set. One-way.
	Deactivate bool
}

// Merge folds an Update into the call and reports whether anything changed.
//
// Merge is a monotone operation: every field is set-once (first writer
// wins), timestamps never move backward, the called-users set only grows,
// and terminal status never reverts. Re-applying the same update is a
// no-op, which is what makes at-least-once event delivery safe.
func (c *Call) Merge(u Update) bool {
	changed := false

	if c.Direction == "" && u.Direction != "" {
		c.Direction = u.Direction
		changed = true
	}
	if u.Status != "" && c.mergeStatus(u.Status) {
		changed = true
	}
	if c.CallingName == "" && u.CallingName != "" {
		c.CallingName = u.CallingName
		changed = true
	}
	if c.CallingUserID == "" && u.CallingUserID != "" {
		c.CallingUserID = u.CallingUserID
		changed = true
	}
	if c.AnsweredUserID == "" && u.AnsweredUserID != "" {
		c.AnsweredUserID = u.AnsweredUserID
		changed = true
	}
	if c.PartnerID == "" && u.PartnerID != "" {
		c.PartnerID = u.PartnerID
		changed = true
	}
	if c.Ref.IsZero() && !u.Ref.IsZero() {
		c.Ref = u.Ref
		changed = true
	}

	for _, id := range u.AddCalledUserIDs {
		if id == "" || c.HasCalledUser(id) {
			continue
		}
		c.CalledUserIDs = append(c.CalledUserIDs, id)
		changed = true
	}

	// A late answer cannot land on a call that already ended.
	if c.Answered.IsZero() && !u.Answered.IsZero() && c.Ended.IsZero() {
		c.Answered = clampForward(u.Answered, c.Started)
		changed = true
	}
	if c.Ended.IsZero() && !u.Ended.IsZero() {
		c.Ended = clampForward(u.Ended, c.Started, c.Answered)
		changed = true
	}

	if u.Deactivate && c.IsActive {
		c.IsActive = false
		changed = true
	}

	return changed
}

// mergeStatus applies the status ladder: progress may move to answered or a
// terminal state; answered and terminal states are final. Hangup-derived
// terminal states never overwrite answered — an answered call that ends
// normally stays answered.
func (c *Call) mergeStatus(next Status) bool {
	if c.Status == next {
		return false
	}
	if c.Status != "" && c.Status != StatusProgress {
		return false
	}
	if next.terminal() || next == StatusAnswered {
		c.Status = next
		return true
	}
	if c.Status == "" && next == StatusProgress {
		c.Status = next
		return true
	}
	return false
}

// clampForward enforces started <= answered <= ended against clock skew
// between redelivered events.
func clampForward(t time.Time, lowerBounds ...time.Time) time.Time {
	for _, lb := range lowerBounds {
		if !lb.IsZero() && t.Before(lb) {
			t = lb
		}
	}
	return t
}
