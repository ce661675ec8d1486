package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pbxlink/internal/contacts"
	"pbxlink/internal/notify"
	"pbxlink/internal/reference"
)

// Leg is the channel-side view the correlator works from: one channel's
// identity plus the ownership already resolved by the directory.
type Leg struct {
	UniqueID    string
	LinkedID    string
	ChannelName string

	CallerIDNum  string
	CallerIDName string
	Exten        string
	SystemName   string

	// UserID is the owning PBX user, empty for anonymous/external legs.
	UserID string
	// UserContactID is that user's own contact record, for subscriptions.
	UserContactID string

	// Country is the ISO2 number-parsing hint (owner's locale, else the
	// configured default).
	Country string
}

// IsPrimary reports whether this leg anchors its call.
func (l Leg) IsPrimary() bool { return l.UniqueID == l.LinkedID }

// ContactResolver is the minimal contact-directory surface the correlator
// needs. Implemented by contacts.Service.
type ContactResolver interface {
	ResolveByNumber(ctx context.Context, number, country string) (contacts.Match, error)
	AutoCreate(ctx context.Context, number, country string) (contacts.Contact, error)
}

// Options toggles correlator behavior from configuration.
type Options struct {
	// AutoCreateContacts creates a contact from the caller ID number when
	// an inbound call matches nobody.
	AutoCreateContacts bool
}

// Correlator derives call-level state from channel events: direction,
// parties, partner, status and timestamps. Fields are filled exactly once
// each as information arrives; see Call.Merge.
//
// All mutations of one call run under that call's lock, so racing secondary
// legs cannot corrupt the called-users set or the status ladder.
type Correlator struct {
	repo     Repository
	contacts ContactResolver
	refs     reference.Resolver
	notifier notify.Notifier
	opts     Options
	log      *slog.Logger

	locks *keyedMutex
	clock func() time.Time
}

func NewCorrelator(repo Repository, cr ContactResolver, refs reference.Resolver, notifier notify.Notifier, opts Options, log *slog.Logger) *Correlator {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Correlator{
		repo:     repo,
		contacts: cr,
		refs:     refs,
		notifier: notifier,
		opts:     opts,
		log:      log,
		locks:    newKeyedMutex(),
		clock:    time.Now,
	}
}

// EnsureCall finds or creates the call anchored by a primary leg.
// Idempotent: redelivered creation events find the existing call.
func (c *Correlator) EnsureCall(ctx context.Context, leg Leg) (Call, error) {
	if !leg.IsPrimary() {
		return Call{}, fmt.Errorf("calls: EnsureCall on secondary leg %s", leg.UniqueID)
	}
	unlock := c.locks.lock(leg.UniqueID)
	defer unlock()

	existing, err := c.repo.GetByUniqueID(ctx, leg.UniqueID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Call{}, err
	}

	now := c.clock().UTC()
	call := Call{
		UniqueID:      leg.UniqueID,
		CallingNumber: leg.CallerIDNum,
		CalledNumber:  leg.Exten,
		Started:       now,
		Status:        StatusProgress,
		IsActive:      true,
		SystemName:    leg.SystemName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.repo.Create(ctx, call); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Lost a race with a redelivered event.
			return c.repo.GetByUniqueID(ctx, leg.UniqueID)
		}
		return Call{}, err
	}
	c.log.Debug("call created", "uniqueid", call.UniqueID, "channel", leg.ChannelName)
	return call, nil
}

// FindCall looks up the call a secondary leg belongs to. A missing call is
// not an error; telephony systems produce legs the pipeline must survive.
func (c *Correlator) FindCall(ctx context.Context, linkedID string) (Call, bool, error) {
	call, err := c.repo.GetByUniqueID(ctx, linkedID)
	if errors.Is(err, ErrNotFound) {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, err
	}
	return call, true, nil
}

// Apply folds a freshly created or updated channel into its call.
//
// The four quadrants (primary/secondary x owned/anonymous) mirror how a PBX
// assigns roles: a user's primary leg means the user dialed out; a user's
// secondary leg means the user is being rung.
func (c *Correlator) Apply(ctx context.Context, leg Leg) error {
	unlock := c.locks.lock(leg.LinkedID)
	defer unlock()

	call, err := c.repo.GetByUniqueID(ctx, leg.LinkedID)
	if errors.Is(err, ErrNotFound) {
		c.log.Warn("channel has no call to update", "channel", leg.ChannelName, "linkedid", leg.LinkedID)
		return nil
	}
	if err != nil {
		return err
	}

	var u Update
	switch {
	case leg.IsPrimary() && leg.UserID != "":
		u.CallingUserID = leg.UserID
		u.Direction = DirectionOut
		u.CallingName = leg.CallerIDName
		if call.PartnerID == "" {
			if m := c.lookupContact(ctx, leg.Exten, leg.Country); m.Found() {
				u.PartnerID = m.ID
			}
		}

	case !leg.IsPrimary() && leg.UserID != "":
		u.Direction = DirectionIn
		u.AddCalledUserIDs = []string{leg.UserID}

	case leg.IsPrimary() && leg.UserID == "":
		u.Direction = DirectionIn
		u.CallingName = leg.CallerIDName
		if call.PartnerID == "" {
			u.PartnerID = c.resolveInboundPartner(ctx, call, leg)
		}

	default: // secondary, anonymous
		u.Direction = DirectionOut
	}

	changed := call.Merge(u)

	// Secondary legs owned by a user follow the call's notifications.
	if !leg.IsPrimary() && leg.UserID != "" {
		if err := c.notifier.Subscribe(ctx, leg.UserID, call.UniqueID); err != nil {
			c.log.Warn("call subscription failed", "user_id", leg.UserID, "err", err)
		}
	}

	if call.Ref.IsZero() && c.refs != nil {
		if ref, ok := c.resolveReference(ctx, call); ok {
			changed = call.Merge(Update{Ref: ref}) || changed
		}
	}

	if !changed {
		return nil
	}
	call.UpdatedAt = c.clock().UTC()
	return c.repo.Update(ctx, call)
}

// resolveInboundPartner matches the caller to a contact for an anonymous
// primary leg. An existing business reference's contact wins over number
// lookup; auto-creation is the last resort and only when configured.
func (c *Correlator) resolveInboundPartner(ctx context.Context, call Call, leg Leg) string {
	if !call.Ref.IsZero() && call.Ref.PartnerID != "" {
		return call.Ref.PartnerID
	}
	if m := c.lookupContact(ctx, leg.CallerIDNum, leg.Country); m.Found() {
		return m.ID
	}
	if c.opts.AutoCreateContacts && leg.CallerIDNum != "" {
		created, err := c.contacts.AutoCreate(ctx, leg.CallerIDNum, leg.Country)
		if err != nil {
			c.log.Error("contact auto-create failed", "number", leg.CallerIDNum, "err", err)
			return ""
		}
		return created.ID
	}
	return ""
}

func (c *Correlator) lookupContact(ctx context.Context, number, country string) contacts.Match {
	if c.contacts == nil || number == "" {
		return contacts.Match{}
	}
	m, err := c.contacts.ResolveByNumber(ctx, number, country)
	if err != nil {
		c.log.Error("contact lookup failed", "number", number, "err", err)
		return contacts.Match{}
	}
	return m
}

func (c *Correlator) resolveReference(ctx context.Context, call Call) (reference.Ref, bool) {
	ref, ok, err := c.refs.Resolve(ctx, reference.Input{
		CallUniqueID:  call.UniqueID,
		Direction:     string(call.Direction),
		CallingNumber: call.CallingNumber,
		CalledNumber:  call.CalledNumber,
		PartnerID:     call.PartnerID,
	})
	if err != nil {
		c.log.Error("reference resolution failed", "uniqueid", call.UniqueID, "err", err)
		return reference.Ref{}, false
	}
	return ref, ok
}

// MarkAnswered stamps the call answered by a secondary leg reaching the Up
// state. First writer wins on answered time, status and answering user.
func (c *Correlator) MarkAnswered(ctx context.Context, callUniqueID, userID string) error {
	unlock := c.locks.lock(callUniqueID)
	defer unlock()

	call, err := c.repo.GetByUniqueID(ctx, callUniqueID)
	if err != nil {
		return err
	}
	if !call.Ended.IsZero() {
		// Stale Up from a redelivered or delayed event; the call is over.
		return nil
	}
	changed := call.Merge(Update{
		Status:         StatusAnswered,
		Answered:       c.clock().UTC(),
		AnsweredUserID: userID,
	})
	if !changed {
		return nil
	}
	call.UpdatedAt = c.clock().UTC()
	return c.repo.Update(ctx, call)
}

// FinishPrimary ends the call when its primary leg hangs up. A call never
// answered gets its final disposition from the hangup cause code: 17 means
// the far end was busy, 19 means ring timeout, anything else is a failure.
func (c *Correlator) FinishPrimary(ctx context.Context, callUniqueID, cause string) (Call, error) {
	unlock := c.locks.lock(callUniqueID)
	defer unlock()

	call, err := c.repo.GetByUniqueID(ctx, callUniqueID)
	if err != nil {
		return Call{}, err
	}

	u := Update{
		Ended:      c.clock().UTC(),
		Deactivate: true,
	}
	if call.Status != StatusAnswered {
		u.Status = causeStatus(cause)
	}
	if !call.Merge(u) {
		return call, nil
	}
	call.UpdatedAt = c.clock().UTC()
	if err := c.repo.Update(ctx, call); err != nil {
		return Call{}, err
	}
	c.notifyMissed(ctx, call)
	return call, nil
}

// FailOriginate marks the call failed after an originate failure response.
func (c *Correlator) FailOriginate(ctx context.Context, callUniqueID string) (Call, error) {
	unlock := c.locks.lock(callUniqueID)
	defer unlock()

	call, err := c.repo.GetByUniqueID(ctx, callUniqueID)
	if err != nil {
		return Call{}, err
	}
	if call.Merge(Update{Status: StatusFailed, Ended: c.clock().UTC(), Deactivate: true}) {
		call.UpdatedAt = c.clock().UTC()
		if err := c.repo.Update(ctx, call); err != nil {
			return Call{}, err
		}
	}
	return call, nil
}

// AppendLog adds a line to the call's event log.
func (c *Correlator) AppendLog(ctx context.Context, callUniqueID, text string) error {
	return c.repo.AppendEvent(ctx, CallEvent{
		ID:           uuid.NewString(),
		CallUniqueID: callUniqueID,
		Text:         text,
		CreatedAt:    c.clock().UTC(),
	})
}

// NotifyIncoming delivers the incoming-call popup to a rung user.
func (c *Correlator) NotifyIncoming(ctx context.Context, userID string, call Call, sticky bool) {
	from := call.CallingName
	if from == "" {
		from = call.CallingNumber
	}
	msg := notify.Message{
		Body:   fmt.Sprintf("Incoming call from %s at %s", from, call.Started.Format("15:04:05")),
		Sticky: sticky,
	}
	if err := c.notifier.NotifyUser(ctx, userID, msg); err != nil {
		c.log.Warn("incoming-call notification failed", "user_id", userID, "err", err)
	}
}

// notifyMissed tells every rung user about an unanswered ended call.
func (c *Correlator) notifyMissed(ctx context.Context, call Call) {
	if call.Status == StatusAnswered || len(call.CalledUserIDs) == 0 {
		return
	}
	msg := notify.Message{
		Body:    fmt.Sprintf("Missed call from %s", call.CallingNumber),
		Warning: true,
	}
	for _, userID := range call.CalledUserIDs {
		if err := c.notifier.NotifyUser(ctx, userID, msg); err != nil {
			c.log.Warn("missed-call notification failed", "user_id", userID, "err", err)
		}
	}
}

func causeStatus(cause string) Status {
	switch cause {
	case "17":
		return StatusBusy
	case "19":
		return StatusNoAnswer
	default:
		return StatusFailed
	}
}
