package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pbxlink/internal/ami"
	"pbxlink/internal/calls"
	"pbxlink/internal/directory"
	"pbxlink/internal/notify"
	"pbxlink/internal/recording"
	"pbxlink/internal/trace"
)

// Outcome classifies what a handler did with an event.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeUpdated  Outcome = "updated"
	OutcomeNotFound Outcome = "not_found"
	OutcomeIgnored  Outcome = "ignored"
)

// Result reports the disposition of one processed event. A NotFound outcome
// is normal operation, not an error: switches emit events for channels the
// pipeline never saw born.
type Result struct {
	Outcome  Outcome `json:"outcome"`
	UniqueID string  `json:"uniqueid,omitempty"`
	Detail   string  `json:"detail,omitempty"`
}

// Options toggles registry behavior from configuration.
type Options struct {
	// DefaultCountry is the number-parsing hint for legs whose owner has
	// no locale of their own.
	DefaultCountry string

	// RecordCalls archives the channel's recording on primary hangup.
	RecordCalls bool

	// AutoReloadChannels / AutoReloadCalls gate the UI reload broadcasts.
	AutoReloadChannels bool
	AutoReloadCalls    bool
}

// Registry is the channel-level state machine. It tracks every channel the
// switch reports, resolves ownership through the user directory and delegates
// call-level consequences to the correlator.
//
// Handlers are idempotent: redelivered events converge on the same state.
type Registry struct {
	repo     Repository
	corr     *calls.Correlator
	dir      *directory.Service
	tracer   *trace.Tracer
	notifier notify.Notifier
	archiver recording.Archiver
	opts     Options
	log      *slog.Logger
	clock    func() time.Time
}

func NewRegistry(repo Repository, corr *calls.Correlator, dir *directory.Service, tracer *trace.Tracer, notifier notify.Notifier, archiver recording.Archiver, opts Options, log *slog.Logger) *Registry {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if archiver == nil {
		archiver = recording.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		repo:     repo,
		corr:     corr,
		dir:      dir,
		tracer:   tracer,
		notifier: notifier,
		archiver: archiver,
		opts:     opts,
		log:      log,
		clock:    time.Now,
	}
}

// Handle validates an event and dispatches it to the matching handler.
// Unknown event types are ignored, not rejected; the switch emits far more
// vocabulary than the pipeline consumes.
func (r *Registry) Handle(ctx context.Context, evt ami.Event) (Result, error) {
	if err := evt.Validate(); err != nil {
		return Result{}, err
	}
	switch evt.Type() {
	case "Newchannel":
		return r.OnNewChannel(ctx, evt)
	case "Newstate":
		return r.OnNewState(ctx, evt)
	case "Hangup":
		return r.OnHangup(ctx, evt)
	case "OriginateResponse":
		return r.OnOriginateResponse(ctx, evt)
	case "VarSet":
		return r.OnVarSet(ctx, evt)
	default:
		return Result{Outcome: OutcomeIgnored, UniqueID: evt.Get("Uniqueid")}, nil
	}
}

// OnNewChannel registers a channel's birth. A primary leg finds or creates
// its call; a secondary leg attaches to the primary's call when one exists.
func (r *Registry) OnNewChannel(ctx context.Context, evt ami.Event) (Result, error) {
	ch := channelFromEvent(evt)
	r.tracer.Capture(ctx, ch.UniqueID, evt)

	user, owned := r.dir.Lookup(ctx, ch.Name, ch.SystemName, ch.CallerIDNum)
	if owned {
		ch.UserID = user.UserID
	}

	existing, err := r.repo.GetActiveByUniqueID(ctx, ch.UniqueID)
	fresh := errors.Is(err, ErrNotFound)
	if err != nil && !fresh {
		return Result{}, err
	}

	now := r.clock().UTC()
	outcome := OutcomeCreated
	if fresh {
		ch.ID = uuid.NewString()
		ch.IsActive = true
		ch.CreatedAt = now
		ch.UpdatedAt = now
		if err := r.attachCall(ctx, &ch, user, owned); err != nil {
			return Result{}, err
		}
		if err := r.repo.Create(ctx, ch); err != nil {
			if !errors.Is(err, ErrActiveExists) {
				return Result{}, err
			}
			// Redelivered event lost the creation race.
			existing, err = r.repo.GetActiveByUniqueID(ctx, ch.UniqueID)
			if err != nil {
				return Result{}, err
			}
			fresh = false
		}
	}
	if !fresh {
		outcome = OutcomeUpdated
		ch = mergeExisting(existing, ch, now)
		if err := r.repo.Update(ctx, ch); err != nil {
			return Result{}, err
		}
	}

	if !ch.NoCall && ch.CallUniqueID != "" {
		if err := r.corr.Apply(ctx, r.legFor(ch, user, owned)); err != nil {
			return Result{}, err
		}
		// A user's secondary leg means that user is being rung.
		if owned && !ch.IsPrimary() && user.NotifyPopup {
			if call, found, err := r.corr.FindCall(ctx, ch.CallUniqueID); err == nil && found {
				r.corr.NotifyIncoming(ctx, user.UserID, call, user.PopupSticky)
			}
		}
	}

	r.broadcastChannels(ctx)
	return Result{Outcome: outcome, UniqueID: ch.UniqueID}, nil
}

// attachCall decides which call a newborn channel belongs to.
func (r *Registry) attachCall(ctx context.Context, ch *Channel, user directory.PbxUser, owned bool) error {
	if ch.NoCall {
		return nil
	}
	if ch.IsPrimary() {
		call, err := r.corr.EnsureCall(ctx, r.legFor(*ch, user, owned))
		if err != nil {
			return err
		}
		ch.CallUniqueID = call.UniqueID
		return nil
	}
	call, found, err := r.corr.FindCall(ctx, ch.LinkedID)
	if err != nil {
		return err
	}
	if !found {
		r.log.Warn("secondary channel has no call", "channel", ch.Name, "linkedid", ch.LinkedID)
		return nil
	}
	ch.CallUniqueID = call.UniqueID
	return nil
}

// OnNewState folds a state transition into the channel. A secondary leg
// reaching Up marks the call answered by that leg's owner.
func (r *Registry) OnNewState(ctx context.Context, evt ami.Event) (Result, error) {
	uid := evt.Get("Uniqueid")
	r.tracer.Capture(ctx, uid, evt)

	existing, err := r.repo.GetActiveByUniqueID(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		// State change for a channel whose birth we never saw. Register
		// it without a call; hangup will still retire it cleanly.
		ch := channelFromEvent(evt)
		ch.ID = uuid.NewString()
		ch.IsActive = true
		now := r.clock().UTC()
		ch.CreatedAt = now
		ch.UpdatedAt = now
		if err := r.repo.Create(ctx, ch); err != nil && !errors.Is(err, ErrActiveExists) {
			return Result{}, err
		}
		r.log.Warn("state change for unknown channel", "channel", ch.Name, "uniqueid", uid)
		return Result{Outcome: OutcomeNotFound, UniqueID: uid}, nil
	}
	if err != nil {
		return Result{}, err
	}

	updated := mergeExisting(existing, channelFromEvent(evt), r.clock().UTC())
	if err := r.repo.Update(ctx, updated); err != nil {
		return Result{}, err
	}

	if updated.CallUniqueID == "" {
		return Result{Outcome: OutcomeNotFound, UniqueID: uid}, nil
	}

	if err := r.corr.AppendLog(ctx, updated.CallUniqueID,
		fmt.Sprintf("Channel %s status is %s", updated.Short(), updated.StateDesc)); err != nil {
		r.log.Warn("call log append failed", "uniqueid", uid, "err", err)
	}

	if !updated.IsPrimary() && updated.StateDesc == "Up" {
		user, owned := r.dir.Lookup(ctx, updated.Name, updated.SystemName, updated.CallerIDNum)
		var userID string
		if owned {
			userID = user.UserID
		}
		if err := r.corr.MarkAnswered(ctx, updated.CallUniqueID, userID); err != nil {
			return Result{}, err
		}
	}

	r.broadcastChannels(ctx)
	return Result{Outcome: OutcomeUpdated, UniqueID: uid}, nil
}

// OnHangup retires the channel. The primary leg's hangup ends the call,
// deriving the final disposition from the cause code when nobody answered.
func (r *Registry) OnHangup(ctx context.Context, evt ami.Event) (Result, error) {
	uid := evt.Get("Uniqueid")
	r.tracer.Capture(ctx, uid, evt)

	existing, err := r.repo.GetActiveByUniqueID(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		r.log.Warn("hangup for unknown channel",
			"channel", evt.Get("Channel"), "uniqueid", uid)
		return Result{Outcome: OutcomeNotFound, UniqueID: uid}, nil
	}
	if err != nil {
		return Result{}, err
	}

	now := r.clock().UTC()
	updated := mergeExisting(existing, channelFromEvent(evt), now)
	updated.Cause = evt.Get("Cause")
	updated.CauseTxt = evt.Get("Cause-txt")
	updated.HangupAt = now
	updated.IsActive = false
	if err := r.repo.Update(ctx, updated); err != nil {
		return Result{}, err
	}

	if updated.CallUniqueID != "" {
		if err := r.corr.AppendLog(ctx, updated.CallUniqueID,
			fmt.Sprintf("Channel %s hangup, cause %s (%s)",
				updated.Short(), updated.Cause, updated.CauseTxt)); err != nil {
			r.log.Warn("call log append failed", "uniqueid", uid, "err", err)
		}
		if updated.IsPrimary() {
			if _, err := r.corr.FinishPrimary(ctx, updated.CallUniqueID, updated.Cause); err != nil {
				return Result{}, err
			}
			r.archiveRecording(ctx, updated)
			if r.opts.AutoReloadCalls {
				if err := r.notifier.Broadcast(ctx, "reload_view", "call"); err != nil {
					r.log.Warn("reload broadcast failed", "model", "call", "err", err)
				}
			}
		}
	}

	r.broadcastChannels(ctx)
	return Result{Outcome: OutcomeUpdated, UniqueID: uid}, nil
}

// OnOriginateResponse handles a failed click-to-dial attempt. Success
// responses carry nothing the Newchannel/Newstate flow does not already
// deliver and are ignored.
func (r *Registry) OnOriginateResponse(ctx context.Context, evt ami.Event) (Result, error) {
	uid := evt.Get("Uniqueid")
	if evt.Get("Response") != "Failure" {
		return Result{Outcome: OutcomeIgnored, UniqueID: uid}, nil
	}
	r.tracer.Capture(ctx, uid, evt)

	existing, err := r.repo.GetActiveByUniqueID(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		r.log.Warn("originate failure for unknown channel", "uniqueid", uid)
		return Result{Outcome: OutcomeNotFound, UniqueID: uid}, nil
	}
	if err != nil {
		return Result{}, err
	}

	// A cause already recorded means the hangup got here first; the
	// failure response is stale.
	if existing.Cause != "" {
		return Result{Outcome: OutcomeIgnored, UniqueID: uid, Detail: "already hung up"}, nil
	}

	now := r.clock().UTC()
	existing.Cause = evt.Get("Reason")
	existing.CauseTxt = "Originate failed"
	existing.HangupAt = now
	existing.IsActive = false
	existing.UpdatedAt = now
	if err := r.repo.Update(ctx, existing); err != nil {
		return Result{}, err
	}

	if existing.CallUniqueID != "" {
		call, err := r.corr.FailOriginate(ctx, existing.CallUniqueID)
		if err != nil {
			return Result{}, err
		}
		// Only calls linked to a business reference surface the failure
		// to the user who placed them.
		if !call.Ref.IsZero() && call.CallingUserID != "" {
			msg := notify.Message{
				Body:    fmt.Sprintf("Call to %s failed, reason %s", call.CalledNumber, existing.Cause),
				Warning: true,
			}
			if err := r.notifier.NotifyUser(ctx, call.CallingUserID, msg); err != nil {
				r.log.Warn("originate-failure notification failed", "user_id", call.CallingUserID, "err", err)
			}
		}
	}
	return Result{Outcome: OutcomeUpdated, UniqueID: uid}, nil
}

// OnVarSet records the recording file announced by the mixmonitor variable.
// Every other variable the switch sets is noise here.
func (r *Registry) OnVarSet(ctx context.Context, evt ami.Event) (Result, error) {
	uid := evt.Get("Uniqueid")
	if evt.Get("Variable") != "MIXMONITOR_FILENAME" {
		return Result{Outcome: OutcomeIgnored, UniqueID: uid}, nil
	}
	r.tracer.Capture(ctx, uid, evt)

	ch, err := r.repo.GetLatestByUniqueID(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return Result{Outcome: OutcomeNotFound, UniqueID: uid}, nil
	}
	if err != nil {
		return Result{}, err
	}

	value := evt.Get("Value")
	if ch.RecordingFilePath == value {
		return Result{Outcome: OutcomeIgnored, UniqueID: uid}, nil
	}
	ch.RecordingFilePath = value
	ch.UpdatedAt = r.clock().UTC()
	if err := r.repo.Update(ctx, ch); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeUpdated, UniqueID: uid}, nil
}

// FlagNoCall pre-registers a utility channel so its Newchannel event will
// not spawn a call. Used by originate flows for their helper legs.
func (r *Registry) FlagNoCall(ctx context.Context, uniqueID, name string) error {
	now := r.clock().UTC()
	err := r.repo.Create(ctx, Channel{
		ID:        uuid.NewString(),
		UniqueID:  uniqueID,
		LinkedID:  uniqueID,
		Name:      name,
		NoCall:    true,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, ErrActiveExists) {
		return nil
	}
	return err
}

func (r *Registry) legFor(ch Channel, user directory.PbxUser, owned bool) calls.Leg {
	leg := calls.Leg{
		UniqueID:     ch.UniqueID,
		LinkedID:     ch.LinkedID,
		ChannelName:  ch.Name,
		CallerIDNum:  ch.CallerIDNum,
		CallerIDName: ch.CallerIDName,
		Exten:        ch.Exten,
		SystemName:   ch.SystemName,
		Country:      r.opts.DefaultCountry,
	}
	if owned {
		leg.UserID = user.UserID
		leg.UserContactID = user.ContactID
		if user.Country != "" {
			leg.Country = user.Country
		}
	}
	return leg
}

func (r *Registry) archiveRecording(ctx context.Context, ch Channel) {
	if !r.opts.RecordCalls || ch.RecordingFilePath == "" {
		return
	}
	err := r.archiver.SaveCallRecording(ctx, recording.ChannelRecording{
		CallUniqueID: ch.CallUniqueID,
		UniqueID:     ch.UniqueID,
		ChannelName:  ch.Name,
		FilePath:     ch.RecordingFilePath,
	})
	if err != nil {
		r.log.Error("recording archival failed", "uniqueid", ch.UniqueID, "err", err)
	}
}

func (r *Registry) broadcastChannels(ctx context.Context) {
	if !r.opts.AutoReloadChannels {
		return
	}
	if err := r.notifier.Broadcast(ctx, "reload_view", "channel"); err != nil {
		r.log.Warn("reload broadcast failed", "model", "channel", "err", err)
	}
}

// channelFromEvent copies the event vocabulary into a Channel. A missing
// Linkedid means the switch considers the channel its own anchor.
func channelFromEvent(evt ami.Event) Channel {
	ch := Channel{
		UniqueID:          evt.Get("Uniqueid"),
		LinkedID:          evt.Get("Linkedid"),
		Name:              evt.Get("Channel"),
		State:             evt.Get("ChannelState"),
		StateDesc:         evt.Get("ChannelStateDesc"),
		CallerIDNum:       evt.Get("CallerIDNum"),
		CallerIDName:      evt.Get("CallerIDName"),
		ConnectedLineNum:  evt.Get("ConnectedLineNum"),
		ConnectedLineName: evt.Get("ConnectedLineName"),
		Context:           evt.Get("Context"),
		Exten:             evt.Get("Exten"),
		Language:          evt.Get("Language"),
		AccountCode:       evt.Get("AccountCode"),
		Priority:          evt.Get("Priority"),
		SystemName:        evt.Get("SystemName"),
		Event:             evt.Type(),
		Timestamp:         evt.Get("Timestamp"),
	}
	if ch.LinkedID == "" {
		ch.LinkedID = ch.UniqueID
	}
	return ch
}

// mergeExisting layers fresh event fields over the stored channel, keeping
// identity, call binding and anything the event leaves blank.
func mergeExisting(existing, fresh Channel, now time.Time) Channel {
	out := fresh
	out.ID = existing.ID
	if existing.LinkedID != "" {
		out.LinkedID = existing.LinkedID
	}
	out.CallUniqueID = existing.CallUniqueID
	out.NoCall = existing.NoCall
	out.IsActive = existing.IsActive
	out.CreatedAt = existing.CreatedAt
	out.UpdatedAt = now
	out.RecordingFilePath = existing.RecordingFilePath
	out.Cause = existing.Cause
	out.CauseTxt = existing.CauseTxt
	out.HangupAt = existing.HangupAt
	if out.UserID == "" {
		out.UserID = existing.UserID
	}
	if out.Name == "" {
		out.Name = existing.Name
	}
	if out.State == "" {
		out.State = existing.State
		out.StateDesc = existing.StateDesc
	}
	if out.CallerIDNum == "" {
		out.CallerIDNum = existing.CallerIDNum
	}
	if out.CallerIDName == "" {
		out.CallerIDName = existing.CallerIDName
	}
	if out.ConnectedLineNum == "" {
		out.ConnectedLineNum = existing.ConnectedLineNum
	}
	if out.Exten == "" {
		out.Exten = existing.Exten
	}
	if out.SystemName == "" {
		out.SystemName = existing.SystemName
	}
	return out
}
