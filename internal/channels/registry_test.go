package channels

import (
	"context"
	"strings"
	"testing"

	"pbxlink/internal/ami"
	"pbxlink/internal/calls"
	"pbxlink/internal/contacts"
	"pbxlink/internal/directory"
	"pbxlink/internal/notify"
	"pbxlink/internal/reference"
	"pbxlink/internal/trace"
)

type registryEnv struct {
	reg      *Registry
	repo     *MemoryRepo
	calls    *calls.MemoryRepo
	contacts *contacts.Service
	dir      *directory.MemoryRepo
	notify   *notify.Recorder
	traces   *trace.MemoryRepo
}

func newRegistryEnv(t *testing.T, opts Options, callOpts calls.Options) *registryEnv {
	t.Helper()
	return newRegistryEnvWithRefs(t, opts, callOpts, nil)
}

func newRegistryEnvWithRefs(t *testing.T, opts Options, callOpts calls.Options, refs reference.Resolver) *registryEnv {
	t.Helper()
	env := &registryEnv{
		repo:   NewMemoryRepo(),
		calls:  calls.NewMemoryRepo(),
		dir:    directory.NewMemoryRepo(),
		notify: notify.NewRecorder(),
		traces: trace.NewMemoryRepo(),
	}
	env.contacts = contacts.NewService(contacts.NewMemoryRepo(), nil)
	corr := calls.NewCorrelator(env.calls, env.contacts, refs, env.notify, callOpts, nil)
	dirSvc := directory.NewService(env.dir, nil)
	tracer := trace.NewTracer(env.traces, true, nil)
	env.reg = NewRegistry(env.repo, corr, dirSvc, tracer, env.notify, nil, opts, nil)
	return env
}

func (e *registryEnv) addUser(u directory.PbxUser, channelName string) {
	e.dir.AddUser(u, directory.UserChannel{Name: channelName, SystemName: "asterisk"})
}

func newChannelEvent(uid, linked, channel, callerNum, callerName, exten string) ami.Event {
	return ami.NewEvent(
		"Event", "Newchannel",
		"Channel", channel,
		"Uniqueid", uid,
		"Linkedid", linked,
		"ChannelState", "0",
		"ChannelStateDesc", "Down",
		"CallerIDNum", callerNum,
		"CallerIDName", callerName,
		"Exten", exten,
		"Context", "from-internal",
		"SystemName", "asterisk",
	)
}

func newStateEvent(uid, channel, state, desc string) ami.Event {
	return ami.NewEvent(
		"Event", "Newstate",
		"Channel", channel,
		"Uniqueid", uid,
		"ChannelState", state,
		"ChannelStateDesc", desc,
		"SystemName", "asterisk",
	)
}

func hangupEvent(uid, channel, cause, causeTxt string) ami.Event {
	return ami.NewEvent(
		"Event", "Hangup",
		"Channel", channel,
		"Uniqueid", uid,
		"Cause", cause,
		"Cause-txt", causeTxt,
		"SystemName", "asterisk",
	)
}

func TestOnNewChannel_PrimaryCreatesCallAndChannel(t *testing.T) {
	env := newRegistryEnv(t, Options{DefaultCountry: "US"}, calls.Options{})
	ctx := context.Background()

	res, err := env.reg.Handle(ctx, newChannelEvent("100.1", "100.1", "SIP/trunk-0001", "+15551234567", "Ext Caller", "1001"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", res.Outcome)
	}

	ch, err := env.repo.GetActiveByUniqueID(ctx, "100.1")
	if err != nil {
		t.Fatalf("channel not stored: %v", err)
	}
	if ch.CallUniqueID != "100.1" || !ch.IsActive {
		t.Fatalf("unexpected channel: %+v", ch)
	}

	call, err := env.calls.GetByUniqueID(ctx, "100.1")
	if err != nil {
		t.Fatalf("call not created: %v", err)
	}
	if call.CallingNumber != "+15551234567" || call.CalledNumber != "1001" {
		t.Fatalf("unexpected call: %+v", call)
	}
	if call.Status != calls.StatusProgress || !call.IsActive {
		t.Fatalf("unexpected call state: %+v", call)
	}
}

func TestOnNewChannel_RedeliveryKeepsOneChannel(t *testing.T) {
	env := newRegistryEnv(t, Options{}, calls.Options{})
	ctx := context.Background()
	evt := newChannelEvent("100.1", "100.1", "SIP/1001-0001", "1001", "", "2001")

	if _, err := env.reg.Handle(ctx, evt); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	res, err := env.reg.Handle(ctx, evt)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Outcome != OutcomeUpdated {
		t.Fatalf("expected updated, got %s", res.Outcome)
	}

	all, _ := env.repo.List(ctx, Filter{})
	if len(all) != 1 {
		t.Fatalf("expected one channel, got %d", len(all))
	}
	allCalls, _ := env.calls.List(ctx, calls.Filter{})
	if len(allCalls) != 1 {
		t.Fatalf("expected one call, got %d", len(allCalls))
	}
}

func TestOnNewChannel_SecondaryWithoutCallIsTolerated(t *testing.T) {
	env := newRegistryEnv(t, Options{}, calls.Options{})
	ctx := context.Background()

	res, err := env.reg.Handle(ctx, newChannelEvent("100.2", "100.1", "SIP/1001-0002", "1001", "", ""))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", res.Outcome)
	}
	ch, err := env.repo.GetActiveByUniqueID(ctx, "100.2")
	if err != nil {
		t.Fatalf("channel not stored: %v", err)
	}
	if ch.CallUniqueID != "" {
		t.Fatalf("expected no call binding, got %q", ch.CallUniqueID)
	}
}

func TestInboundCallScenario(t *testing.T) {
	env := newRegistryEnv(t, Options{DefaultCountry: "US"}, calls.Options{})
	ctx := context.Background()
	env.addUser(directory.PbxUser{UserID: "bob", Name: "Bob", Exten: "1001", NotifyPopup: true}, "SIP/1001")

	if _, err := env.contacts.Create(ctx, contacts.Contact{Name: "Jane Caller", Phone: "+1 555 123 4567"}); err != nil {
		t.Fatalf("seed contact: %v", err)
	}

	// External caller arrives on the trunk.
	if _, err := env.reg.Handle(ctx, newChannelEvent("200.1", "200.1", "SIP/trunk-00a1", "+15551234567", "", "1001")); err != nil {
		t.Fatalf("trunk newchannel: %v", err)
	}
	// Bob's phone starts ringing.
	if _, err := env.reg.Handle(ctx, newChannelEvent("200.2", "200.1", "SIP/1001-00a2", "1001", "Bob", "")); err != nil {
		t.Fatalf("ring newchannel: %v", err)
	}

	call, err := env.calls.GetByUniqueID(ctx, "200.1")
	if err != nil {
		t.Fatalf("call missing: %v", err)
	}
	if call.Direction != calls.DirectionIn {
		t.Fatalf("expected inbound, got %s", call.Direction)
	}
	if call.PartnerID == "" {
		t.Fatalf("expected caller matched to contact")
	}
	if !call.HasCalledUser("bob") {
		t.Fatalf("expected bob among called users: %+v", call.CalledUserIDs)
	}
	if len(env.notify.Messages) == 0 || env.notify.Messages[0].UserID != "bob" {
		t.Fatalf("expected incoming-call popup for bob: %+v", env.notify.Messages)
	}

	// Bob answers.
	if _, err := env.reg.Handle(ctx, newStateEvent("200.2", "SIP/1001-00a2", "6", "Up")); err != nil {
		t.Fatalf("newstate: %v", err)
	}
	call, _ = env.calls.GetByUniqueID(ctx, "200.1")
	if call.Status != calls.StatusAnswered || call.AnsweredUserID != "bob" {
		t.Fatalf("expected answered by bob: %+v", call)
	}
	if call.Answered.IsZero() {
		t.Fatalf("expected answered timestamp")
	}

	// Both legs hang up, primary last.
	if _, err := env.reg.Handle(ctx, hangupEvent("200.2", "SIP/1001-00a2", "16", "Normal Clearing")); err != nil {
		t.Fatalf("secondary hangup: %v", err)
	}
	if _, err := env.reg.Handle(ctx, hangupEvent("200.1", "SIP/trunk-00a1", "16", "Normal Clearing")); err != nil {
		t.Fatalf("primary hangup: %v", err)
	}

	call, _ = env.calls.GetByUniqueID(ctx, "200.1")
	if call.Status != calls.StatusAnswered {
		t.Fatalf("answered is final, got %s", call.Status)
	}
	if call.IsActive || call.Ended.IsZero() {
		t.Fatalf("expected ended inactive call: %+v", call)
	}

	for _, uid := range []string{"200.1", "200.2"} {
		ch, err := env.repo.GetLatestByUniqueID(ctx, uid)
		if err != nil {
			t.Fatalf("channel %s: %v", uid, err)
		}
		if ch.IsActive || ch.Cause != "16" {
			t.Fatalf("expected retired channel %s: %+v", uid, ch)
		}
	}

	events, _ := env.calls.EventsForCall(ctx, "200.1")
	var sawStatus, sawHangup bool
	for _, e := range events {
		if strings.Contains(e.Text, "status is Up") {
			sawStatus = true
		}
		if strings.Contains(e.Text, "hangup, cause 16") {
			sawHangup = true
		}
	}
	if !sawStatus || !sawHangup {
		t.Fatalf("expected status and hangup log lines, got %+v", events)
	}
}

func TestOutboundCallScenario(t *testing.T) {
	env := newRegistryEnv(t, Options{DefaultCountry: "US"}, calls.Options{})
	ctx := context.Background()
	env.addUser(directory.PbxUser{UserID: "alice", Name: "Alice", Exten: "1002", Country: "US"}, "SIP/1002")

	if _, err := env.reg.Handle(ctx, newChannelEvent("300.1", "300.1", "SIP/1002-00b1", "1002", "Alice", "+15551234567")); err != nil {
		t.Fatalf("newchannel: %v", err)
	}

	call, err := env.calls.GetByUniqueID(ctx, "300.1")
	if err != nil {
		t.Fatalf("call missing: %v", err)
	}
	if call.Direction != calls.DirectionOut || call.CallingUserID != "alice" {
		t.Fatalf("expected outbound by alice: %+v", call)
	}

	// Far end never answers; ring timeout.
	if _, err := env.reg.Handle(ctx, hangupEvent("300.1", "SIP/1002-00b1", "19", "No Answer")); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	call, _ = env.calls.GetByUniqueID(ctx, "300.1")
	if call.Status != calls.StatusNoAnswer {
		t.Fatalf("expected noanswer, got %s", call.Status)
	}
}

func TestLateUpAfterHangupKeepsCallEnded(t *testing.T) {
	env := newRegistryEnv(t, Options{DefaultCountry: "US"}, calls.Options{})
	ctx := context.Background()
	env.addUser(directory.PbxUser{UserID: "bob", Name: "Bob", Exten: "1001"}, "SIP/1001")

	mustHandle := func(evt ami.Event) {
		t.Helper()
		if _, err := env.reg.Handle(ctx, evt); err != nil {
			t.Fatalf("handle %s: %v", evt.Type(), err)
		}
	}

	mustHandle(newChannelEvent("20.1", "20.1", "SIP/trunk-0002", "+15551234567", "", "1001"))
	mustHandle(newChannelEvent("20.2", "20.1", "SIP/1001-0002", "1001", "Bob", "s"))
	mustHandle(hangupEvent("20.1", "SIP/trunk-0002", "19", "User alerting, no answer"))

	// The ring leg's Up arrives after the caller already hung up.
	mustHandle(newStateEvent("20.2", "SIP/1001-0002", "6", "Up"))

	call, err := env.calls.GetByUniqueID(ctx, "20.1")
	if err != nil {
		t.Fatalf("call not stored: %v", err)
	}
	if call.Status != calls.StatusNoAnswer {
		t.Fatalf("expected noanswer to stand, got %q", call.Status)
	}
	if !call.Answered.IsZero() || call.AnsweredUserID != "" {
		t.Fatalf("ended call marked answered: %+v", call)
	}
	if call.Ended.IsZero() || call.Started.After(call.Ended) {
		t.Fatalf("timeline out of order: started %v ended %v", call.Started, call.Ended)
	}
}

func TestOnHangup_UnknownChannelIsNotFound(t *testing.T) {
	env := newRegistryEnv(t, Options{}, calls.Options{})

	res, err := env.reg.Handle(context.Background(), hangupEvent("999.1", "SIP/ghost-0001", "16", "Normal Clearing"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Outcome != OutcomeNotFound {
		t.Fatalf("expected not_found, got %s", res.Outcome)
	}
}

func TestOnOriginateResponse_FailureRetiresChannelAndCall(t *testing.T) {
	resolver := reference.Func(func(ctx context.Context, in reference.Input) (reference.Ref, bool, error) {
		return reference.Ref{Model: "crm.lead", ResID: "7"}, true, nil
	})
	env := newRegistryEnvWithRefs(t, Options{}, calls.Options{}, resolver)
	ctx := context.Background()
	env.addUser(directory.PbxUser{UserID: "alice", Exten: "1002"}, "SIP/1002")

	if _, err := env.reg.Handle(ctx, newChannelEvent("400.1", "400.1", "SIP/1002-00c1", "1002", "Alice", "+15550001111")); err != nil {
		t.Fatalf("newchannel: %v", err)
	}

	res, err := env.reg.Handle(ctx, ami.NewEvent(
		"Event", "OriginateResponse",
		"Response", "Failure",
		"Uniqueid", "400.1",
		"Channel", "SIP/1002-00c1",
		"Reason", "3",
	))
	if err != nil {
		t.Fatalf("originate response: %v", err)
	}
	if res.Outcome != OutcomeUpdated {
		t.Fatalf("expected updated, got %s", res.Outcome)
	}

	ch, _ := env.repo.GetLatestByUniqueID(ctx, "400.1")
	if ch.IsActive || ch.Cause != "3" {
		t.Fatalf("expected retired channel: %+v", ch)
	}
	call, _ := env.calls.GetByUniqueID(ctx, "400.1")
	if call.Status != calls.StatusFailed || call.IsActive {
		t.Fatalf("expected failed call: %+v", call)
	}

	var notified bool
	for _, m := range env.notify.Messages {
		if m.UserID == "alice" && m.Msg.Warning {
			notified = true
		}
	}
	if !notified {
		t.Fatalf("expected failure notification for alice: %+v", env.notify.Messages)
	}
}

func TestOnOriginateResponse_NoReferenceNoNotification(t *testing.T) {
	env := newRegistryEnv(t, Options{}, calls.Options{})
	ctx := context.Background()
	env.addUser(directory.PbxUser{UserID: "alice", Exten: "1002"}, "SIP/1002")

	if _, err := env.reg.Handle(ctx, newChannelEvent("401.1", "401.1", "SIP/1002-00c2", "1002", "Alice", "+15550001111")); err != nil {
		t.Fatalf("newchannel: %v", err)
	}
	if _, err := env.reg.Handle(ctx, ami.NewEvent(
		"Event", "OriginateResponse",
		"Response", "Failure",
		"Uniqueid", "401.1",
		"Channel", "SIP/1002-00c2",
		"Reason", "3",
	)); err != nil {
		t.Fatalf("originate response: %v", err)
	}

	call, _ := env.calls.GetByUniqueID(ctx, "401.1")
	if call.Status != calls.StatusFailed {
		t.Fatalf("expected failed call: %+v", call)
	}
	if len(env.notify.Messages) != 0 {
		t.Fatalf("call without a reference must not notify: %+v", env.notify.Messages)
	}
}

func TestOnOriginateResponse_StaleAfterHangup(t *testing.T) {
	env := newRegistryEnv(t, Options{}, calls.Options{})
	ctx := context.Background()

	if _, err := env.reg.Handle(ctx, newChannelEvent("500.1", "500.1", "SIP/1002-00d1", "1002", "", "2001")); err != nil {
		t.Fatalf("newchannel: %v", err)
	}
	if _, err := env.reg.Handle(ctx, hangupEvent("500.1", "SIP/1002-00d1", "16", "Normal Clearing")); err != nil {
		t.Fatalf("hangup: %v", err)
	}

	// Hangup retired the channel; the late failure must not resurrect it.
	res, err := env.reg.Handle(ctx, ami.NewEvent(
		"Event", "OriginateResponse",
		"Response", "Failure",
		"Uniqueid", "500.1",
		"Reason", "5",
	))
	if err != nil {
		t.Fatalf("originate response: %v", err)
	}
	if res.Outcome != OutcomeNotFound {
		t.Fatalf("expected not_found for retired channel, got %s", res.Outcome)
	}
	ch, _ := env.repo.GetLatestByUniqueID(ctx, "500.1")
	if ch.Cause != "16" {
		t.Fatalf("hangup cause must stand: %+v", ch)
	}
}

func TestOnVarSet_RecordsMixmonitorFilename(t *testing.T) {
	env := newRegistryEnv(t, Options{}, calls.Options{})
	ctx := context.Background()

	if _, err := env.reg.Handle(ctx, newChannelEvent("600.1", "600.1", "SIP/1001-00e1", "1001", "", "2001")); err != nil {
		t.Fatalf("newchannel: %v", err)
	}

	res, err := env.reg.Handle(ctx, ami.NewEvent(
		"Event", "VarSet",
		"Uniqueid", "600.1",
		"Channel", "SIP/1001-00e1",
		"Variable", "MIXMONITOR_FILENAME",
		"Value", "/var/spool/asterisk/monitor/600.1.wav",
	))
	if err != nil {
		t.Fatalf("varset: %v", err)
	}
	if res.Outcome != OutcomeUpdated {
		t.Fatalf("expected updated, got %s", res.Outcome)
	}
	ch, _ := env.repo.GetLatestByUniqueID(ctx, "600.1")
	if ch.RecordingFilePath != "/var/spool/asterisk/monitor/600.1.wav" {
		t.Fatalf("recording path not stored: %+v", ch)
	}

	// Any other variable is noise.
	res, _ = env.reg.Handle(ctx, ami.NewEvent(
		"Event", "VarSet",
		"Uniqueid", "600.1",
		"Variable", "RTPAUDIOQOS",
		"Value", "whatever",
	))
	if res.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", res.Outcome)
	}
}

func TestFlagNoCall_SuppressesCallCreation(t *testing.T) {
	env := newRegistryEnv(t, Options{}, calls.Options{})
	ctx := context.Background()

	if err := env.reg.FlagNoCall(ctx, "700.1", "Local/1002@pickup"); err != nil {
		t.Fatalf("flag: %v", err)
	}
	if _, err := env.reg.Handle(ctx, newChannelEvent("700.1", "700.1", "Local/1002@pickup-0001;1", "1002", "", "")); err != nil {
		t.Fatalf("newchannel: %v", err)
	}

	if _, err := env.calls.GetByUniqueID(ctx, "700.1"); err == nil {
		t.Fatalf("expected no call for utility channel")
	}
	ch, _ := env.repo.GetActiveByUniqueID(ctx, "700.1")
	if !ch.NoCall || ch.Name == "" {
		t.Fatalf("expected flagged channel with updated fields: %+v", ch)
	}
}

func TestHandle_TracesEvents(t *testing.T) {
	env := newRegistryEnv(t, Options{}, calls.Options{})
	if _, err := env.reg.Handle(context.Background(), newChannelEvent("800.1", "800.1", "SIP/1001-00f1", "1001", "", "2001")); err != nil {
		t.Fatalf("newchannel: %v", err)
	}
	recs := env.traces.Records()
	if len(recs) != 1 || recs[0].ChannelUniqueID != "800.1" {
		t.Fatalf("expected one trace record, got %+v", recs)
	}
}

func TestHandle_RejectsMalformedEvent(t *testing.T) {
	env := newRegistryEnv(t, Options{}, calls.Options{})
	if _, err := env.reg.Handle(context.Background(), ami.NewEvent("Event", "Newchannel")); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestHandle_BroadcastsReloadWhenEnabled(t *testing.T) {
	env := newRegistryEnv(t, Options{AutoReloadChannels: true}, calls.Options{})
	if _, err := env.reg.Handle(context.Background(), newChannelEvent("900.1", "900.1", "SIP/1001-0101", "1001", "", "2001")); err != nil {
		t.Fatalf("newchannel: %v", err)
	}
	if len(env.notify.Broadcasts) != 1 || env.notify.Broadcasts[0].Model != "channel" {
		t.Fatalf("expected channel reload broadcast, got %+v", env.notify.Broadcasts)
	}
}
