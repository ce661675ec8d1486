package ami

import (
	"errors"
	"testing"
)

func TestEvent_GetAndType(t *testing.T) {
	e := NewEvent(
		"Event", "Newchannel",
		"Uniqueid", "asterisk-1631528870.0",
		"Linkedid", "asterisk-1631528870.0",
		"CallerIDNum", "1001",
	)
	if e.Type() != "Newchannel" {
		t.Fatalf("expected Newchannel, got %q", e.Type())
	}
	if e.Get("Uniqueid") != "asterisk-1631528870.0" {
		t.Fatalf("unexpected Uniqueid %q", e.Get("Uniqueid"))
	}
	if e.Get("Missing") != "" {
		t.Fatalf("expected empty for missing key")
	}
}

func TestEvent_GetInt(t *testing.T) {
	e := NewEvent("Event", "Hangup", "Cause", "17")
	if e.GetInt("Cause") != 17 {
		t.Fatalf("expected 17")
	}
	if e.GetInt("Nope") != 0 {
		t.Fatalf("expected 0 for missing key")
	}
}

func TestEvent_FromMapIsDeterministic(t *testing.T) {
	m := map[string]string{"Event": "Hangup", "Uniqueid": "u1", "Cause": "16"}
	a := FromMap(m)
	b := FromMap(m)
	if a.Get("Cause") != "16" || a.Type() != "Hangup" {
		t.Fatalf("unexpected event from map: %v", a.Map())
	}
	if len(a.Map()) != len(b.Map()) {
		t.Fatalf("expected identical maps")
	}
}

func TestEvent_Validate(t *testing.T) {
	cases := []struct {
		name string
		evt  Event
		ok   bool
	}{
		{"complete", NewEvent("Event", "Newchannel", "Uniqueid", "u1"), true},
		{"missing event", NewEvent("Uniqueid", "u1"), false},
		{"missing uniqueid", NewEvent("Event", "Newchannel"), false},
		{"response with uniqueid", NewEvent("Response", "Failure", "Uniqueid", "u1"), true},
	}
	for _, tc := range cases {
		err := tc.evt.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected err %v", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("%s: expected ErrMalformed, got %v", tc.name, err)
			}
		}
	}
}
