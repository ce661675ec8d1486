package ami

import (
	"strings"
	"testing"
)

const sampleStream = "Asterisk Call Manager/5.0\r\n" +
	"Event: Newchannel\r\n" +
	"Channel: SIP/1001-000000bd\r\n" +
	"Uniqueid: 1631528870.0\r\n" +
	"Linkedid: 1631528870.0\r\n" +
	"\r\n" +
	"Event: Hangup\r\n" +
	"Uniqueid: 1631528870.0\r\n" +
	"Cause: 16\r\n" +
	"Cause-txt: Normal Clearing\r\n" +
	"\r\n"

func TestParser_ParsesEventBlocks(t *testing.T) {
	events := NewParser(strings.NewReader(sampleStream)).ParseAll()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type() != "Newchannel" {
		t.Fatalf("expected Newchannel first, got %q", events[0].Type())
	}
	if events[0].Get("Channel") != "SIP/1001-000000bd" {
		t.Fatalf("unexpected channel %q", events[0].Get("Channel"))
	}
	if events[1].Get("Cause-txt") != "Normal Clearing" {
		t.Fatalf("unexpected cause text %q", events[1].Get("Cause-txt"))
	}
}

func TestParser_SkipsBanner(t *testing.T) {
	events := ParseBytes([]byte(sampleStream))
	for _, e := range events {
		if e.Get("") != "" {
			t.Fatalf("banner leaked into event headers")
		}
	}
}

func TestParser_PendingEventAtEOF(t *testing.T) {
	// No trailing blank line.
	events := ParseBytes([]byte("Event: VarSet\r\nUniqueid: u9\r\nVariable: MIXMONITOR_FILENAME\r\nValue: /tmp/rec.wav"))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Get("Value") != "/tmp/rec.wav" {
		t.Fatalf("unexpected value %q", events[0].Get("Value"))
	}
}
