package ami

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Event is a parsed AMI event as an ordered set of key-value headers.
// Header names follow the AMI wire vocabulary exactly (Uniqueid, Linkedid,
// CallerIDNum, Cause-txt, ...).
type Event struct {
	headers []header
}

type header struct {
	Key   string
	Value string
}

// NewEvent creates an Event from alternating key-value strings.
func NewEvent(kvs ...string) Event {
	e := Event{}
	for i := 0; i+1 < len(kvs); i += 2 {
		e.headers = append(e.headers, header{Key: kvs[i], Value: kvs[i+1]})
	}
	return e
}

// FromMap creates an Event from a decoded JSON object. The agent relays
// events as flat string maps; keys are sorted for deterministic iteration.
func FromMap(m map[string]string) Event {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e := Event{headers: make([]header, 0, len(m))}
	for _, k := range keys {
		e.headers = append(e.headers, header{Key: k, Value: m[k]})
	}
	return e
}

// Get returns the value for the given key, or empty string if not found.
func (e Event) Get(key string) string {
	for _, h := range e.headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// Type returns the Event header value (the AMI event type).
func (e Event) Type() string {
	return e.Get("Event")
}

// GetInt returns the integer value for the given key, or 0 if not parseable.
func (e Event) GetInt(key string) int {
	v, _ := strconv.Atoi(e.Get(key))
	return v
}

// IsResponse returns true if this is an AMI response rather than an event.
func (e Event) IsResponse() bool {
	return e.Get("Response") != ""
}

// Map returns the headers as a flat map. Duplicate keys keep the first value.
func (e Event) Map() map[string]string {
	m := make(map[string]string, len(e.headers))
	for _, h := range e.headers {
		if _, ok := m[h.Key]; !ok {
			m[h.Key] = h.Value
		}
	}
	return m
}

// ErrMalformed marks an event that cannot enter the correlation pipeline.
// A malformed event fails alone; it must never take down ingestion.
var ErrMalformed = errors.New("ami: malformed event")

// Validate checks the fields every handler depends on.
func (e Event) Validate() error {
	if e.Type() == "" && !e.IsResponse() {
		return fmt.Errorf("%w: missing Event header", ErrMalformed)
	}
	if e.Get("Uniqueid") == "" {
		return fmt.Errorf("%w: missing Uniqueid header", ErrMalformed)
	}
	return nil
}
