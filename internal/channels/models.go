package channels

import (
	"time"

	"pbxlink/internal/directory"
)

// Channel is one live or historical endpoint of a telephony leg.
//
// Invariant: at most one active channel exists per Uniqueid at any time.
// Inactive historical duplicates may survive switch restarts reusing ids;
// identity lookups always filter on is_active.
type Channel struct {
	// ID is the record identity; UniqueID alone is not a key because of
	// historical duplicates.
	ID string `json:"id" db:"id"`

	UniqueID string `json:"uniqueid" db:"uniqueid"`
	LinkedID string `json:"linkedid" db:"linkedid"`

	// CallUniqueID ties the channel to its owning call. Empty only
	// transiently or for utility channels flagged NoCall.
	CallUniqueID string `json:"call_uniqueid,omitempty" db:"call_uniqueid"`

	// NoCall marks utility channels that must not spawn a call.
	NoCall bool `json:"no_call,omitempty" db:"no_call"`

	// Name is the raw device string, e.g. "SIP/1001-000000bd".
	Name string `json:"name" db:"name"`

	State     string `json:"state,omitempty" db:"state"`
	StateDesc string `json:"state_desc,omitempty" db:"state_desc"`

	CallerIDNum       string `json:"callerid_num,omitempty" db:"callerid_num"`
	CallerIDName      string `json:"callerid_name,omitempty" db:"callerid_name"`
	ConnectedLineNum  string `json:"connected_line_num,omitempty" db:"connected_line_num"`
	ConnectedLineName string `json:"connected_line_name,omitempty" db:"connected_line_name"`

	Context string `json:"context,omitempty" db:"context"`
	Exten   string `json:"exten,omitempty" db:"exten"`

	Language    string `json:"language,omitempty" db:"language"`
	AccountCode string `json:"accountcode,omitempty" db:"accountcode"`
	Priority    string `json:"priority,omitempty" db:"priority"`
	SystemName  string `json:"system_name,omitempty" db:"system_name"`
	Event       string `json:"event,omitempty" db:"event"`
	Timestamp   string `json:"timestamp,omitempty" db:"timestamp"`

	// Hangup fields, populated only at hangup.
	Cause    string    `json:"cause,omitempty" db:"cause"`
	CauseTxt string    `json:"cause_txt,omitempty" db:"cause_txt"`
	HangupAt time.Time `json:"hangup_at,omitempty" db:"hangup_at"`

	RecordingFilePath string `json:"recording_file_path,omitempty" db:"recording_file_path"`

	// UserID is the owning PBX user, empty for anonymous legs.
	UserID string `json:"user_id,omitempty" db:"user_id"`

	IsActive bool `json:"is_active" db:"is_active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Short is the channel name without its unique suffix, comparable with
// configured user channels: "SIP/1001-000000bd" -> "SIP/1001".
func (c Channel) Short() string {
	return directory.ShortChannel(c.Name)
}

// IsPrimary reports whether this channel anchors its call.
func (c Channel) IsPrimary() bool {
	return c.UniqueID != "" && c.UniqueID == c.LinkedID
}
