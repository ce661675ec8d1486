package directory

import "strings"

// PbxUser links a CRM user to a PBX extension.
type PbxUser struct {
	UserID string `json:"user_id" db:"user_id"`
	Name   string `json:"name" db:"name"`
	Exten  string `json:"exten" db:"exten"`

	// ContactID is the user's own contact record; used for call
	// notification subscriptions.
	ContactID string `json:"contact_id,omitempty" db:"contact_id"`

	// Country is the ISO2 code of the user's locale, consulted as the
	// number-parsing hint for calls this user originates or answers.
	Country string `json:"country,omitempty" db:"country"`

	// Notification preferences.
	NotifyPopup   bool `json:"notify_popup" db:"notify_popup"`
	PopupSticky   bool `json:"popup_sticky" db:"popup_sticky"`
	OpenReference bool `json:"open_reference" db:"open_reference"`
}

// UserChannel is a configured device channel pattern owned by a PBX user,
// scoped to one telephony system.
type UserChannel struct {
	Name             string `json:"name" db:"name"`
	SystemName       string `json:"system_name" db:"system_name"`
	UserID           string `json:"user_id" db:"user_id"`
	OriginateEnabled bool   `json:"originate_enabled" db:"originate_enabled"`
}

// ShortChannel strips the trailing unique suffix from a device channel name.
// "SIP/1001-000000bd" becomes "SIP/1001".
func ShortChannel(channel string) string {
	idx := strings.LastIndex(channel, "-")
	if idx < 0 {
		return channel
	}
	return channel[:idx]
}
