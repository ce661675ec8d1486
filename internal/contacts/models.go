package contacts

import "time"

// Contact is a CRM contact reachable by phone.
//
// PhoneNormalized and MobileNormalized hold the E.164 form of Phone and
// Mobile and are the only columns number lookups run against. They are
// recomputed on every write; see Service.normalize.
type Contact struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	Phone  string `json:"phone,omitempty" db:"phone"`
	Mobile string `json:"mobile,omitempty" db:"mobile"`

	PhoneNormalized  string `json:"phone_normalized,omitempty" db:"phone_normalized"`
	MobileNormalized string `json:"mobile_normalized,omitempty" db:"mobile_normalized"`

	// ParentID references the owning organization, empty for standalone
	// contacts and organizations themselves.
	ParentID  string `json:"parent_id,omitempty" db:"parent_id"`
	IsCompany bool   `json:"is_company" db:"is_company"`

	// Country is the ISO2 code used as the parsing hint for this contact's
	// own numbers.
	Country string `json:"country,omitempty" db:"country"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Match is the outcome of a number lookup. A zero ID means no match.
type Match struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Found reports whether the lookup resolved to a contact.
func (m Match) Found() bool { return m.ID != "" }
