package reference

import "context"

// Ref links a call to an arbitrary business record (a lead, a ticket, an
// order). The capability set is deliberately small: identity, display name
// and an optional owning contact.
type Ref struct {
	Model       string `json:"model" db:"ref_model"`
	ResID       string `json:"res_id" db:"ref_res_id"`
	DisplayName string `json:"display_name,omitempty" db:"ref_display_name"`

	// PartnerID is the contact owning the referenced record, when known.
	// Preferred over number lookup during partner resolution.
	PartnerID string `json:"partner_id,omitempty" db:"ref_partner_id"`
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool { return r.Model == "" && r.ResID == "" }

// Input carries the call identity available when resolvers run.
type Input struct {
	CallUniqueID  string
	Direction     string
	CallingNumber string
	CalledNumber  string
	PartnerID     string
}

// Resolver attaches a business reference to a call once enough identity is
// known. External modules plug in here.
type Resolver interface {
	Resolve(ctx context.Context, in Input) (Ref, bool, error)
}

// Func adapts a function to the Resolver interface.
type Func func(ctx context.Context, in Input) (Ref, bool, error)

func (f Func) Resolve(ctx context.Context, in Input) (Ref, bool, error) {
	return f(ctx, in)
}

// Chain tries each resolver in order; the first hit wins.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, in Input) (Ref, bool, error) {
	for _, r := range c {
		ref, ok, err := r.Resolve(ctx, in)
		if err != nil {
			return Ref{}, false, err
		}
		if ok {
			return ref, true, nil
		}
	}
	return Ref{}, false, nil
}
