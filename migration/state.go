// Package migration streams CPU policies between a migration source and
// destination.
package migration

import (
	"errors"

	"github.com/bobuhiro11/cpupolicy/policy"
)

// Header opens a policy transfer. Leaves and MSRs are the record counts of
// the MsgPolicyCPUID and MsgPolicyMSR messages that follow.
type Header struct {
	Domain string
	Vendor string
	Leaves int
	MSRs   int
}

// Rejection is the destination refusing a policy. Coordinates that did not
// contribute are policy.NA.
type Rejection struct {
	Leaf    uint32
	Subleaf uint32
	MSR     uint32
	Reason  string
	// Incompatible is set when the records were valid but the destination
	// host cannot honour them.
	Incompatible bool
}

// NewRejection builds the rejection for err, keeping the coordinates of
// deserialization and compatibility errors.
func NewRejection(err error) *Rejection {
	r := &Rejection{Leaf: policy.NA, Subleaf: policy.NA, MSR: policy.NA, Reason: err.Error()}

	var (
		le *policy.LeafError
		me *policy.MSRError
		ie *policy.IncompatibleError
	)

	switch {
	case errors.As(err, &ie):
		r.Leaf, r.Subleaf, r.MSR = ie.Leaf, ie.Subleaf, ie.MSR
		r.Incompatible = true
	case errors.As(err, &le):
		r.Leaf, r.Subleaf = le.Leaf, le.Subleaf
	case errors.As(err, &me):
		r.MSR = me.Index
	}

	return r
}

// Locator returns the coordinates of the refusal.
func (r *Rejection) Locator() policy.Locator {
	return policy.Locator{Leaf: r.Leaf, Subleaf: r.Subleaf, MSR: r.MSR}
}

func (r *Rejection) Error() string {
	return "policy rejected by destination: " + r.Reason
}

// Unwrap lets errors.Is match ErrIncompatible for compatibility refusals.
func (r *Rejection) Unwrap() error {
	if r.Incompatible {
		return policy.ErrIncompatible
	}

	return nil
}
