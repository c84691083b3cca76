package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is a leaf, subleaf or MSR index the policy cannot hold.
	ErrOutOfRange = errors.New("out of range")

	// ErrInvalidArgument is a reserved bit set where zero is required.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOverflow is a value wider than its field.
	ErrOverflow = errors.New("value too large for field")

	// ErrInsufficientCapacity is a serialize buffer that is too small.
	ErrInsufficientCapacity = errors.New("insufficient buffer capacity")

	// ErrTooBig is an input with more records than any policy serializes to.
	ErrTooBig = errors.New("too many records")

	// ErrIncompatible is a guest policy the host cannot honour.
	ErrIncompatible = errors.New("incompatible cpu policy")
)

// NA marks a locator dimension that did not cause a failure.
const NA = 0xffffffff

// LeafError reports the wire leaf a CPUID deserialization failed on.
type LeafError struct {
	Leaf    uint32
	Subleaf uint32
	Err     error
}

func (e *LeafError) Error() string {
	return fmt.Sprintf("cpuid leaf %08x:%08x: %v", e.Leaf, e.Subleaf, e.Err)
}

func (e *LeafError) Unwrap() error { return e.Err }

// MSRError reports the MSR entry a deserialization failed on.
type MSRError struct {
	Index uint32
	Err   error
}

func (e *MSRError) Error() string {
	return fmt.Sprintf("msr %#x: %v", e.Index, e.Err)
}

func (e *MSRError) Unwrap() error { return e.Err }

// CapacityError is returned by the serializers when the destination is too
// small. Required is the count the caller needs to retry with.
type CapacityError struct {
	Required int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%v: need %d entries, have %d", ErrInsufficientCapacity, e.Required, e.Capacity)
}

func (e *CapacityError) Unwrap() error { return ErrInsufficientCapacity }

// Locator points at the place a compatibility check failed. Dimensions that
// did not contribute are NA.
type Locator struct {
	Leaf    uint32
	Subleaf uint32
	MSR     uint32
}

// NoLocator is the locator of a successful check.
//
//nolint:gochecknoglobals
var NoLocator = Locator{Leaf: NA, Subleaf: NA, MSR: NA}

func dim(v uint32) string {
	if v == NA {
		return "n/a"
	}

	return fmt.Sprintf("%#x", v)
}

func (l Locator) String() string {
	return fmt.Sprintf("leaf %s, subleaf %s, msr %s", dim(l.Leaf), dim(l.Subleaf), dim(l.MSR))
}

// IncompatibleError is the negative verdict of CheckCompatible.
type IncompatibleError struct {
	Locator
	Reason string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("%v: %s (%s)", ErrIncompatible, e.Reason, e.Locator)
}

func (e *IncompatibleError) Unwrap() error { return ErrIncompatible }

// LocatorOf returns the locator carried by err, or NoLocator.
func LocatorOf(err error) Locator {
	var ie *IncompatibleError
	if errors.As(err, &ie) {
		return ie.Locator
	}

	return NoLocator
}
