// Package msr describes the model-specific registers a CPU policy carries and
// reads them from the host.
package msr

import (
	"errors"
	"fmt"
)

// MSR indices carried by a policy.
const (
	PlatformInfo     = 0x000000ce
	ArchCapabilities = 0x0000010a
)

// PlatformInfoCPUIDFaulting is the hardware CPUID faulting bit of
// MSR_PLATFORM_INFO.
const PlatformInfoCPUIDFaulting = 1 << 32

// DefaultDevice is the Linux msr driver path pattern, indexed by CPU number.
const DefaultDevice = "/dev/cpu/%d/msr"

var (
	// ErrUnsupported is returned when MSRs cannot be read on this platform.
	ErrUnsupported = errors.New("msr access unsupported")

	errShortRead = errors.New("short msr read")
)

// Entry is the wire record for one MSR.
type Entry struct {
	Index uint32
	Flags uint32
	Value uint64
}

func (e Entry) String() string {
	return fmt.Sprintf("%08x (flags %x) -> %016x", e.Index, e.Flags, e.Value)
}

// Spec describes one MSR a policy is able to represent.
type Spec struct {
	Index uint32
	Name  string
	// Width is the architectural width of the value in bits.
	Width uint
}

// Mask returns the bits a value of s may have set.
func (s Spec) Mask() uint64 {
	if s.Width >= 64 {
		return ^uint64(0)
	}

	return 1<<s.Width - 1
}

// Fits reports whether v is representable in s.
func (s Spec) Fits(v uint64) bool {
	return v&^s.Mask() == 0
}

// Sorted by index.
//
//nolint:gochecknoglobals
var allowList = []Spec{
	{Index: PlatformInfo, Name: "MSR_PLATFORM_INFO", Width: 32},
	{Index: ArchCapabilities, Name: "MSR_ARCH_CAPABILITIES", Width: 32},
}

// Lookup returns the allow-list entry for index.
func Lookup(index uint32) (Spec, bool) {
	for _, s := range allowList {
		if s.Index == index {
			return s, true
		}
	}

	return Spec{}, false
}

// AllowList returns the representable MSRs in ascending index order.
func AllowList() []Spec {
	return append([]Spec(nil), allowList...)
}
