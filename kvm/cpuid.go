package kvm

import (
	"unsafe"

	"github.com/bobuhiro11/cpupolicy/cpuid"
)

const (
	maxCPUIDEntries = 256

	// cpuidFlagSignificantIndex marks an entry whose Index selects a subleaf.
	cpuidFlagSignificantIndex = 1 << 0
)

// CPUID is the set of CPUID entries returned by GetSupportedCPUID.
type CPUID struct {
	Nent    uint32
	Padding uint32
	Entries [maxCPUIDEntries]CPUIDEntry2
}

// CPUIDEntry2 is one entry for CPUID. It took 2 tries to get it right :-)
// Thanks x86 :-).
type CPUIDEntry2 struct {
	Function uint32
	Index    uint32
	Flags    uint32
	Eax      uint32
	Ebx      uint32
	Ecx      uint32
	Edx      uint32
	Padding  [3]uint32
}

// Leaf converts e to a wire leaf. Entries without a significant index have
// no subleaf.
func (e *CPUIDEntry2) Leaf() cpuid.Leaf {
	sub := uint32(cpuid.NoSubleaf)
	if e.Flags&cpuidFlagSignificantIndex != 0 {
		sub = e.Index
	}

	return cpuid.Leaf{Leaf: e.Function, Subleaf: sub, A: e.Eax, B: e.Ebx, C: e.Ecx, D: e.Edx}
}

// Leaves returns the populated entries as wire leaves.
func (c *CPUID) Leaves() []cpuid.Leaf {
	n := min(int(c.Nent), maxCPUIDEntries)
	leaves := make([]cpuid.Leaf, 0, n)

	for i := 0; i < n; i++ {
		leaves = append(leaves, c.Entries[i].Leaf())
	}

	return leaves
}

// GetSupportedCPUID gets all supported CPUID entries for a vm.
func GetSupportedCPUID(kvmFd uintptr, kvmCPUID *CPUID) error {
	kvmCPUID.Nent = maxCPUIDEntries

	_, err := ioctl(kvmFd, uintptr(kvmGetSupportedCPUID), uintptr(unsafe.Pointer(kvmCPUID)))

	return err
}

// SupportedLeaves returns the CPUID leaves KVM can expose, as wire leaves.
func SupportedLeaves(kvmFd uintptr) ([]cpuid.Leaf, error) {
	c := &CPUID{}
	if err := GetSupportedCPUID(kvmFd, c); err != nil {
		return nil, err
	}

	return c.Leaves(), nil
}
