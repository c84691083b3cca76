// Package policy implements the CPU policy: a structured snapshot of the
// CPUID leaves and MSR-backed capabilities of one CPU, its flat wire
// representation, range sanitization and host/guest compatibility checks.
//
// A Policy is a plain value. Nothing in this package keeps state between
// calls, so callers own the records they pass in and serialize access to them
// themselves.
package policy

import (
	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/msr"
)

// Number of leaves/subleaves a policy is able to hold per leaf family.
const (
	NrBasic  = 0xd + 1
	NrCache  = 5
	NrFeat   = 3
	NrTopo   = 2
	NrXState = 62 + 1
	NrExtd   = 0x21 + 1
)

// MaxSerializedLeaves is the largest number of wire leaves a policy
// serializes to, and the most DeserializeCPUID accepts.
const MaxSerializedLeaves = NrBasic +
	(NrFeat - 1) +
	(NrCache - 1) +
	(NrTopo - 1) +
	(NrXState - 1) +
	NrExtd +
	2 // hypervisor leaves

// MaxSerializedMSRs is the number of MSRs on the allow-list.
const MaxSerializedMSRs = 2

const (
	cacheTypeMask = 0x1f
	topoTypeShift = 8
	topoTypeMask  = 0xff

	platformInfoCPUIDFaulting = 1 << 31
)

// Policy is the capability set of one CPU, or the one requested for a guest.
type Policy struct {
	Basic  Basic
	Cache  Cache
	Feat   Feat
	Topo   Topo
	XState XState
	Extd   Extd

	// HVLimit and HV2Limit are EAX of the two hypervisor leaf blocks.
	HVLimit  uint32
	HV2Limit uint32

	PlatformInfo PlatformInfo
	ArchCaps     ArchCaps
}

// Vendor returns the vendor named by basic leaf 0.
func (p *Policy) Vendor() cpuid.Vendor {
	return p.Basic.Vendor()
}

// Equal reports whether p and q hold exactly the same values.
func (p *Policy) Equal(q *Policy) bool {
	return *p == *q
}

// Basic holds leaves 0 to NrBasic-1. Slots 4, 7, 0xb and 0xd are unused;
// those leaves live in Cache, Feat, Topo and XState.
type Basic struct {
	Raw [NrBasic]cpuid.Regs
}

// MaxLeaf is the highest basic leaf the policy claims to populate.
func (b *Basic) MaxLeaf() uint32 { return b.Raw[0].A }

// SetMaxLeaf sets the declared highest basic leaf.
func (b *Basic) SetMaxLeaf(v uint32) { b.Raw[0].A = v }

// VendorRegs returns the ebx, ecx and edx values of leaf 0.
func (b *Basic) VendorRegs() (ebx, ecx, edx uint32) {
	return b.Raw[0].B, b.Raw[0].C, b.Raw[0].D
}

// SetVendorIdent stores a 12-byte identification string in leaf 0.
func (b *Basic) SetVendorIdent(id [12]byte) {
	b.Raw[0].B, b.Raw[0].C, b.Raw[0].D = cpuid.RegsFromIdent(id)
}

// Vendor identifies leaf 0.
func (b *Basic) Vendor() cpuid.Vendor {
	return cpuid.LookupVendor(b.VendorRegs())
}

// RawFMS is the family/model/stepping signature of leaf 1.
func (b *Basic) RawFMS() uint32 { return b.Raw[1].A }

// Cache holds the subleaves of leaf 4. A subleaf of type 0 terminates it.
type Cache struct {
	Raw [NrCache]cpuid.Regs
}

// Type returns the cache type of subleaf i.
func (c *Cache) Type(i int) uint32 { return c.Raw[i].A & cacheTypeMask }

// Feat holds the subleaves of leaf 7.
type Feat struct {
	Raw [NrFeat]cpuid.Regs
}

// MaxSubleaf is the highest subleaf of leaf 7 the policy claims to populate.
func (f *Feat) MaxSubleaf() uint32 { return f.Raw[0].A }

// SetMaxSubleaf sets the declared highest subleaf of leaf 7.
func (f *Feat) SetMaxSubleaf(v uint32) { f.Raw[0].A = v }

// Topo holds the subleaves of leaf 0xb. A subleaf of type 0 terminates it.
type Topo struct {
	Raw [NrTopo]cpuid.Regs
}

// Type returns the level type of subleaf i.
func (t *Topo) Type(i int) uint32 { return (t.Raw[i].C >> topoTypeShift) & topoTypeMask }

// XState holds the subleaves of leaf 0xd. Subleaves 0 and 1 describe x87 and
// SSE and always exist; subleaf n >= 2 exists when bit n of States is set.
type XState struct {
	Raw [NrXState]cpuid.Regs
}

// XCR0 returns the supported XCR0 bits, xcr0_high:xcr0_low.
func (x *XState) XCR0() uint64 { return uint64(x.Raw[0].D)<<32 | uint64(x.Raw[0].A) }

// SetXCR0 sets the supported XCR0 bits.
func (x *XState) SetXCR0(v uint64) { x.Raw[0].A, x.Raw[0].D = uint32(v), uint32(v>>32) }

// XSS returns the supported IA32_XSS bits, xss_high:xss_low.
func (x *XState) XSS() uint64 { return uint64(x.Raw[1].D)<<32 | uint64(x.Raw[1].C) }

// SetXSS sets the supported IA32_XSS bits.
func (x *XState) SetXSS(v uint64) { x.Raw[1].C, x.Raw[1].D = uint32(v), uint32(v>>32) }

// States is the combined XCR0 and XSS mask.
func (x *XState) States() uint64 { return x.XCR0() | x.XSS() }

// Extd holds the extended leaves 0x80000000 to 0x80000000+NrExtd-1.
type Extd struct {
	Raw [NrExtd]cpuid.Regs
}

// MaxLeaf is the highest extended leaf, e.g. 0x80000008.
func (e *Extd) MaxLeaf() uint32 { return e.Raw[0].A }

// SetMaxLeaf sets the declared highest extended leaf.
func (e *Extd) SetMaxLeaf(v uint32) { e.Raw[0].A = v }

// Vendor identifies leaf 0x80000000.
func (e *Extd) Vendor() cpuid.Vendor {
	return cpuid.LookupVendor(e.Raw[0].B, e.Raw[0].C, e.Raw[0].D)
}

// RawFMS is the signature of leaf 0x80000001.
func (e *Extd) RawFMS() uint32 { return e.Raw[1].A }

// PlatformInfo is the policy view of MSR_PLATFORM_INFO.
type PlatformInfo struct {
	Raw uint32
}

// CPUIDFaulting reports whether CPUID faulting is available.
func (pi *PlatformInfo) CPUIDFaulting() bool { return pi.Raw&platformInfoCPUIDFaulting != 0 }

// SetCPUIDFaulting sets or clears CPUID faulting.
func (pi *PlatformInfo) SetCPUIDFaulting(on bool) {
	if on {
		pi.Raw |= platformInfoCPUIDFaulting
	} else {
		pi.Raw &^= platformInfoCPUIDFaulting
	}
}

// ArchCaps is the policy view of MSR_ARCH_CAPABILITIES.
type ArchCaps struct {
	Raw uint32
}

// MSRFromHardware converts the value of an allow-listed MSR as read from the
// processor into the value a policy carries for it. Bits the policy does not
// model are dropped.
func MSRFromHardware(index uint32, v uint64) uint64 {
	switch index {
	case msr.PlatformInfo:
		if v&msr.PlatformInfoCPUIDFaulting != 0 {
			return platformInfoCPUIDFaulting
		}

		return 0
	case msr.ArchCapabilities:
		spec, _ := msr.Lookup(index)

		return v & spec.Mask()
	}

	return 0
}

// msrValue returns the value p carries for an allow-listed MSR.
func (p *Policy) msrValue(index uint32) uint64 {
	switch index {
	case msr.PlatformInfo:
		return uint64(p.PlatformInfo.Raw)
	case msr.ArchCapabilities:
		return uint64(p.ArchCaps.Raw)
	}

	return 0
}

// setMSRValue stores v, which must already fit the MSR's width.
func (p *Policy) setMSRValue(index uint32, v uint64) {
	switch index {
	case msr.PlatformInfo:
		p.PlatformInfo.Raw = uint32(v)
	case msr.ArchCapabilities:
		p.ArchCaps.Raw = uint32(v)
	}
}
