package cpuid

import "strconv"

// Vendor is a CPU vendor as identified by CPUID leaf 0.
type Vendor uint32

const (
	VendorUnknown  Vendor = 0
	VendorIntel    Vendor = 1 << 0
	VendorAMD      Vendor = 1 << 1
	VendorCentaur  Vendor = 1 << 2
	VendorShanghai Vendor = 1 << 3
	VendorHygon    Vendor = 1 << 4
)

//nolint:gochecknoglobals
var vendors = []struct {
	ident  [12]byte
	vendor Vendor
}{
	{ident("GenuineIntel"), VendorIntel},
	{ident("AuthenticAMD"), VendorAMD},
	{ident("CentaurHauls"), VendorCentaur},
	{ident("  Shanghai  "), VendorShanghai},
	{ident("HygonGenuine"), VendorHygon},
}

func ident(s string) (r [12]byte) {
	copy(r[:], s)

	return r
}

// IdentFromRegs converts the ebx, ecx and edx values of leaf 0 to the 12-byte
// identification string. The hardware order is ebx, edx, ecx.
func IdentFromRegs(ebx, ecx, edx uint32) (r [12]byte) {
	for i, x := range []uint32{ebx, edx, ecx} {
		r[4*i+0] = byte(x)
		r[4*i+1] = byte(x >> 8)
		r[4*i+2] = byte(x >> 16)
		r[4*i+3] = byte(x >> 24)
	}

	return r
}

// RegsFromIdent is the inverse of IdentFromRegs.
func RegsFromIdent(r [12]byte) (ebx, ecx, edx uint32) {
	word := func(b []byte) uint32 {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}

	return word(r[0:4]), word(r[8:12]), word(r[4:8])
}

// LookupVendor maps leaf 0 registers to a vendor. The first exact match wins;
// nothing matching is VendorUnknown.
func LookupVendor(ebx, ecx, edx uint32) Vendor {
	id := IdentFromRegs(ebx, ecx, edx)

	for _, v := range vendors {
		if v.ident == id {
			return v.vendor
		}
	}

	return VendorUnknown
}

func (v Vendor) String() string {
	switch v {
	case VendorUnknown:
		return "Unknown"
	case VendorIntel:
		return "Intel"
	case VendorAMD:
		return "AMD"
	case VendorCentaur:
		return "Centaur"
	case VendorShanghai:
		return "Shanghai"
	case VendorHygon:
		return "Hygon"
	}

	return "Vendor(" + strconv.FormatUint(uint64(v), 10) + ")"
}
