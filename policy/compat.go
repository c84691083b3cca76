package policy

import (
	"fmt"

	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/msr"
)

// CheckCompatible decides whether host can honour guest. It returns nil when
// it can, and otherwise an *IncompatibleError locating the first mismatch.
// Both policies are expected to be sanitized.
//
// Checks run in a fixed order: basic max leaf, leaf 7 max subleaf, extended
// max leaf, then MSR-backed capabilities.
func CheckCompatible(host, guest *Policy) error {
	if g, h := guest.Basic.MaxLeaf(), host.Basic.MaxLeaf(); g > h {
		return &IncompatibleError{
			Locator: Locator{Leaf: cpuid.LeafVendor, Subleaf: NA, MSR: NA},
			Reason:  fmt.Sprintf("guest max basic leaf %#x exceeds host %#x", g, h),
		}
	}

	if g, h := guest.Feat.MaxSubleaf(), host.Feat.MaxSubleaf(); g > h {
		return &IncompatibleError{
			Locator: Locator{Leaf: cpuid.LeafFeat, Subleaf: 0, MSR: NA},
			Reason:  fmt.Sprintf("guest max leaf 7 subleaf %#x exceeds host %#x", g, h),
		}
	}

	if g, h := guest.Extd.MaxLeaf(), host.Extd.MaxLeaf(); g > h {
		return &IncompatibleError{
			Locator: Locator{Leaf: cpuid.LeafExtended, Subleaf: NA, MSR: NA},
			Reason:  fmt.Sprintf("guest max extended leaf %#x exceeds host %#x", g, h),
		}
	}

	if missing := ^host.PlatformInfo.Raw & guest.PlatformInfo.Raw; missing != 0 {
		return &IncompatibleError{
			Locator: Locator{Leaf: NA, Subleaf: NA, MSR: msr.PlatformInfo},
			Reason:  fmt.Sprintf("guest platform info bits %#x not supported by host", missing),
		}
	}

	return nil
}
