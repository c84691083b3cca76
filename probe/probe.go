// Package probe prints human readable reports of CPU policies.
package probe

import (
	"fmt"
	"io"

	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/kvm"
	"github.com/bobuhiro11/cpupolicy/policy"
	kcpuid "github.com/klauspost/cpuid/v2"
)

// signature splits a leaf 1 EAX value into family, model and stepping.
func signature(fms uint32) (family, model, stepping uint32) {
	family = (fms >> 8) & 0xf
	model = (fms >> 4) & 0xf
	stepping = fms & 0xf

	if family == 0xf {
		family += (fms >> 20) & 0xff
	}

	if family >= 6 {
		model |= ((fms >> 16) & 0xf) << 4
	}

	return family, model, stepping
}

// Policy prints the report of p.
func Policy(w io.Writer, p *policy.Policy) {
	family, model, stepping := signature(p.Basic.RawFMS())

	fmt.Fprintf(w, "Vendor: %s\n", p.Vendor())
	fmt.Fprintf(w, "Family %#x, model %#x, stepping %#x\n", family, model, stepping)
	fmt.Fprintf(w, "Max leaf: %#x, max extended leaf: %#x\n", p.Basic.MaxLeaf(), p.Extd.MaxLeaf())
	fmt.Fprintf(w, "Serialized leaves: %d\n", p.NumLeaves())

	if p.Basic.MaxLeaf() >= cpuid.LeafXState {
		fmt.Fprintf(w, "XCR0: %#x, XSS: %#x\n", p.XState.XCR0(), p.XState.XSS())
	}

	fmt.Fprintf(w, "CPUID faulting: %t\n", p.PlatformInfo.CPUIDFaulting())
	fmt.Fprintf(w, "Arch capabilities: %#x\n\n", p.ArchCaps.Raw)

	if p.Basic.MaxLeaf() >= cpuid.LeafFeatures {
		fmt.Fprintf(w, "F_1_Edx.\n")
		printFeatures(w, cpuid.AllF1Edx, p.Basic.Raw[cpuid.LeafFeatures].D)
	}

	if p.Basic.MaxLeaf() >= cpuid.LeafFeat {
		fmt.Fprintf(w, "F_7_0_Edx.\n")
		printFeatures(w, cpuid.AllF7_0Edx, p.Feat.Raw[0].D)
	}
}

// Host prints the report of the host policy p, headed by the processor
// brand string.
func Host(w io.Writer, p *policy.Policy) {
	fmt.Fprintf(w, "Brand: %s\n", kcpuid.CPU.BrandName)
	fmt.Fprintf(w, "Logical cores: %d\n", kcpuid.CPU.LogicalCores)

	Policy(w, p)
}

// KVM calls 'KVM_GET_SUPPORTED_CPUID' and prints the features KVM can
// expose.
func KVM(w io.Writer, kvmFd uintptr) error {
	leaves, err := kvm.SupportedLeaves(kvmFd)
	if err != nil {
		return err
	}

	for _, l := range leaves {
		switch {
		case l.Leaf == cpuid.LeafFeatures:
			fmt.Fprintf(w, "F_1_Edx.\n")
			printFeatures(w, cpuid.AllF1Edx, l.D)
		case l.Leaf == cpuid.LeafFeat && l.Subleaf == 0:
			fmt.Fprintf(w, "F_7_0_Edx.\n")
			printFeatures(w, cpuid.AllF7_0Edx, l.D)
		}
	}

	return nil
}

// KVMCapabilities prints which of the extensions a KVM policy relies on are
// available.
func KVMCapabilities(w io.Writer, kvmFd uintptr) error {
	for _, c := range kvm.PolicyCaps {
		res, err := kvm.CheckExtension(kvmFd, c)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "%-30s: %t\n", c, res != 0)
	}

	return nil
}

func printFeatures[T cpuid.Feature](w io.Writer, features []T, reg uint32) {
	enabled := []T{}
	disabled := []T{}

	for i := 0; i < len(features); i++ {
		if cpuid.Enabled(features[i], reg) {
			enabled = append(enabled, features[i])
		} else {
			disabled = append(disabled, features[i])
		}
	}

	fmt.Fprintf(w, "* Enabled:")

	for i := 0; i < len(enabled); i++ {
		fmt.Fprintf(w, " %s", enabled[i].String())
	}

	fmt.Fprintf(w, "\n* Disabled:")

	for i := 0; i < len(disabled); i++ {
		fmt.Fprintf(w, " %s", disabled[i].String())
	}

	fmt.Fprintf(w, "\n\n")
}
