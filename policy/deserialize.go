package policy

import (
	"fmt"

	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/msr"
)

// placeLeaf stores l in p, or reports why p cannot hold it.
func placeLeaf(p *Policy, l cpuid.Leaf) error {
	r := l.Regs()

	switch {
	case l.Leaf < NrBasic:
		switch l.Leaf {
		case cpuid.LeafCache:
			if l.Subleaf >= NrCache {
				return leafOutOfRange(l)
			}

			p.Cache.Raw[l.Subleaf] = r

		case cpuid.LeafFeat:
			if l.Subleaf >= NrFeat {
				return leafOutOfRange(l)
			}

			p.Feat.Raw[l.Subleaf] = r

		case cpuid.LeafTopo:
			if l.Subleaf >= NrTopo {
				return leafOutOfRange(l)
			}

			p.Topo.Raw[l.Subleaf] = r

		case cpuid.LeafXState:
			if l.Subleaf >= NrXState {
				return leafOutOfRange(l)
			}

			p.XState.Raw[l.Subleaf] = r

		default:
			if l.Subleaf != cpuid.NoSubleaf {
				return leafOutOfRange(l)
			}

			p.Basic.Raw[l.Leaf] = r
		}

	case l.Leaf == cpuid.LeafHypervisor:
		if l.Subleaf != cpuid.NoSubleaf {
			return leafOutOfRange(l)
		}

		p.HVLimit = l.A

	case l.Leaf == cpuid.LeafHypervisor2:
		if l.Subleaf != cpuid.NoSubleaf {
			return leafOutOfRange(l)
		}

		p.HV2Limit = l.A

	case l.Leaf >= cpuid.LeafExtended && l.Leaf < cpuid.LeafExtended+NrExtd:
		if l.Subleaf != cpuid.NoSubleaf {
			return leafOutOfRange(l)
		}

		p.Extd.Raw[l.Leaf-cpuid.LeafExtended] = r

	default:
		return leafOutOfRange(l)
	}

	return nil
}

func leafOutOfRange(l cpuid.Leaf) error {
	return &LeafError{Leaf: l.Leaf, Subleaf: l.Subleaf, Err: ErrOutOfRange}
}

// DeserializeCPUID loads wire leaves into dst. Leaves not present in the
// input keep their current value in dst.
//
// Every leaf is checked before dst is written: on error dst is unchanged and
// the error is a *LeafError naming the first offending leaf. A nil dst only
// validates the input.
//
// Leaves are expected in ascending order without repetitions, but this is
// not enforced; a repeated leaf overwrites the earlier one.
func DeserializeCPUID(dst *Policy, leaves []cpuid.Leaf) error {
	if len(leaves) > MaxSerializedLeaves {
		return fmt.Errorf("%w: %d cpuid leaves, at most %d", ErrTooBig, len(leaves), MaxSerializedLeaves)
	}

	var stage Policy
	if dst != nil {
		stage = *dst
	}

	for _, l := range leaves {
		if err := placeLeaf(&stage, l); err != nil {
			return err
		}
	}

	if dst != nil {
		*dst = stage
	}

	return nil
}

// DeserializeMSRs loads MSR entries into dst with the same all-or-nothing
// rules as DeserializeCPUID. Each entry is checked for, in order, an index on
// the allow-list (ErrOutOfRange), zero flags (ErrInvalidArgument) and a value
// that fits the MSR (ErrOverflow); failures are *MSRError.
func DeserializeMSRs(dst *Policy, entries []msr.Entry) error {
	if len(entries) > MaxSerializedMSRs {
		return fmt.Errorf("%w: %d msrs, at most %d", ErrTooBig, len(entries), MaxSerializedMSRs)
	}

	var stage Policy
	if dst != nil {
		stage = *dst
	}

	for _, e := range entries {
		spec, ok := msr.Lookup(e.Index)
		if !ok {
			return &MSRError{Index: e.Index, Err: ErrOutOfRange}
		}

		if e.Flags != 0 {
			return &MSRError{Index: e.Index, Err: ErrInvalidArgument}
		}

		if !spec.Fits(e.Value) {
			return &MSRError{Index: e.Index, Err: ErrOverflow}
		}

		stage.setMSRValue(e.Index, e.Value)
	}

	if dst != nil {
		*dst = stage
	}

	return nil
}

// Acceptable splits leaves into those a policy can hold and the rest, so a
// foreign leaf list (e.g. from KVM) can be loaded without failing on leaves
// this policy does not model.
func Acceptable(leaves []cpuid.Leaf) (accepted, rejected []cpuid.Leaf) {
	for _, l := range leaves {
		if err := DeserializeCPUID(nil, []cpuid.Leaf{l}); err != nil {
			rejected = append(rejected, l)

			continue
		}

		accepted = append(accepted, l)
	}

	return accepted, rejected
}
