package policy

import (
	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/msr"
)

// walkCPUID calls emit for every wire leaf of p in ascending (leaf, subleaf)
// order.
func (p *Policy) walkCPUID(emit func(cpuid.Leaf)) {
	for i := 0; i < basicLen(p.Basic.MaxLeaf()); i++ {
		leaf := uint32(i)

		switch leaf {
		case cpuid.LeafCache:
			for sub := 0; sub < cacheWireLen(&p.Cache); sub++ {
				emit(cpuid.NewLeaf(leaf, uint32(sub), p.Cache.Raw[sub]))
			}

		case cpuid.LeafFeat:
			for sub := 0; sub < featLen(&p.Feat); sub++ {
				emit(cpuid.NewLeaf(leaf, uint32(sub), p.Feat.Raw[sub]))
			}

		case cpuid.LeafTopo:
			for sub := 0; sub < topoWireLen(&p.Topo); sub++ {
				emit(cpuid.NewLeaf(leaf, uint32(sub), p.Topo.Raw[sub]))
			}

		case cpuid.LeafXState:
			for sub := 0; sub < xstateLen(p.XState.States()); sub++ {
				emit(cpuid.NewLeaf(leaf, uint32(sub), p.XState.Raw[sub]))
			}

		default:
			emit(cpuid.NewLeaf(leaf, cpuid.NoSubleaf, p.Basic.Raw[i]))
		}
	}

	emit(cpuid.Leaf{Leaf: cpuid.LeafHypervisor, Subleaf: cpuid.NoSubleaf, A: p.HVLimit})
	emit(cpuid.Leaf{Leaf: cpuid.LeafHypervisor2, Subleaf: cpuid.NoSubleaf, A: p.HV2Limit})

	for i := 0; i < extdLen(p.Extd.MaxLeaf()); i++ {
		emit(cpuid.NewLeaf(cpuid.LeafExtended|uint32(i), cpuid.NoSubleaf, p.Extd.Raw[i]))
	}
}

// NumLeaves returns the number of wire leaves p serializes to.
func (p *Policy) NumLeaves() int {
	n := 0
	p.walkCPUID(func(cpuid.Leaf) { n++ })

	return n
}

// SerializeCPUID writes the wire leaves of p to dst and returns how many were
// written. When dst is too short nothing is written; the returned count is
// then the number required and the error is a *CapacityError.
func (p *Policy) SerializeCPUID(dst []cpuid.Leaf) (int, error) {
	required := p.NumLeaves()
	if len(dst) < required {
		return required, &CapacityError{Required: required, Capacity: len(dst)}
	}

	n := 0

	p.walkCPUID(func(l cpuid.Leaf) {
		dst[n] = l
		n++
	})

	return n, nil
}

// CPUIDLeaves returns the wire leaves of p.
func (p *Policy) CPUIDLeaves() []cpuid.Leaf {
	leaves := make([]cpuid.Leaf, 0, p.NumLeaves())
	p.walkCPUID(func(l cpuid.Leaf) { leaves = append(leaves, l) })

	return leaves
}

// SerializeMSRs writes one entry per allow-listed MSR to dst, in ascending
// index order. Capacity errors behave as in SerializeCPUID.
func (p *Policy) SerializeMSRs(dst []msr.Entry) (int, error) {
	specs := msr.AllowList()
	if len(dst) < len(specs) {
		return len(specs), &CapacityError{Required: len(specs), Capacity: len(dst)}
	}

	for i, s := range specs {
		dst[i] = msr.Entry{Index: s.Index, Value: p.msrValue(s.Index)}
	}

	return len(specs), nil
}

// MSRs returns the MSR entries of p.
func (p *Policy) MSRs() []msr.Entry {
	entries := make([]msr.Entry, MaxSerializedMSRs)
	n, _ := p.SerializeMSRs(entries)

	return entries[:n]
}
