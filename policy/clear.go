package policy

import "github.com/bobuhiro11/cpupolicy/cpuid"

func zeroFrom(raw []cpuid.Regs, start int) {
	if start < len(raw) {
		clear(raw[start:])
	}
}

// ClearOutOfRange zeroes every field p does not declare as populated. The
// declared ranges themselves (MaxLeaf, MaxSubleaf, terminators, xstate
// masks) are left as they are, so the call is idempotent.
func (p *Policy) ClearOutOfRange() {
	maxLeaf := p.Basic.MaxLeaf()

	zeroFrom(p.Basic.Raw[:], basicLen(maxLeaf))

	for _, leaf := range []int{cpuid.LeafCache, cpuid.LeafFeat, cpuid.LeafTopo, cpuid.LeafXState} {
		p.Basic.Raw[leaf] = cpuid.Regs{}
	}

	if maxLeaf < cpuid.LeafCache {
		zeroFrom(p.Cache.Raw[:], 0)
	} else {
		zeroFrom(p.Cache.Raw[:], cacheLen(&p.Cache))
	}

	if maxLeaf < cpuid.LeafFeat {
		zeroFrom(p.Feat.Raw[:], 0)
	} else {
		zeroFrom(p.Feat.Raw[:], featLen(&p.Feat))
	}

	if maxLeaf < cpuid.LeafTopo {
		zeroFrom(p.Topo.Raw[:], 0)
	} else {
		zeroFrom(p.Topo.Raw[:], topoLen(&p.Topo))
	}

	if states := p.XState.States(); maxLeaf < cpuid.LeafXState || states == 0 {
		zeroFrom(p.XState.Raw[:], 0)
	} else {
		zeroFrom(p.XState.Raw[:], xstateLen(states))
	}

	zeroFrom(p.Extd.Raw[:], extdLen(p.Extd.MaxLeaf()))
}
