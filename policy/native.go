package policy

import (
	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/logging"
	"github.com/sirupsen/logrus"
)

// Fill replaces p with the CPUID view of fn. MSR-backed fields are left
// zero; the host package reads those separately.
func (p *Policy) Fill(fn cpuid.Function) {
	*p = Policy{}

	p.Basic.Raw[0] = fn.Query(cpuid.LeafVendor, 0)

	for i := 1; i < basicLen(p.Basic.MaxLeaf()); i++ {
		switch i {
		case cpuid.LeafCache, cpuid.LeafFeat, cpuid.LeafTopo, cpuid.LeafXState:
			// Multi-invocation leaves, read below.
			continue
		}

		p.Basic.Raw[i] = fn.Query(uint32(i), 0)
	}

	maxLeaf := p.Basic.MaxLeaf()

	if maxLeaf >= cpuid.LeafCache {
		i := 0
		for ; i < NrCache; i++ {
			r := fn.Query(cpuid.LeafCache, uint32(i))
			if r.A&cacheTypeMask == 0 {
				break
			}

			p.Cache.Raw[i] = r
		}

		if i == NrCache {
			logrus.WithField(logging.FieldLeaf, logging.Hex(cpuid.LeafCache)).Warn("cpuid: insufficient leaf space for this hardware")
		}
	}

	if maxLeaf >= cpuid.LeafFeat {
		p.Feat.Raw[0] = fn.Query(cpuid.LeafFeat, 0)

		for i := 1; i < featLen(&p.Feat); i++ {
			p.Feat.Raw[i] = fn.Query(cpuid.LeafFeat, uint32(i))
		}
	}

	if maxLeaf >= cpuid.LeafTopo {
		i := 0
		for ; i < NrTopo; i++ {
			r := fn.Query(cpuid.LeafTopo, uint32(i))
			if (r.C>>topoTypeShift)&topoTypeMask == 0 {
				break
			}

			p.Topo.Raw[i] = r
		}

		if i == NrTopo {
			logrus.WithField(logging.FieldLeaf, logging.Hex(cpuid.LeafTopo)).Warn("cpuid: insufficient leaf space for this hardware")
		}
	}

	if maxLeaf >= cpuid.LeafXState {
		p.XState.Raw[0] = fn.Query(cpuid.LeafXState, 0)
		p.XState.Raw[1] = fn.Query(cpuid.LeafXState, 1)

		states := p.XState.States()

		for i := 2; i < NrXState; i++ {
			if states&(1<<uint(i)) != 0 {
				p.XState.Raw[i] = fn.Query(cpuid.LeafXState, uint32(i))
			}
		}
	}

	p.Extd.Raw[0] = fn.Query(cpuid.LeafExtended, 0)

	for i := 1; i < extdLen(p.Extd.MaxLeaf()); i++ {
		p.Extd.Raw[i] = fn.Query(cpuid.LeafExtended|uint32(i), 0)
	}

	// Leaves of an underlying hypervisor are not reported.
	p.HVLimit = 0
	p.HV2Limit = 0
}

// FillNative replaces p with the CPUID view of the processor the calling
// goroutine runs on. It always succeeds.
func (p *Policy) FillNative() {
	p.Fill(cpuid.Native{})
}
