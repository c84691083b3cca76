//go:build !amd64

package cpuid

// Native executes the CPUID instruction on the current processor. There is
// no such instruction here, so every leaf reads as zero.
type Native struct{}

// Query implements Function.Query.
func (Native) Query(leaf, subleaf uint32) Regs {
	return Regs{}
}
