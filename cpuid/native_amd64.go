//go:build amd64

package cpuid

func cpuidLow(arg1, arg2 uint32) (eax, ebx, ecx, edx uint32) // implemented in cpuid_amd64.s

// Native executes the CPUID instruction on the current processor.
type Native struct{}

// Query implements Function.Query.
func (Native) Query(leaf, subleaf uint32) Regs {
	a, b, c, d := cpuidLow(leaf, subleaf)

	return Regs{A: a, B: b, C: c, D: d}
}
