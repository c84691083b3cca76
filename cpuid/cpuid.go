// Package cpuid holds the x86 CPUID wire record, the vendor identification
// table and the functions used to query CPUID on the local processor.
package cpuid

import (
	"errors"
	"fmt"
)

// NoSubleaf is the subleaf value of a wire leaf whose leaf has no subleaves.
const NoSubleaf = 0xffffffff

// Well known leaves.
const (
	LeafVendor   = 0x0
	LeafFeatures = 0x1
	LeafCache    = 0x4
	LeafFeat     = 0x7
	LeafTopo     = 0xb
	LeafXState   = 0xd

	LeafHypervisor  = 0x40000000
	LeafHypervisor2 = 0x40000100

	LeafExtended = 0x80000000
)

// Regs is the output of one CPUID invocation.
type Regs struct {
	A uint32
	B uint32
	C uint32
	D uint32
}

// IsZero reports whether all four registers are zero.
func (r Regs) IsZero() bool {
	return r == Regs{}
}

// Leaf is the wire record for one CPUID leaf/subleaf.
type Leaf struct {
	Leaf    uint32
	Subleaf uint32
	A       uint32
	B       uint32
	C       uint32
	D       uint32
}

// NewLeaf builds a wire leaf from its coordinates and register values.
func NewLeaf(leaf, subleaf uint32, r Regs) Leaf {
	return Leaf{Leaf: leaf, Subleaf: subleaf, A: r.A, B: r.B, C: r.C, D: r.D}
}

// Regs returns the register values carried by l.
func (l Leaf) Regs() Regs {
	return Regs{A: l.A, B: l.B, C: l.C, D: l.D}
}

func (l Leaf) String() string {
	if l.Subleaf == NoSubleaf {
		return fmt.Sprintf("%08x:-------- -> %08x:%08x:%08x:%08x", l.Leaf, l.A, l.B, l.C, l.D)
	}

	return fmt.Sprintf("%08x:%08x -> %08x:%08x:%08x:%08x", l.Leaf, l.Subleaf, l.A, l.B, l.C, l.D)
}

// Function executes a CPUID query.
//
// This is typically Native or a Static definition.
type Function interface {
	Query(leaf, subleaf uint32) Regs
}

// In is the input of a static CPUID query.
type In struct {
	Leaf    uint32
	Subleaf uint32
}

// Static is a map backed CPUID function, used to replay a recorded CPU.
type Static map[In]Regs

// indexed reports whether the hardware looks at ECX for leaf.
func indexed(leaf uint32) bool {
	switch leaf {
	case LeafCache, LeafFeat, LeafTopo, LeafXState:
		return true
	}

	return false
}

// Set records the result for leaf/subleaf.
func (s Static) Set(leaf, subleaf uint32, r Regs) {
	if !indexed(leaf) {
		subleaf = 0
	}

	s[In{Leaf: leaf, Subleaf: subleaf}] = r
}

// Query implements Function.Query. Unknown leaves read as zero.
func (s Static) Query(leaf, subleaf uint32) Regs {
	if !indexed(leaf) {
		subleaf = 0
	}

	return s[In{Leaf: leaf, Subleaf: subleaf}]
}

// CPUID executes CPUID natively for leaf with a zero subleaf.
func CPUID(leaf uint32) (uint32, uint32, uint32, uint32) {
	r := Native{}.Query(leaf, 0)

	return r.A, r.B, r.C, r.D
}

// Register selects one of the four CPUID output registers.
type Register uint8

const (
	EAX Register = iota
	EBX
	ECX
	EDX
)

// CPUIDPatch sets or clears a single register bit of a wire leaf.
type CPUIDPatch struct {
	Leaf    uint32
	Subleaf uint32
	Reg     Register
	Bit     uint8
	Clear   bool
}

// ErrInvalidPatch is returned when a patch does not name exactly one bit.
var ErrInvalidPatch = errors.New("invalid patch. Only 1 bit of EAX, EBX, ECX or EDX allowed")

func (p *CPUIDPatch) validate() error {
	if p.Reg > EDX || p.Bit > 31 {
		return fmt.Errorf("%w: %08x:%08x reg %d bit %d", ErrInvalidPatch, p.Leaf, p.Subleaf, p.Reg, p.Bit)
	}

	return nil
}

// Patch patches wire leaves before they are handed to a policy.
// All patches are checked before any leaf is touched.
func Patch(leaves []Leaf, patches []*CPUIDPatch) error {
	for _, patch := range patches {
		if err := patch.validate(); err != nil {
			return err
		}
	}

	for i := range leaves {
		id := &leaves[i]

		for _, patch := range patches {
			if id.Leaf != patch.Leaf || id.Subleaf != patch.Subleaf {
				continue
			}

			var reg *uint32

			switch patch.Reg {
			case EAX:
				reg = &id.A
			case EBX:
				reg = &id.B
			case ECX:
				reg = &id.C
			case EDX:
				reg = &id.D
			}

			if patch.Clear {
				*reg &^= 1 << patch.Bit
			} else {
				*reg |= 1 << patch.Bit
			}
		}
	}

	return nil
}
