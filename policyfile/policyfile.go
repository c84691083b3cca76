// Package policyfile reads and writes CPU policies as YAML documents.
//
// A document lists wire records with hexadecimal scalars:
//
//	name: guest0
//	leaves:
//	  - {leaf: 0x0, a: 0xd, b: 0x756e6547, c: 0x6c65746e, d: 0x49656e69}
//	  - {leaf: 0x7, subleaf: 0x0, b: 0x29c6fbf}
//	msrs:
//	  - {index: 0xce, value: 0x80000000}
//	patches:
//	  - {leaf: 0x1, reg: ecx, bit: 31, clear: true}
//
// A leaf without subleaf has none (cpuid.NoSubleaf).
package policyfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/msr"
	"github.com/bobuhiro11/cpupolicy/policy"
	"gopkg.in/yaml.v3"
)

var (
	// ErrSyntax is a document that is not a valid policy document.
	ErrSyntax = errors.New("policy document syntax")

	errBadRegister = errors.New("register must be eax, ebx, ecx or edx")
)

// Hex is a 32-bit value written in hexadecimal.
type Hex uint32

// UnmarshalYAML accepts any integer literal strconv understands.
func (h *Hex) UnmarshalYAML(n *yaml.Node) error {
	v, err := strconv.ParseUint(n.Value, 0, 32)
	if err != nil {
		return fmt.Errorf("%w: line %d: %q is not a 32-bit value", ErrSyntax, n.Line, n.Value)
	}

	*h = Hex(v)

	return nil
}

// MarshalYAML writes h as an unquoted hexadecimal integer.
func (h Hex) MarshalYAML() (any, error) {
	return hexNode(uint64(h)), nil
}

// Hex64 is a 64-bit value written in hexadecimal.
type Hex64 uint64

// UnmarshalYAML accepts any integer literal strconv understands.
func (h *Hex64) UnmarshalYAML(n *yaml.Node) error {
	v, err := strconv.ParseUint(n.Value, 0, 64)
	if err != nil {
		return fmt.Errorf("%w: line %d: %q is not a 64-bit value", ErrSyntax, n.Line, n.Value)
	}

	*h = Hex64(v)

	return nil
}

// MarshalYAML writes h as an unquoted hexadecimal integer.
func (h Hex64) MarshalYAML() (any, error) {
	return hexNode(uint64(h)), nil
}

func hexNode(v uint64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: "0x" + strconv.FormatUint(v, 16)}
}

// Leaf is one CPUID wire leaf.
type Leaf struct {
	Leaf    Hex  `yaml:"leaf"`
	Subleaf *Hex `yaml:"subleaf,omitempty"`
	A       Hex  `yaml:"a"`
	B       Hex  `yaml:"b"`
	C       Hex  `yaml:"c"`
	D       Hex  `yaml:"d"`
}

func subleaf(h *Hex) uint32 {
	if h == nil {
		return cpuid.NoSubleaf
	}

	return uint32(*h)
}

func subleafRef(v uint32) *Hex {
	if v == cpuid.NoSubleaf {
		return nil
	}

	h := Hex(v)

	return &h
}

// MSR is one MSR wire entry.
type MSR struct {
	Index Hex   `yaml:"index"`
	Flags Hex   `yaml:"flags,omitempty"`
	Value Hex64 `yaml:"value"`
}

// Patch sets or clears one register bit of a leaf before it is loaded.
type Patch struct {
	Leaf    Hex    `yaml:"leaf"`
	Subleaf *Hex   `yaml:"subleaf,omitempty"`
	Reg     string `yaml:"reg"`
	Bit     uint8  `yaml:"bit"`
	Clear   bool   `yaml:"clear,omitempty"`
}

func (p *Patch) cpuid() (*cpuid.CPUIDPatch, error) {
	regs := map[string]cpuid.Register{"eax": cpuid.EAX, "ebx": cpuid.EBX, "ecx": cpuid.ECX, "edx": cpuid.EDX}

	reg, ok := regs[strings.ToLower(p.Reg)]
	if !ok {
		return nil, fmt.Errorf("%w: leaf %#x: %w: %q", ErrSyntax, uint32(p.Leaf), errBadRegister, p.Reg)
	}

	return &cpuid.CPUIDPatch{
		Leaf:    uint32(p.Leaf),
		Subleaf: subleaf(p.Subleaf),
		Reg:     reg,
		Bit:     p.Bit,
		Clear:   p.Clear,
	}, nil
}

// Document is a named policy in wire form.
type Document struct {
	Name    string  `yaml:"name"`
	Leaves  []Leaf  `yaml:"leaves,omitempty"`
	MSRs    []MSR   `yaml:"msrs,omitempty"`
	Patches []Patch `yaml:"patches,omitempty"`
}

// Parse decodes a document. Unknown keys are errors.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	d := &Document{}
	if err := dec.Decode(d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrSyntax)
		}

		if errors.Is(err, ErrSyntax) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}

	return d, nil
}

// Load reads and decodes the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return d, nil
}

// Records returns the wire records of d with its patches applied.
func (d *Document) Records() ([]cpuid.Leaf, []msr.Entry, error) {
	leaves := make([]cpuid.Leaf, 0, len(d.Leaves))
	for _, l := range d.Leaves {
		leaves = append(leaves, cpuid.Leaf{
			Leaf:    uint32(l.Leaf),
			Subleaf: subleaf(l.Subleaf),
			A:       uint32(l.A),
			B:       uint32(l.B),
			C:       uint32(l.C),
			D:       uint32(l.D),
		})
	}

	patches := make([]*cpuid.CPUIDPatch, 0, len(d.Patches))

	for i := range d.Patches {
		p, err := d.Patches[i].cpuid()
		if err != nil {
			return nil, nil, err
		}

		patches = append(patches, p)
	}

	if err := cpuid.Patch(leaves, patches); err != nil {
		return nil, nil, err
	}

	msrs := make([]msr.Entry, 0, len(d.MSRs))
	for _, m := range d.MSRs {
		msrs = append(msrs, msr.Entry{Index: uint32(m.Index), Flags: uint32(m.Flags), Value: uint64(m.Value)})
	}

	return leaves, msrs, nil
}

// Policy loads d into a new policy. The policy is not sanitized.
func (d *Document) Policy() (*policy.Policy, error) {
	leaves, msrs, err := d.Records()
	if err != nil {
		return nil, err
	}

	p := &policy.Policy{}

	if err := policy.DeserializeCPUID(p, leaves); err != nil {
		return nil, err
	}

	if err := policy.DeserializeMSRs(p, msrs); err != nil {
		return nil, err
	}

	return p, nil
}

// FromPolicy returns the document describing p.
func FromPolicy(name string, p *policy.Policy) *Document {
	d := &Document{Name: name}

	for _, l := range p.CPUIDLeaves() {
		d.Leaves = append(d.Leaves, Leaf{
			Leaf:    Hex(l.Leaf),
			Subleaf: subleafRef(l.Subleaf),
			A:       Hex(l.A),
			B:       Hex(l.B),
			C:       Hex(l.C),
			D:       Hex(l.D),
		})
	}

	for _, e := range p.MSRs() {
		d.MSRs = append(d.MSRs, MSR{Index: Hex(e.Index), Flags: Hex(e.Flags), Value: Hex64(e.Value)})
	}

	return d
}

// Write encodes d to w.
func (d *Document) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(d); err != nil {
		return err
	}

	return enc.Close()
}
