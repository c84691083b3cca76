// Package tools holds diagnostics that run against the policy code itself.
package tools

import (
	"errors"
	"fmt"
	"io"

	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/msr"
	"github.com/bobuhiro11/cpupolicy/policy"
)

var errUnexpected = errors.New("unexpected result")

type check struct {
	name string
	run  func() error
}

func expectErr(err, want error) error {
	if !errors.Is(err, want) {
		return fmt.Errorf("%w: got %v, want %v", errUnexpected, err, want)
	}

	return nil
}

func expectLocator(err error, want policy.Locator) error {
	if err := expectErr(err, policy.ErrIncompatible); err != nil {
		return err
	}

	if got := policy.LocatorOf(err); got != want {
		return fmt.Errorf("%w: locator %v, want %v", errUnexpected, got, want)
	}

	return nil
}

func leafCount(fill func(p *policy.Policy), want int) func() error {
	return func() error {
		p := &policy.Policy{}
		fill(p)

		buf := make([]cpuid.Leaf, policy.MaxSerializedLeaves)

		n, err := p.SerializeCPUID(buf)
		if err != nil {
			return err
		}

		if n != want {
			return fmt.Errorf("%w: %d leaves, want %d", errUnexpected, n, want)
		}

		return nil
	}
}

func rejectLeaf(l cpuid.Leaf) func() error {
	return func() error {
		p := &policy.Policy{}
		err := policy.DeserializeCPUID(p, []cpuid.Leaf{l})

		var le *policy.LeafError
		if !errors.As(err, &le) || !errors.Is(err, policy.ErrOutOfRange) {
			return fmt.Errorf("%w: %v", errUnexpected, err)
		}

		if le.Leaf != l.Leaf || le.Subleaf != l.Subleaf {
			return fmt.Errorf("%w: blamed %#x:%#x", errUnexpected, le.Leaf, le.Subleaf)
		}

		return nil
	}
}

func rejectMSR(e msr.Entry, want error) func() error {
	return func() error {
		p := &policy.Policy{}

		return expectErr(policy.DeserializeMSRs(p, []msr.Entry{e}), want)
	}
}

func compat(mutate func(host, guest *policy.Policy), want policy.Locator) func() error {
	return func() error {
		host, guest := &policy.Policy{}, &policy.Policy{}
		mutate(host, guest)

		return expectLocator(policy.CheckCompatible(host, guest), want)
	}
}

func checks() []check {
	return []check{
		{"serialize empty", leafCount(func(*policy.Policy) {}, 4)},
		{"serialize leaf 4", leafCount(func(p *policy.Policy) {
			p.Basic.SetMaxLeaf(cpuid.LeafCache)
			p.Cache.Raw[0].A = 1
		}, 9)},
		{"serialize leaf 7", leafCount(func(p *policy.Policy) {
			p.Basic.SetMaxLeaf(cpuid.LeafFeat)
			p.Feat.SetMaxSubleaf(1)
		}, 12)},
		{"serialize leaf 0xd", leafCount(func(p *policy.Policy) {
			p.Basic.SetMaxLeaf(cpuid.LeafXState)
			p.XState.SetXCR0(7)
		}, 19)},
		{"deserialize basic", rejectLeaf(cpuid.Leaf{Leaf: policy.NrBasic, Subleaf: cpuid.NoSubleaf})},
		{"deserialize cache", rejectLeaf(cpuid.Leaf{Leaf: cpuid.LeafCache, Subleaf: policy.NrCache})},
		{"deserialize feat", rejectLeaf(cpuid.Leaf{Leaf: cpuid.LeafFeat, Subleaf: policy.NrFeat})},
		{"deserialize topo", rejectLeaf(cpuid.Leaf{Leaf: cpuid.LeafTopo, Subleaf: policy.NrTopo})},
		{"deserialize xstate", rejectLeaf(cpuid.Leaf{Leaf: cpuid.LeafXState, Subleaf: policy.NrXState})},
		{"deserialize extd", rejectLeaf(cpuid.Leaf{
			Leaf: cpuid.LeafExtended + policy.NrExtd, Subleaf: cpuid.NoSubleaf,
		})},
		{"msr unknown", rejectMSR(msr.Entry{Index: 0xdeadc0de}, policy.ErrOutOfRange)},
		{"msr flags", rejectMSR(msr.Entry{Index: msr.PlatformInfo, Flags: 1}, policy.ErrInvalidArgument)},
		{"msr platform info width", rejectMSR(msr.Entry{Index: msr.PlatformInfo, Value: ^uint64(0)}, policy.ErrOverflow)},
		{"msr arch caps width", rejectMSR(msr.Entry{Index: msr.ArchCapabilities, Value: ^uint64(0)}, policy.ErrOverflow)},
		{"compat basic", compat(func(_, g *policy.Policy) {
			g.Basic.SetMaxLeaf(1)
		}, policy.Locator{Leaf: 0, Subleaf: policy.NA, MSR: policy.NA})},
		{"compat feat", compat(func(_, g *policy.Policy) {
			g.Feat.SetMaxSubleaf(1)
		}, policy.Locator{Leaf: cpuid.LeafFeat, Subleaf: 0, MSR: policy.NA})},
		{"compat extd", compat(func(_, g *policy.Policy) {
			g.Extd.SetMaxLeaf(cpuid.LeafExtended + 1)
		}, policy.Locator{Leaf: cpuid.LeafExtended, Subleaf: policy.NA, MSR: policy.NA})},
		{"compat platform info", compat(func(_, g *policy.Policy) {
			g.PlatformInfo.SetCPUIDFaulting(true)
		}, policy.Locator{Leaf: policy.NA, Subleaf: policy.NA, MSR: msr.PlatformInfo})},
	}
}

// SelfTest runs the built-in policy scenarios, writes one line per scenario
// to w and returns the number that failed.
func SelfTest(w io.Writer) int {
	failures := 0

	for _, c := range checks() {
		if err := c.run(); err != nil {
			failures++

			fmt.Fprintf(w, "%-30s: FAIL (%v)\n", c.name, err)

			continue
		}

		fmt.Fprintf(w, "%-30s: ok\n", c.name)
	}

	fmt.Fprintf(w, "%d scenarios, %d failed\n", len(checks()), failures)

	return failures
}
