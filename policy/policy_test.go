package policy_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/msr"
	"github.com/bobuhiro11/cpupolicy/policy"
	"github.com/google/go-cmp/cmp"
)

// fakeCPU is a small but complete Intel-like processor.
func fakeCPU() cpuid.Static {
	s := cpuid.Static{}

	ebx, ecx, edx := cpuid.RegsFromIdent([12]byte{'G', 'e', 'n', 'u', 'i', 'n', 'e', 'I', 'n', 't', 'e', 'l'})
	s.Set(0x0, 0, cpuid.Regs{A: 0xd, B: ebx, C: ecx, D: edx})
	s.Set(0x1, 0, cpuid.Regs{A: 0x000906ea, B: 0x00100800, C: 0x7ffafbff, D: 0xbfebfbff})
	s.Set(0x2, 0, cpuid.Regs{A: 0x00feff01})
	s.Set(0x6, 0, cpuid.Regs{A: 0x4, C: 0x1})

	s.Set(0x4, 0, cpuid.Regs{A: 0x1 | 1<<5, B: 0x01c0003f, C: 0x3f})
	s.Set(0x4, 1, cpuid.Regs{A: 0x2 | 1<<5, B: 0x01c0003f, C: 0x3f})
	s.Set(0x4, 2, cpuid.Regs{A: 0x3 | 2<<5, B: 0x00c0003f, C: 0x3ff})
	s.Set(0x4, 3, cpuid.Regs{A: 0x3 | 3<<5, B: 0x03c0003f, C: 0x3fff})

	s.Set(0x7, 0, cpuid.Regs{A: 0x1, B: 0x029c6fbf, D: 0x9c002400})
	s.Set(0x7, 1, cpuid.Regs{A: 0x400})

	s.Set(0xb, 0, cpuid.Regs{A: 0x1, B: 0x1, C: 0x100})
	s.Set(0xb, 1, cpuid.Regs{A: 0x4, B: 0x4, C: 0x201})

	s.Set(0xd, 0, cpuid.Regs{A: 0x1f, B: 0x440, C: 0x440})
	s.Set(0xd, 1, cpuid.Regs{A: 0xf})
	s.Set(0xd, 2, cpuid.Regs{A: 0x100, B: 0x240})
	s.Set(0xd, 3, cpuid.Regs{A: 0x40, B: 0x3c0})
	s.Set(0xd, 4, cpuid.Regs{A: 0x40, B: 0x400})

	s.Set(0x80000000, 0, cpuid.Regs{A: 0x80000008})
	s.Set(0x80000001, 0, cpuid.Regs{C: 0x121, D: 0x2c100800})
	s.Set(0x80000006, 0, cpuid.Regs{C: 0x01006040})
	s.Set(0x80000008, 0, cpuid.Regs{A: 0x3027})

	return s
}

func filled(t *testing.T) *policy.Policy {
	t.Helper()

	p := &policy.Policy{}
	p.Fill(fakeCPU())

	return p
}

func TestFill(t *testing.T) {
	t.Parallel()

	p := filled(t)

	if p.Vendor() != cpuid.VendorIntel {
		t.Errorf("Vendor() = %v, want Intel", p.Vendor())
	}

	if got := p.Basic.RawFMS(); got != 0x000906ea {
		t.Errorf("RawFMS() = %#x", got)
	}

	types := []uint32{}
	for i := 0; i < policy.NrCache; i++ {
		types = append(types, p.Cache.Type(i))
	}

	if diff := cmp.Diff([]uint32{1, 2, 3, 3, 0}, types); diff != "" {
		t.Errorf("cache types mismatch (-want +got):\n%s", diff)
	}

	if p.Feat.MaxSubleaf() != 1 || p.Feat.Raw[1].A != 0x400 {
		t.Errorf("leaf 7 = %+v", p.Feat.Raw)
	}

	if p.Topo.Type(0) != 1 || p.Topo.Type(1) != 2 {
		t.Errorf("topology types = %d, %d", p.Topo.Type(0), p.Topo.Type(1))
	}

	if p.XState.States() != 0x1f || p.XState.Raw[4].B != 0x400 {
		t.Errorf("xstate = %+v", p.XState.Raw[:5])
	}

	if p.Extd.MaxLeaf() != 0x80000008 || p.Extd.Raw[8].A != 0x3027 {
		t.Errorf("extended leaves = %+v", p.Extd.Raw[:9])
	}

	if p.HVLimit != 0 || p.HV2Limit != 0 {
		t.Errorf("hypervisor limits = %#x, %#x", p.HVLimit, p.HV2Limit)
	}

	if !p.Basic.Raw[cpuid.LeafCache].IsZero() {
		t.Errorf("basic slot 4 populated: %+v", p.Basic.Raw[cpuid.LeafCache])
	}

	clean := *p
	clean.ClearOutOfRange()

	if !clean.Equal(p) {
		t.Error("Fill produced out of range data")
	}
}

func TestFillCacheOverflow(t *testing.T) {
	t.Parallel()

	s := fakeCPU()
	for i := uint32(0); i < 8; i++ {
		s.Set(0x4, i, cpuid.Regs{A: 0x3, B: i})
	}

	p := &policy.Policy{}
	p.Fill(s)

	for i := 0; i < policy.NrCache; i++ {
		if p.Cache.Raw[i].B != uint32(i) {
			t.Errorf("cache subleaf %d = %+v", i, p.Cache.Raw[i])
		}
	}

	if n := len(p.CPUIDLeaves()); n != p.NumLeaves() {
		t.Errorf("CPUIDLeaves() has %d entries, NumLeaves() = %d", n, p.NumLeaves())
	}
}

func TestSerializeCPUIDCounts(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name  string
		setup func(p *policy.Policy)
		want  int
	}{
		{
			name:  "empty policy",
			setup: func(*policy.Policy) {},
			want:  4,
		},
		{
			name: "empty leaf 4",
			setup: func(p *policy.Policy) {
				p.Basic.SetMaxLeaf(4)
			},
			want: 8,
		},
		{
			name: "partial leaf 4",
			setup: func(p *policy.Policy) {
				p.Basic.SetMaxLeaf(4)
				p.Cache.Raw[0].A = 1
			},
			want: 9,
		},
		{
			name: "empty leaf 7",
			setup: func(p *policy.Policy) {
				p.Basic.SetMaxLeaf(7)
			},
			want: 11,
		},
		{
			name: "partial leaf 7",
			setup: func(p *policy.Policy) {
				p.Basic.SetMaxLeaf(7)
				p.Feat.SetMaxSubleaf(1)
			},
			want: 12,
		},
		{
			name: "empty leaf 0xb",
			setup: func(p *policy.Policy) {
				p.Basic.SetMaxLeaf(0xb)
			},
			want: 15,
		},
		{
			name: "partial leaf 0xb",
			setup: func(p *policy.Policy) {
				p.Basic.SetMaxLeaf(0xb)
				p.Topo.Raw[0].C = 0x100
			},
			want: 16,
		},
		{
			name: "empty leaf 0xd",
			setup: func(p *policy.Policy) {
				p.Basic.SetMaxLeaf(0xd)
			},
			want: 18,
		},
		{
			name: "partial 0xd",
			setup: func(p *policy.Policy) {
				p.Basic.SetMaxLeaf(0xd)
				p.XState.SetXCR0(7)
			},
			want: 19,
		},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			p := &policy.Policy{}
			test.setup(p)

			leaves := make([]cpuid.Leaf, policy.MaxSerializedLeaves)

			n, err := p.SerializeCPUID(leaves)
			if err != nil {
				t.Fatalf("SerializeCPUID: %v", err)
			}

			if n != test.want {
				t.Errorf("SerializeCPUID wrote %d leaves, want %d", n, test.want)
			}

			for i := 1; i < n; i++ {
				a, b := leaves[i-1], leaves[i]
				if a.Leaf > b.Leaf || (a.Leaf == b.Leaf && a.Subleaf >= b.Subleaf) {
					t.Errorf("leaves %d and %d out of order: %v, %v", i-1, i, a, b)
				}
			}
		})
	}
}

func TestSerializeCPUIDCapacity(t *testing.T) {
	t.Parallel()

	p := &policy.Policy{}
	dst := make([]cpuid.Leaf, 3)

	n, err := p.SerializeCPUID(dst)

	var ce *policy.CapacityError
	if !errors.As(err, &ce) || !errors.Is(err, policy.ErrInsufficientCapacity) {
		t.Fatalf("SerializeCPUID: got %v, want *CapacityError", err)
	}

	if n != 4 || ce.Required != 4 || ce.Capacity != 3 {
		t.Errorf("got n=%d %+v, want 4 required", n, ce)
	}

	if diff := cmp.Diff(make([]cpuid.Leaf, 3), dst); diff != "" {
		t.Errorf("dst written on capacity failure (-want +got):\n%s", diff)
	}
}

func TestDeserializeCPUIDOutOfRange(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name string
		leaf cpuid.Leaf
	}{
		{name: "basic subleaf", leaf: cpuid.Leaf{Leaf: 0, Subleaf: 0}},
		{name: "hypervisor subleaf", leaf: cpuid.Leaf{Leaf: 0x40000000, Subleaf: 0}},
		{name: "hypervisor2 subleaf", leaf: cpuid.Leaf{Leaf: 0x40000100, Subleaf: 0}},
		{name: "extended subleaf", leaf: cpuid.Leaf{Leaf: 0x80000000, Subleaf: 0}},
		{name: "basic leaf", leaf: cpuid.Leaf{Leaf: policy.NrBasic, Subleaf: cpuid.NoSubleaf}},
		{name: "cache subleaf", leaf: cpuid.Leaf{Leaf: 0x4, Subleaf: policy.NrCache}},
		{name: "cache no subleaf", leaf: cpuid.Leaf{Leaf: 0x4, Subleaf: cpuid.NoSubleaf}},
		{name: "feat subleaf", leaf: cpuid.Leaf{Leaf: 0x7, Subleaf: policy.NrFeat}},
		{name: "topo subleaf", leaf: cpuid.Leaf{Leaf: 0xb, Subleaf: policy.NrTopo}},
		{name: "xstate subleaf", leaf: cpuid.Leaf{Leaf: 0xd, Subleaf: policy.NrXState}},
		{name: "extended leaf", leaf: cpuid.Leaf{Leaf: 0x80000000 | policy.NrExtd, Subleaf: cpuid.NoSubleaf}},
		{name: "unmodelled range", leaf: cpuid.Leaf{Leaf: 0xc0000000, Subleaf: cpuid.NoSubleaf}},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			leaves := []cpuid.Leaf{
				{Leaf: 1, Subleaf: cpuid.NoSubleaf, A: 0x1234},
				test.leaf,
			}

			for _, dst := range []*policy.Policy{{}, nil} {
				err := policy.DeserializeCPUID(dst, leaves)

				var le *policy.LeafError
				if !errors.As(err, &le) || !errors.Is(err, policy.ErrOutOfRange) {
					t.Fatalf("DeserializeCPUID: got %v, want out of range", err)
				}

				if le.Leaf != test.leaf.Leaf || le.Subleaf != test.leaf.Subleaf {
					t.Errorf("error names %08x:%08x, want %08x:%08x",
						le.Leaf, le.Subleaf, test.leaf.Leaf, test.leaf.Subleaf)
				}

				if dst != nil && !dst.Equal(&policy.Policy{}) {
					t.Errorf("destination modified by failed deserialization: %+v", dst.Basic.Raw[1])
				}
			}
		})
	}
}

func TestDeserializeCPUIDTooBig(t *testing.T) {
	t.Parallel()

	leaves := make([]cpuid.Leaf, policy.MaxSerializedLeaves+1)

	if err := policy.DeserializeCPUID(&policy.Policy{}, leaves); !errors.Is(err, policy.ErrTooBig) {
		t.Fatalf("DeserializeCPUID: got %v, want ErrTooBig", err)
	}
}

func TestDeserializeCPUIDPartial(t *testing.T) {
	t.Parallel()

	p := filled(t)
	want := *p
	want.Basic.Raw[1].C = 0

	err := policy.DeserializeCPUID(p, []cpuid.Leaf{{Leaf: 1, Subleaf: cpuid.NoSubleaf,
		A: want.Basic.Raw[1].A, B: want.Basic.Raw[1].B, D: want.Basic.Raw[1].D}})
	if err != nil {
		t.Fatalf("DeserializeCPUID: %v", err)
	}

	if diff := cmp.Diff(want, *p); diff != "" {
		t.Errorf("policy mismatch (-want +got):\n%s", diff)
	}
}

func TestCPUIDRoundTrip(t *testing.T) {
	t.Parallel()

	src := filled(t)
	src.HVLimit = 0x40000001

	got := &policy.Policy{}
	if err := policy.DeserializeCPUID(got, src.CPUIDLeaves()); err != nil {
		t.Fatalf("DeserializeCPUID: %v", err)
	}

	if diff := cmp.Diff(*src, *got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSerializeMSRs(t *testing.T) {
	t.Parallel()

	p := &policy.Policy{}

	dst := make([]msr.Entry, policy.MaxSerializedMSRs)

	n, err := p.SerializeMSRs(dst)
	if err != nil {
		t.Fatalf("SerializeMSRs: %v", err)
	}

	want := []msr.Entry{{Index: msr.PlatformInfo}, {Index: msr.ArchCapabilities}}
	if diff := cmp.Diff(want, dst[:n]); diff != "" {
		t.Errorf("SerializeMSRs mismatch (-want +got):\n%s", diff)
	}

	short := make([]msr.Entry, 1)

	n, err = p.SerializeMSRs(short)
	if !errors.Is(err, policy.ErrInsufficientCapacity) || n != policy.MaxSerializedMSRs {
		t.Errorf("SerializeMSRs(short) = %d, %v", n, err)
	}

	if short[0] != (msr.Entry{}) {
		t.Errorf("dst written on capacity failure: %v", short[0])
	}
}

func TestDeserializeMSRs(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name  string
		entry msr.Entry
		want  error
	}{
		{name: "bad msr index", entry: msr.Entry{Index: 0xdeadc0de}, want: policy.ErrOutOfRange},
		{name: "nonzero flags", entry: msr.Entry{Index: 0xce, Flags: 1}, want: policy.ErrInvalidArgument},
		{name: "truncated platform info", entry: msr.Entry{Index: 0xce, Value: ^uint64(0)}, want: policy.ErrOverflow},
		{name: "truncated arch caps", entry: msr.Entry{Index: 0x10a, Value: ^uint64(0)}, want: policy.ErrOverflow},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			p := &policy.Policy{}
			entries := []msr.Entry{{Index: msr.ArchCapabilities, Value: 0x1}, test.entry}

			err := policy.DeserializeMSRs(p, entries)

			var me *policy.MSRError
			if !errors.As(err, &me) || !errors.Is(err, test.want) {
				t.Fatalf("DeserializeMSRs: got %v, want %v", err, test.want)
			}

			if me.Index != test.entry.Index {
				t.Errorf("error names msr %#x, want %#x", me.Index, test.entry.Index)
			}

			if p.ArchCaps.Raw != 0 {
				t.Errorf("destination modified by failed deserialization")
			}
		})
	}
}

func TestMSRRoundTrip(t *testing.T) {
	t.Parallel()

	src := &policy.Policy{}
	src.PlatformInfo.SetCPUIDFaulting(true)
	src.ArchCaps.Raw = 0x2b

	got := &policy.Policy{}
	if err := policy.DeserializeMSRs(got, src.MSRs()); err != nil {
		t.Fatalf("DeserializeMSRs: %v", err)
	}

	if !got.PlatformInfo.CPUIDFaulting() || got.ArchCaps.Raw != 0x2b {
		t.Errorf("round trip = %+v, %+v", got.PlatformInfo, got.ArchCaps)
	}

	if err := policy.DeserializeMSRs(got, make([]msr.Entry, 3)); !errors.Is(err, policy.ErrTooBig) {
		t.Errorf("DeserializeMSRs(3 entries) = %v, want ErrTooBig", err)
	}
}

func markers(t *testing.T, p *policy.Policy) int {
	t.Helper()

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, p); err != nil {
		t.Fatalf("binary.Write: %v", err)
	}

	return bytes.Count(buf.Bytes(), []byte{0xc2})
}

func TestClearOutOfRange(t *testing.T) {
	t.Parallel()

	xstate := func(a uint32) func(p *policy.Policy) {
		return func(p *policy.Policy) {
			p.Basic.SetMaxLeaf(0xd)
			p.XState.Raw[0] = cpuid.Regs{A: a, B: 0xc2}
			p.XState.Raw[1].B = 0xc2
			p.XState.Raw[2].B = 0xc2
			p.XState.Raw[3].B = 0xc2
		}
	}

	for _, test := range []struct {
		name  string
		setup func(p *policy.Policy)
		want  int
	}{
		{
			name: "basic",
			setup: func(p *policy.Policy) {
				p.Basic.Raw[0].B = 0xc2
				p.Basic.Raw[1].A = 0xc2
			},
			want: 1,
		},
		{
			name: "cache",
			setup: func(p *policy.Policy) {
				p.Basic.SetMaxLeaf(4)
				p.Cache.Raw[0] = cpuid.Regs{A: 1, B: 0xc2}
				p.Cache.Raw[1].B = 0xc2
			},
			want: 1,
		},
		{
			name: "feat",
			setup: func(p *policy.Policy) {
				p.Basic.SetMaxLeaf(7)
				p.Feat.Raw[0].B = 0xc2
				p.Feat.Raw[1].B = 0xc2
			},
			want: 1,
		},
		{
			name: "topo",
			setup: func(p *policy.Policy) {
				p.Basic.SetMaxLeaf(0xb)
				p.Topo.Raw[0] = cpuid.Regs{B: 0xc2, C: 0x100}
				p.Topo.Raw[1].B = 0xc2
			},
			want: 1,
		},
		{name: "xstate x87", setup: xstate(1), want: 2},
		{name: "xstate sse", setup: xstate(2), want: 2},
		{name: "xstate avx", setup: xstate(7), want: 3},
		{
			name: "extd",
			setup: func(p *policy.Policy) {
				p.Extd.Raw[0].B = 0xc2
				p.Extd.Raw[1].A = 0xc2
			},
			want: 1,
		},
		{
			name: "below governing leaf",
			setup: func(p *policy.Policy) {
				p.Basic.SetMaxLeaf(3)
				p.Cache.Raw[0] = cpuid.Regs{A: 1, B: 0xc2}
				p.Feat.Raw[0].B = 0xc2
				p.Topo.Raw[0] = cpuid.Regs{B: 0xc2, C: 0x100}
				p.XState.Raw[0] = cpuid.Regs{A: 3, B: 0xc2}
			},
			want: 0,
		},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			p := &policy.Policy{}
			test.setup(p)

			p.ClearOutOfRange()

			if got := markers(t, p); got != test.want {
				t.Errorf("%d markers remain, want %d", got, test.want)
			}

			again := *p
			again.ClearOutOfRange()

			if !again.Equal(p) {
				t.Error("ClearOutOfRange is not idempotent")
			}
		})
	}
}

func TestCheckCompatibleSelf(t *testing.T) {
	t.Parallel()

	p := filled(t)
	p.PlatformInfo.SetCPUIDFaulting(true)

	if err := policy.CheckCompatible(p, p); err != nil {
		t.Fatalf("CheckCompatible(p, p): %v", err)
	}

	if got := policy.LocatorOf(nil); got != policy.NoLocator {
		t.Errorf("LocatorOf(nil) = %v", got)
	}
}

func TestCheckCompatible(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name  string
		host  func(p *policy.Policy)
		guest func(p *policy.Policy)
		want  policy.Locator
	}{
		{
			name:  "basic max leaf",
			host:  func(*policy.Policy) {},
			guest: func(p *policy.Policy) { p.Basic.SetMaxLeaf(1) },
			want:  policy.Locator{Leaf: 0, Subleaf: policy.NA, MSR: policy.NA},
		},
		{
			name:  "feat max subleaf",
			host:  func(p *policy.Policy) { p.Basic.SetMaxLeaf(7) },
			guest: func(p *policy.Policy) { p.Basic.SetMaxLeaf(7); p.Feat.SetMaxSubleaf(1) },
			want:  policy.Locator{Leaf: 7, Subleaf: 0, MSR: policy.NA},
		},
		{
			name:  "extd max leaf",
			host:  func(*policy.Policy) {},
			guest: func(p *policy.Policy) { p.Extd.SetMaxLeaf(1) },
			want:  policy.Locator{Leaf: 0x80000000, Subleaf: policy.NA, MSR: policy.NA},
		},
		{
			name:  "platform info",
			host:  func(*policy.Policy) {},
			guest: func(p *policy.Policy) { p.PlatformInfo.SetCPUIDFaulting(true) },
			want:  policy.Locator{Leaf: policy.NA, Subleaf: policy.NA, MSR: 0xce},
		},
		{
			name:  "basic checked first",
			host:  func(*policy.Policy) {},
			guest: func(p *policy.Policy) { p.Basic.SetMaxLeaf(1); p.Extd.SetMaxLeaf(1) },
			want:  policy.Locator{Leaf: 0, Subleaf: policy.NA, MSR: policy.NA},
		},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			host, guest := &policy.Policy{}, &policy.Policy{}
			test.host(host)
			test.guest(guest)

			err := policy.CheckCompatible(host, guest)
			if !errors.Is(err, policy.ErrIncompatible) {
				t.Fatalf("CheckCompatible: got %v, want ErrIncompatible", err)
			}

			if got := policy.LocatorOf(err); got != test.want {
				t.Errorf("locator = %v, want %v", got, test.want)
			}
		})
	}
}

func TestCheckCompatibleFaulting(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name  string
		guest bool
	}{
		{name: "host has, guest does not", guest: false},
		{name: "both have", guest: true},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			host, guest := &policy.Policy{}, &policy.Policy{}
			host.PlatformInfo.SetCPUIDFaulting(true)
			guest.PlatformInfo.SetCPUIDFaulting(test.guest)

			if err := policy.CheckCompatible(host, guest); err != nil {
				t.Fatalf("CheckCompatible: %v", err)
			}
		})
	}
}

func TestAcceptable(t *testing.T) {
	t.Parallel()

	in := []cpuid.Leaf{
		{Leaf: 0, Subleaf: cpuid.NoSubleaf, A: 0xd},
		{Leaf: 0x4, Subleaf: 7},
		{Leaf: 0x7, Subleaf: 0},
		{Leaf: 0x12, Subleaf: cpuid.NoSubleaf},
		{Leaf: 0x80000001, Subleaf: cpuid.NoSubleaf},
	}

	accepted, rejected := policy.Acceptable(in)

	if diff := cmp.Diff([]cpuid.Leaf{in[0], in[2], in[4]}, accepted); diff != "" {
		t.Errorf("accepted mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]cpuid.Leaf{in[1], in[3]}, rejected); diff != "" {
		t.Errorf("rejected mismatch (-want +got):\n%s", diff)
	}
}

func TestMSRFromHardware(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name  string
		index uint32
		value uint64
		want  uint64
	}{
		{name: "faulting", index: msr.PlatformInfo, value: msr.PlatformInfoCPUIDFaulting | 0xff00, want: 1 << 31},
		{name: "no faulting", index: msr.PlatformInfo, value: 1 << 31, want: 0},
		{name: "arch caps", index: msr.ArchCapabilities, value: 0x1_0000_002b, want: 0x2b},
		{name: "unknown", index: 0xdeadc0de, value: 1, want: 0},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			if got := policy.MSRFromHardware(test.index, test.value); got != test.want {
				t.Errorf("MSRFromHardware(%#x, %#x) = %#x, want %#x", test.index, test.value, got, test.want)
			}
		})
	}
}

// randomPolicy fills every field of a policy with noise. Family types and
// xstate masks are thinned so terminators and sparse masks show up.
func randomPolicy(rng *rand.Rand) *policy.Policy {
	p := &policy.Policy{}

	fill := func(raw []cpuid.Regs) {
		for i := range raw {
			raw[i] = cpuid.Regs{A: rng.Uint32(), B: rng.Uint32(), C: rng.Uint32(), D: rng.Uint32()}
		}
	}

	fill(p.Basic.Raw[:])
	fill(p.Cache.Raw[:])
	fill(p.Feat.Raw[:])
	fill(p.Topo.Raw[:])
	fill(p.XState.Raw[:])
	fill(p.Extd.Raw[:])

	p.Basic.SetMaxLeaf(uint32(rng.Intn(0x10)))
	p.Feat.SetMaxSubleaf(uint32(rng.Intn(4)))
	p.Extd.SetMaxLeaf(cpuid.LeafExtended | uint32(rng.Intn(0x24)))

	for i := range p.Cache.Raw {
		if rng.Intn(3) == 0 {
			p.Cache.Raw[i].A &^= 0x1f
		}
	}

	for i := range p.Topo.Raw {
		if rng.Intn(3) == 0 {
			p.Topo.Raw[i].C &^= 0xff00
		}
	}

	p.XState.SetXCR0(rng.Uint64() & rng.Uint64() & rng.Uint64() & (1<<63 - 1))
	p.XState.SetXSS(rng.Uint64() & rng.Uint64() & rng.Uint64() & (1<<63 - 1))

	p.HVLimit = rng.Uint32()
	p.HV2Limit = rng.Uint32()
	p.PlatformInfo.Raw = rng.Uint32()
	p.ArchCaps.Raw = rng.Uint32()

	return p
}

func TestRandomPolicies(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		p := randomPolicy(rng)
		p.ClearOutOfRange()

		again := *p
		again.ClearOutOfRange()

		if diff := cmp.Diff(*p, again); diff != "" {
			t.Fatalf("policy %d: ClearOutOfRange not idempotent (-once +twice):\n%s", i, diff)
		}

		leaves := p.CPUIDLeaves()
		if !sort.SliceIsSorted(leaves, func(a, b int) bool {
			if leaves[a].Leaf != leaves[b].Leaf {
				return leaves[a].Leaf < leaves[b].Leaf
			}

			return leaves[a].Subleaf < leaves[b].Subleaf
		}) {
			t.Fatalf("policy %d: leaves out of order: %v", i, leaves)
		}

		got := &policy.Policy{}
		if err := policy.DeserializeCPUID(got, leaves); err != nil {
			t.Fatalf("policy %d: DeserializeCPUID: %v", i, err)
		}

		if err := policy.DeserializeMSRs(got, p.MSRs()); err != nil {
			t.Fatalf("policy %d: DeserializeMSRs: %v", i, err)
		}

		if diff := cmp.Diff(*p, *got); diff != "" {
			t.Fatalf("policy %d: round trip mismatch (-want +got):\n%s", i, diff)
		}

		if err := policy.CheckCompatible(p, p); err != nil {
			t.Fatalf("policy %d: incompatible with itself: %v", i, err)
		}
	}
}
