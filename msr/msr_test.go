package msr_test

import (
	"testing"

	"github.com/bobuhiro11/cpupolicy/msr"
	"github.com/google/go-cmp/cmp"
)

func TestSpec(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name  string
		spec  msr.Spec
		value uint64
		fits  bool
	}{
		{name: "32 bit max", spec: msr.Spec{Width: 32}, value: 0xffffffff, fits: true},
		{name: "32 bit overflow", spec: msr.Spec{Width: 32}, value: 1 << 32, fits: false},
		{name: "64 bit", spec: msr.Spec{Width: 64}, value: ^uint64(0), fits: true},
		{name: "zero width", spec: msr.Spec{}, value: 1, fits: false},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			if got := test.spec.Fits(test.value); got != test.fits {
				t.Errorf("Fits(%#x) = %t, want %t", test.value, got, test.fits)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	for _, index := range []uint32{msr.PlatformInfo, msr.ArchCapabilities} {
		s, ok := msr.Lookup(index)
		if !ok || s.Index != index {
			t.Errorf("Lookup(%#x) = %v, %t", index, s, ok)
		}
	}

	if _, ok := msr.Lookup(0xdeadc0de); ok {
		t.Error("Lookup(0xdeadc0de) found an entry")
	}

	list := msr.AllowList()
	list[0].Name = "clobbered"

	want := []uint32{msr.PlatformInfo, msr.ArchCapabilities}

	var got []uint32
	for _, s := range msr.AllowList() {
		got = append(got, s.Index)

		if s.Name == "clobbered" {
			t.Error("AllowList shares its backing array")
		}
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AllowList mismatch (-want +got):\n%s", diff)
	}
}
