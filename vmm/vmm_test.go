package vmm_test

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/migration"
	"github.com/bobuhiro11/cpupolicy/msr"
	"github.com/bobuhiro11/cpupolicy/policy"
	"github.com/bobuhiro11/cpupolicy/vmm"
	"github.com/google/go-cmp/cmp"
)

func hostPolicy(faulting bool) *policy.Policy {
	p := &policy.Policy{}
	p.Basic.SetMaxLeaf(0xd)
	p.Basic.SetVendorIdent([12]byte{'A', 'u', 't', 'h', 'e', 'n', 't', 'i', 'c', 'A', 'M', 'D'})
	p.Basic.Raw[1].A = 0x00a20f12
	p.Feat.SetMaxSubleaf(1)
	p.XState.SetXCR0(7)
	p.Extd.SetMaxLeaf(0x80000021)
	p.PlatformInfo.SetCPUIDFaulting(faulting)

	return p
}

func guestRecords(p *policy.Policy) ([]cpuid.Leaf, []msr.Entry) {
	return p.CPUIDLeaves(), p.MSRs()
}

func TestCreateDomain(t *testing.T) {
	t.Parallel()

	v := vmm.New(hostPolicy(true))

	guest := hostPolicy(false)
	guest.Basic.SetMaxLeaf(7)
	guest.XState.SetXCR0(0)

	leaves, msrs := guestRecords(guest)

	d, err := v.CreateDomain("guest0", leaves, msrs)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(*guest, *d.Policy); diff != "" {
		t.Errorf("domain policy mismatch (-want +got):\n%s", diff)
	}

	if _, err := v.CreateDomain("guest0", leaves, msrs); !errors.Is(err, vmm.ErrDomainExists) {
		t.Errorf("duplicate CreateDomain = %v, want ErrDomainExists", err)
	}

	if _, err := v.CreateDomain("", leaves, msrs); err == nil {
		t.Error("CreateDomain with empty name succeeded")
	}

	if diff := cmp.Diff([]string{"guest0"}, v.Domains()); diff != "" {
		t.Errorf("domains mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateDomainSanitizes(t *testing.T) {
	t.Parallel()

	v := vmm.New(hostPolicy(false))

	leaves := []cpuid.Leaf{
		{Leaf: 0, Subleaf: cpuid.NoSubleaf, A: 1},
		{Leaf: 1, Subleaf: cpuid.NoSubleaf, A: 0x1234},
		{Leaf: 2, Subleaf: cpuid.NoSubleaf, A: 0xc2c2c2c2},
	}

	d, err := v.CreateDomain("guest0", leaves, nil)
	if err != nil {
		t.Fatal(err)
	}

	if d.Policy.Basic.Raw[2].A != 0 {
		t.Errorf("leaf 2 beyond max leaf kept: %#x", d.Policy.Basic.Raw[2].A)
	}

	if d.Policy.Basic.RawFMS() != 0x1234 {
		t.Errorf("leaf 1 lost: %#x", d.Policy.Basic.RawFMS())
	}
}

func TestCreateDomainRefused(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name   string
		leaves []cpuid.Leaf
		msrs   []msr.Entry
		want   error
		loc    policy.Locator
	}{
		{
			name:   "bad leaf",
			leaves: []cpuid.Leaf{{Leaf: 0x4, Subleaf: policy.NrCache}},
			want:   policy.ErrOutOfRange,
			loc:    policy.NoLocator,
		},
		{
			name: "bad msr",
			msrs: []msr.Entry{{Index: msr.ArchCapabilities, Value: ^uint64(0)}},
			want: policy.ErrOverflow,
			loc:  policy.NoLocator,
		},
		{
			name:   "basic max leaf",
			leaves: []cpuid.Leaf{{Leaf: 0, Subleaf: cpuid.NoSubleaf, A: 0xe}},
			want:   policy.ErrIncompatible,
			loc:    policy.Locator{Leaf: 0, Subleaf: policy.NA, MSR: policy.NA},
		},
		{
			name: "cpuid faulting",
			msrs: []msr.Entry{{Index: msr.PlatformInfo, Value: 1 << 31}},
			want: policy.ErrIncompatible,
			loc:  policy.Locator{Leaf: policy.NA, Subleaf: policy.NA, MSR: msr.PlatformInfo},
		},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			v := vmm.New(hostPolicy(false))

			_, err := v.CreateDomain("guest0", test.leaves, test.msrs)
			if !errors.Is(err, test.want) {
				t.Fatalf("CreateDomain = %v, want %v", err, test.want)
			}

			if got := policy.LocatorOf(err); got != test.loc {
				t.Errorf("locator = %v, want %v", got, test.loc)
			}

			if len(v.Domains()) != 0 {
				t.Errorf("refused domain registered: %v", v.Domains())
			}
		})
	}
}

func TestCreateDomainConcurrent(t *testing.T) {
	t.Parallel()

	v := vmm.New(hostPolicy(true))
	leaves, msrs := guestRecords(hostPolicy(true))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := v.CreateDomain("guest0", leaves, msrs); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if created != 1 {
		t.Fatalf("%d concurrent creations succeeded, want 1", created)
	}
}

func TestDestroy(t *testing.T) {
	t.Parallel()

	v := vmm.New(hostPolicy(true))

	if err := v.Destroy("guest0"); !errors.Is(err, vmm.ErrNoDomain) {
		t.Fatalf("Destroy = %v, want ErrNoDomain", err)
	}
}

func migrate(t *testing.T, src, dst *vmm.VMM, name string) (*vmm.Domain, error, error) {
	t.Helper()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	type result struct {
		d   *vmm.Domain
		err error
	}

	done := make(chan result, 1)

	go func() {
		d, err := dst.Incoming(b, "")
		done <- result{d, err}
	}()

	srcErr := src.MigrateTo(a, name)
	r := <-done

	return r.d, r.err, srcErr
}

func TestMigration(t *testing.T) {
	t.Parallel()

	src := vmm.New(hostPolicy(true))
	dst := vmm.New(hostPolicy(true))

	guest := hostPolicy(true)
	leaves, msrs := guestRecords(guest)

	if _, err := src.CreateDomain("guest0", leaves, msrs); err != nil {
		t.Fatal(err)
	}

	d, dstErr, srcErr := migrate(t, src, dst, "guest0")
	if srcErr != nil || dstErr != nil {
		t.Fatalf("migration failed: source %v, destination %v", srcErr, dstErr)
	}

	if d.Name != "guest0" || !d.Policy.Equal(guest) {
		t.Errorf("destination domain %q differs from source", d.Name)
	}

	if len(src.Domains()) != 0 {
		t.Errorf("source still has %v", src.Domains())
	}
}

func TestMigrationRejected(t *testing.T) {
	t.Parallel()

	src := vmm.New(hostPolicy(true))
	dst := vmm.New(hostPolicy(false))

	leaves, msrs := guestRecords(hostPolicy(true))

	if _, err := src.CreateDomain("guest0", leaves, msrs); err != nil {
		t.Fatal(err)
	}

	_, dstErr, srcErr := migrate(t, src, dst, "guest0")

	if !errors.Is(dstErr, policy.ErrIncompatible) {
		t.Errorf("destination error = %v, want ErrIncompatible", dstErr)
	}

	var rej *migration.Rejection
	if !errors.As(srcErr, &rej) {
		t.Fatalf("source error = %v, want *migration.Rejection", srcErr)
	}

	want := policy.Locator{Leaf: policy.NA, Subleaf: policy.NA, MSR: msr.PlatformInfo}
	if rej.Locator() != want {
		t.Errorf("rejection locator = %v, want %v", rej.Locator(), want)
	}

	if diff := cmp.Diff([]string{"guest0"}, src.Domains()); diff != "" {
		t.Errorf("source domains mismatch (-want +got):\n%s", diff)
	}

	if len(dst.Domains()) != 0 {
		t.Errorf("destination registered %v", dst.Domains())
	}
}

func TestMigrateUnknownDomain(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	if err := vmm.New(hostPolicy(true)).MigrateTo(a, "nope"); !errors.Is(err, vmm.ErrNoDomain) {
		t.Fatalf("MigrateTo = %v, want ErrNoDomain", err)
	}
}
