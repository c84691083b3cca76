// Package host takes the CPU policy of the machine the process runs on.
//
// The boot-time policy is computed once and shared read-only; per-CPU
// snapshots are taken on demand to confirm the machine is homogeneous.
package host

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/bobuhiro11/cpupolicy/config"
	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/logging"
	"github.com/bobuhiro11/cpupolicy/msr"
	"github.com/bobuhiro11/cpupolicy/policy"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrNoCPUs is returned when there is no CPU to take a policy from.
var ErrNoCPUs = errors.New("no cpus to snapshot")

// MSRReader reads one MSR of one CPU.
type MSRReader interface {
	Read(cpu int, index uint32) (uint64, error)
}

// Host snapshots CPU policies.
type Host struct {
	// CPUID returns the CPUID function to fill a policy of cpu with. It is
	// called on an OS thread already bound to cpu.
	CPUID func(cpu int) cpuid.Function

	// Pin binds the calling OS thread to cpu and returns a function undoing
	// the binding.
	Pin func(cpu int) (func(), error)

	// MSRs reads MSR-backed capabilities. Nil leaves them clear.
	MSRs MSRReader

	// CPUs are the CPUs to take policies from. Empty means every CPU the
	// process may run on.
	CPUs []int

	once   sync.Once
	policy *policy.Policy
	err    error
}

// New returns a Host reading the local processor as configured by c.
func New(c *config.Config) *Host {
	h := &Host{
		CPUID: func(int) cpuid.Function { return cpuid.Native{} },
		Pin:   pin,
		CPUs:  c.Host.CPUs,
	}

	if c.Host.ReadMSRs {
		h.MSRs = msr.NewReader(c.MSRDevice)
	}

	return h
}

func (h *Host) cpus() ([]int, error) {
	if len(h.CPUs) > 0 {
		return h.CPUs, nil
	}

	cpus, err := AllowedCPUs()
	if err != nil {
		return nil, err
	}

	if len(cpus) == 0 {
		return nil, ErrNoCPUs
	}

	return cpus, nil
}

// Policy returns the host policy, taken on the first configured CPU the
// first time it is called. The result is shared and must not be modified.
func (h *Host) Policy() (*policy.Policy, error) {
	h.once.Do(func() {
		cpus, err := h.cpus()
		if err != nil {
			h.err = err

			return
		}

		h.policy, h.err = h.fill(cpus[0])
		if h.err == nil {
			logrus.WithFields(logrus.Fields{
				logging.FieldCPU: cpus[0],
				"vendor":         h.policy.Vendor(),
				"leaves":         h.policy.NumLeaves(),
			}).Debug("host: policy taken")
		}
	})

	return h.policy, h.err
}

// fill takes the policy of cpu.
func (h *Host) fill(cpu int) (*policy.Policy, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	restore, err := h.Pin(cpu)
	if err != nil {
		return nil, fmt.Errorf("bind to cpu%d: %w", cpu, err)
	}

	defer restore()

	p := &policy.Policy{}
	p.Fill(h.CPUID(cpu))
	h.readMSRs(cpu, p)

	return p, nil
}

// readMSRs fills the MSR-backed fields of p. Read failures are logged and
// leave the field clear.
func (h *Host) readMSRs(cpu int, p *policy.Policy) {
	if h.MSRs == nil {
		return
	}

	read := func(index uint32) (uint64, bool) {
		v, err := h.MSRs.Read(cpu, index)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				logging.FieldCPU: cpu,
				logging.FieldMSR: logging.Hex(index),
			}).WithError(err).Warn("host: msr unreadable")

			return 0, false
		}

		return v, true
	}

	if v, ok := read(msr.PlatformInfo); ok {
		p.PlatformInfo.Raw = uint32(policy.MSRFromHardware(msr.PlatformInfo, v))
	}

	if cpuid.Enabled(cpuid.ARCH_CAPABILITIES, p.Feat.Raw[0].D) {
		if v, ok := read(msr.ArchCapabilities); ok {
			p.ArchCaps.Raw = uint32(policy.MSRFromHardware(msr.ArchCapabilities, v))
		}
	}
}

// Snapshot takes the policy of every CPU in cpus concurrently. An empty
// cpus means the configured CPUs. Results are in the order of cpus.
func (h *Host) Snapshot(ctx context.Context, cpus []int) ([]*policy.Policy, error) {
	if len(cpus) == 0 {
		var err error
		if cpus, err = h.cpus(); err != nil {
			return nil, err
		}
	}

	policies := make([]*policy.Policy, len(cpus))

	g, ctx := errgroup.WithContext(ctx)

	for i, cpu := range cpus {
		i, cpu := i, cpu
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			p, err := h.fill(cpu)
			if err != nil {
				return err
			}

			policies[i] = p

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return policies, nil
}

// Mismatch is a CPU that cannot run guests built for the boot policy.
type Mismatch struct {
	CPU     int
	Locator policy.Locator
	Err     error
}

func (m Mismatch) String() string {
	return fmt.Sprintf("cpu%d: %v", m.CPU, m.Err)
}

// Verify snapshots cpus and reports every CPU unable to honour boot.
func (h *Host) Verify(ctx context.Context, boot *policy.Policy, cpus []int) ([]Mismatch, error) {
	if len(cpus) == 0 {
		var err error
		if cpus, err = h.cpus(); err != nil {
			return nil, err
		}
	}

	policies, err := h.Snapshot(ctx, cpus)
	if err != nil {
		return nil, err
	}

	var mismatches []Mismatch

	for i, p := range policies {
		if err := policy.CheckCompatible(p, boot); err != nil {
			logrus.WithField(logging.FieldCPU, cpus[i]).WithError(err).Warn("host: cpu differs from boot cpu")

			mismatches = append(mismatches, Mismatch{CPU: cpus[i], Locator: policy.LocatorOf(err), Err: err})
		}
	}

	return mismatches, nil
}
