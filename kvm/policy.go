package kvm

import (
	"fmt"

	"github.com/bobuhiro11/cpupolicy/logging"
	"github.com/bobuhiro11/cpupolicy/policy"
	"github.com/sirupsen/logrus"
)

// HostPolicy builds the policy KVM can offer guests. Leaves the policy
// cannot hold are dropped, and a KVM without feature MSR support yields zero
// MSR-backed fields.
func HostPolicy(kvmFd uintptr) (*policy.Policy, error) {
	leaves, err := SupportedLeaves(kvmFd)
	if err != nil {
		return nil, fmt.Errorf("KVM_GET_SUPPORTED_CPUID: %w", err)
	}

	accepted, rejected := policy.Acceptable(leaves)
	for _, l := range rejected {
		logrus.WithFields(logrus.Fields{
			logging.FieldLeaf:    logging.Hex(l.Leaf),
			logging.FieldSubleaf: logging.Hex(l.Subleaf),
		}).Debug("kvm: leaf not representable in a policy")
	}

	p := &policy.Policy{}
	if err := policy.DeserializeCPUID(p, accepted); err != nil {
		return nil, err
	}

	msrs, err := FeatureMSRs(kvmFd)
	if err != nil {
		logrus.WithError(err).Warn("kvm: msr-backed capabilities left clear")
	} else if err := policy.DeserializeMSRs(p, msrs); err != nil {
		return nil, err
	}

	p.ClearOutOfRange()

	return p, nil
}
