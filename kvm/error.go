package kvm

import (
	"errors"
	"fmt"
)

var (
	// ErrAPIVersion is a KVM module speaking an API this package does not.
	ErrAPIVersion = errors.New("unexpected kvm api version")

	// ErrNoFeatureMSRs is a KVM module without KVM_CAP_GET_MSR_FEATURES.
	ErrNoFeatureMSRs = errors.New("kvm cannot report feature msrs")
)

// Capability is a KVM extension queried with CheckExtension.
type Capability uint

const (
	CapEXTCPUID        Capability = 7
	CapXSave           Capability = 55
	CapXCRS            Capability = 56
	CapEXTEmulCPUID    Capability = 95
	CapGETMSRFeatures  Capability = 153
	CapX86UserSpaceMSR Capability = 188
	CapX86MSRFilter    Capability = 189
)

func (c Capability) String() string {
	switch c {
	case CapEXTCPUID:
		return "CapEXTCPUID"
	case CapXSave:
		return "CapXSave"
	case CapXCRS:
		return "CapXCRS"
	case CapEXTEmulCPUID:
		return "CapEXTEmulCPUID"
	case CapGETMSRFeatures:
		return "CapGETMSRFeatures"
	case CapX86UserSpaceMSR:
		return "CapX86UserSpaceMSR"
	case CapX86MSRFilter:
		return "CapX86MSRFilter"
	}

	return fmt.Sprintf("Capability(%d)", uint(c))
}

// PolicyCaps are the extensions a policy built from KVM depends on.
//
//nolint:gochecknoglobals
var PolicyCaps = []Capability{
	CapEXTCPUID,
	CapXSave,
	CapXCRS,
	CapEXTEmulCPUID,
	CapGETMSRFeatures,
	CapX86UserSpaceMSR,
	CapX86MSRFilter,
}
