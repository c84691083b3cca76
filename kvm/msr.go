package kvm

import (
	"fmt"
	"unsafe"

	"github.com/bobuhiro11/cpupolicy/msr"
	"github.com/bobuhiro11/cpupolicy/policy"
)

const maxMSRs = 100

// MSRList is the index list returned by GetMSRFeatureIndexList.
type MSRList struct {
	NMSRs    uint32
	Indicies [maxMSRs]uint32
}

// MSREntry is one entry of a KVM_GET_MSRS request.
type MSREntry struct {
	Index    uint32
	Reserved uint32
	Data     uint64
}

// MSRs is the argument of a KVM_GET_MSRS request.
type MSRs struct {
	NMSRs   uint32
	Pad     uint32
	Entries [maxMSRs]MSREntry
}

// GetMSRFeatureIndexList returns the list of MSRs that can be passed to the KVM_GET_MSRS system ioctl.
// This lets userspace probe host capabilities and processor features that are exposed via MSRs
// (e.g., VMX capabilities). This list also varies by kvm version and host processor, but does not change otherwise.
func GetMSRFeatureIndexList(kvmFd uintptr, list *MSRList) error {
	list.NMSRs = maxMSRs

	_, err := ioctl(kvmFd, uintptr(kvmGetMSRFeatureIndexList), uintptr(unsafe.Pointer(list)))

	return err
}

// GetMSRs reads the feature MSRs named in m. It returns the number of
// entries read.
func GetMSRs(kvmFd uintptr, m *MSRs) (int, error) {
	n, err := ioctl(kvmFd, uintptr(kvmGetMSRs), uintptr(unsafe.Pointer(m)))

	return int(n), err
}

// FeatureMSRs returns the allow-listed MSRs KVM reports as feature MSRs,
// with their values converted to what a policy carries.
func FeatureMSRs(kvmFd uintptr) ([]msr.Entry, error) {
	ok, err := CheckExtension(kvmFd, CapGETMSRFeatures)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFeatureMSRs, err)
	}

	if ok == 0 {
		return nil, ErrNoFeatureMSRs
	}

	list := &MSRList{}
	if err := GetMSRFeatureIndexList(kvmFd, list); err != nil {
		return nil, fmt.Errorf("KVM_GET_MSR_FEATURE_INDEX_LIST: %w", err)
	}

	req := &MSRs{}

	for _, index := range list.Indicies[:min(int(list.NMSRs), maxMSRs)] {
		if _, ok := msr.Lookup(index); !ok {
			continue
		}

		req.Entries[req.NMSRs].Index = index
		req.NMSRs++
	}

	if req.NMSRs == 0 {
		return nil, nil
	}

	n, err := GetMSRs(kvmFd, req)
	if err != nil {
		return nil, fmt.Errorf("KVM_GET_MSRS: %w", err)
	}

	return policyEntries(req.Entries[:min(n, int(req.NMSRs))]), nil
}

// policyEntries converts KVM_GET_MSRS results of allow-listed MSRs into
// policy wire entries.
func policyEntries(kvmEntries []MSREntry) []msr.Entry {
	entries := make([]msr.Entry, 0, len(kvmEntries))

	for _, e := range kvmEntries {
		entries = append(entries, msr.Entry{Index: e.Index, Value: policy.MSRFromHardware(e.Index, e.Data)})
	}

	return entries
}
