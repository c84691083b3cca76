// Package kvm reads the CPUID leaves and feature MSRs the running KVM module
// can offer a guest, and turns them into a host policy.
package kvm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	kvmGetAPIVersion          = 0xae00
	kvmCheckExtension         = 0xae03
	kvmGetSupportedCPUID      = 0xc008ae05
	kvmGetMSRFeatureIndexList = 0xc004ae0a
	kvmGetMSRs                = 0xc008ae88

	// APIVersion is the only KVM API version ever released.
	APIVersion = 12
)

// DefaultDevice is the KVM system device.
const DefaultDevice = "/dev/kvm"

// ioctl issues a KVM ioctl, retrying when interrupted by a signal.
func ioctl(fd, op, arg uintptr) (uintptr, error) {
	for {
		res, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, op, arg)
		if errno == unix.EINTR {
			continue
		}

		if errno != 0 {
			return res, errno
		}

		return res, nil
	}
}

// GetAPIVersion returns the KVM API version.
func GetAPIVersion(kvmFd uintptr) (uintptr, error) {
	return ioctl(kvmFd, uintptr(kvmGetAPIVersion), uintptr(0))
}

// CheckExtension returns a positive value when cap is available.
func CheckExtension(kvmFd uintptr, c Capability) (uintptr, error) {
	return ioctl(kvmFd, uintptr(kvmCheckExtension), uintptr(c))
}

// Open opens the KVM system device and checks its API version.
func Open(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	v, err := GetAPIVersion(f.Fd())
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("KVM_GET_API_VERSION: %w", err)
	}

	if v != APIVersion {
		f.Close()

		return nil, fmt.Errorf("%w: %d", ErrAPIVersion, v)
	}

	return f, nil
}
