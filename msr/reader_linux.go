//go:build linux

package msr

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Reader reads MSRs through the Linux msr driver.
type Reader struct {
	device string
}

// NewReader returns a Reader for the device path pattern; an empty pattern
// selects DefaultDevice.
func NewReader(device string) *Reader {
	if device == "" {
		device = DefaultDevice
	}

	return &Reader{device: device}
}

// Read returns MSR index of cpu.
func (r *Reader) Read(cpu int, index uint32) (uint64, error) {
	path := fmt.Sprintf(r.device, cpu)

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}

	defer unix.Close(fd)

	buf := make([]byte, 8)

	n, err := unix.Pread(fd, buf, int64(index))
	if err != nil {
		return 0, fmt.Errorf("read msr %#x on cpu%d: %w", index, cpu, err)
	}

	if n != len(buf) {
		return 0, fmt.Errorf("%w: msr %#x on cpu%d: %d bytes", errShortRead, index, cpu, n)
	}

	return binary.LittleEndian.Uint64(buf), nil
}
