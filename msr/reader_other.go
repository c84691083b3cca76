//go:build !linux

package msr

// Reader reads MSRs of the host. Only Linux has an msr driver.
type Reader struct{}

// NewReader returns a Reader; device is ignored.
func NewReader(device string) *Reader {
	return &Reader{}
}

// Read always fails with ErrUnsupported.
func (r *Reader) Read(cpu int, index uint32) (uint64, error) {
	return 0, ErrUnsupported
}
