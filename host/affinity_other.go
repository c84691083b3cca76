//go:build !linux

package host

import "runtime"

// AllowedCPUs returns every CPU; binding is not supported here.
func AllowedCPUs() ([]int, error) {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}

	return cpus, nil
}

func pin(int) (func(), error) {
	return func() {}, nil
}
