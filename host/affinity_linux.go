//go:build linux

package host

import "golang.org/x/sys/unix"

// AllowedCPUs returns the CPUs the calling thread may run on.
func AllowedCPUs() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}

	cpus := make([]int, 0, set.Count())

	for cpu := 0; len(cpus) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}

	return cpus, nil
}

// pin binds the calling thread to cpu. The thread must be locked.
func pin(cpu int) (func(), error) {
	var old unix.CPUSet
	if err := unix.SchedGetaffinity(0, &old); err != nil {
		return nil, err
	}

	var set unix.CPUSet

	set.Set(cpu)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return nil, err
	}

	return func() { _ = unix.SchedSetaffinity(0, &old) }, nil
}
