package flag

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCPUs parses a CPU list such as "0-3,6,8-9" in the format of
// /sys/devices/system/cpu/online. An empty string is an empty list.
func ParseCPUs(s string) ([]int, error) {
	var cpus []int

	if strings.TrimSpace(s) == "" {
		return cpus, nil
	}

	for _, part := range strings.Split(s, ",") {
		first, last, isRange := strings.Cut(strings.TrimSpace(part), "-")

		lo, err := strconv.ParseUint(first, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%q:can't parse as cpu list:%w", s, strconv.ErrSyntax)
		}

		hi := lo

		if isRange {
			if hi, err = strconv.ParseUint(last, 10, 16); err != nil || hi < lo {
				return nil, fmt.Errorf("%q:can't parse as cpu list:%w", s, strconv.ErrSyntax)
			}
		}

		for c := lo; c <= hi; c++ {
			cpus = append(cpus, int(c))
		}
	}

	return cpus, nil
}
