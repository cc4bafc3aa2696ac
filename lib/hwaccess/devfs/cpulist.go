// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devfs

import (
	"fmt"
	"strconv"
	"strings"
)

// parseCPUList parses the kernel's cpulist format ("0-3,8,10-11") into
// ascending CPU numbers.
func parseCPUList(list string) ([]int, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	var cpus []int
	for _, part := range strings.Split(list, ",") {
		low, high, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(low)
		if err != nil || first < 0 {
			return nil, fmt.Errorf("cpu list %q: bad entry %q", list, part)
		}
		last := first
		if isRange {
			last, err = strconv.Atoi(high)
			if err != nil || last < first {
				return nil, fmt.Errorf("cpu list %q: bad range %q", list, part)
			}
		}
		if len(cpus) > 0 && first <= cpus[len(cpus)-1] {
			return nil, fmt.Errorf("cpu list %q: entries out of order", list)
		}
		for cpu := first; cpu <= last; cpu++ {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}
