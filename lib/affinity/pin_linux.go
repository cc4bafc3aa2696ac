// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package affinity

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/cputel/lib/hwaccess"
)

// cpuSetSize is the number of processors a unix.CPUSet can hold
// (CPU_SETSIZE); golang.org/x/sys/unix does not export it.
const cpuSetSize = int(unsafe.Sizeof(unix.CPUSet{})) * 8

// OS returns the Pinner backed by sched_setaffinity(2).
func OS() Pinner { return osPinner{} }

type osPinner struct{}

// Pin locks the goroutine to its OS thread and restricts that thread to
// cpu. The returned release restores the saved mask and unlocks.
func (osPinner) Pin(cpu int) (func(), error) {
	if cpu < 0 || cpu >= cpuSetSize {
		return nil, fmt.Errorf("pin to cpu %d: %w", cpu, hwaccess.ErrUnavailable)
	}

	runtime.LockOSThread()

	var previous unix.CPUSet
	if err := unix.SchedGetaffinity(0, &previous); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("reading affinity mask: %w: %w", hwaccess.ErrUnavailable, err)
	}

	var target unix.CPUSet
	target.Set(cpu)
	if err := unix.SchedSetaffinity(0, &target); err != nil {
		// The kernel leaves the mask unchanged on failure, but restore
		// anyway so the guarantee does not depend on that.
		unix.SchedSetaffinity(0, &previous)
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("pin to cpu %d: %w: %w", cpu, hwaccess.ErrUnavailable, err)
	}

	return func() {
		unix.SchedSetaffinity(0, &previous)
		runtime.UnlockOSThread()
	}, nil
}

// CurrentCPU returns the single logical processor in the calling
// thread's affinity mask, or the lowest one when the mask is wider.
// Backends that address processors by file (the msr driver) use it to
// find the processor a Pin selected.
func CurrentCPU() (int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, fmt.Errorf("reading affinity mask: %w: %w", hwaccess.ErrUnavailable, err)
	}
	for cpu := 0; cpu < cpuSetSize; cpu++ {
		if set.IsSet(cpu) {
			return cpu, nil
		}
	}
	return 0, fmt.Errorf("empty affinity mask: %w", hwaccess.ErrUnavailable)
}
