// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package affinity

import (
	"fmt"
	"runtime"

	"github.com/bureau-foundation/cputel/lib/hwaccess"
)

// OS returns a Pinner that fails: thread affinity is only implemented
// for Linux.
func OS() Pinner { return osPinner{} }

type osPinner struct{}

func (osPinner) Pin(cpu int) (func(), error) {
	return nil, fmt.Errorf("pin to cpu %d on %s: %w", cpu, runtime.GOOS, hwaccess.ErrUnavailable)
}

// CurrentCPU is not available off Linux.
func CurrentCPU() (int, error) {
	return 0, fmt.Errorf("current cpu on %s: %w", runtime.GOOS, hwaccess.ErrUnavailable)
}
