// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package devfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/cputel/lib/hwaccess"
)

// Open returns a Backend rooted at options.Root. It fails with
// hwaccess.ErrUnavailable when the per-processor device directory is
// missing, which means the msr and cpuid modules are not loaded.
func Open(options Options) (*Backend, error) {
	backend := newBackend(options)
	cpuDirectory := backend.path("dev/cpu")
	if _, err := os.Stat(cpuDirectory); err != nil {
		return nil, fmt.Errorf("%s (load the msr and cpuid modules): %w: %w",
			cpuDirectory, hwaccess.ErrUnavailable, err)
	}
	return backend, nil
}

func pread(file *os.File, buffer []byte, offset int64) (int, error) {
	return unix.Pread(int(file.Fd()), buffer, offset)
}

func pwrite(file *os.File, buffer []byte, offset int64) (int, error) {
	return unix.Pwrite(int(file.Fd()), buffer, offset)
}
