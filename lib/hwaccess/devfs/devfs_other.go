// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package devfs

import (
	"fmt"
	"os"
	"runtime"

	"github.com/bureau-foundation/cputel/lib/hwaccess"
)

// Open is not supported on this platform.
func Open(Options) (*Backend, error) {
	return nil, fmt.Errorf("device-file backend on %s: %w", runtime.GOOS, hwaccess.ErrUnavailable)
}

func pread(*os.File, []byte, int64) (int, error) { return 0, hwaccess.ErrUnavailable }

func pwrite(*os.File, []byte, int64) (int, error) { return 0, hwaccess.ErrUnavailable }
