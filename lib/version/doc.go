// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the cputel binary.
//
// [Version], [GitCommit], [GitDirty], and [BuildTime] may be injected
// with -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/cputel/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When they are not, [Read] falls back to the VCS stamp the Go
// toolchain embeds in module builds.
package version
