// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for cputel.
//
// Configuration comes from a single file named by the --config flag
// (via [LoadFile]) or the CPUTEL_CONFIG environment variable (via
// [Load]). There is no file discovery. Values in the file overlay
// [Default]; keys the file omits keep their defaults, so an empty file
// and no file at all configure the same thing.
//
// Path fields undergo ${HOME} and ${VAR:-default} expansion after
// loading. Environment variables do not otherwise override values.
// [Config.Validate] reports every problem at once.
package config
