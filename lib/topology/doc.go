// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package topology turns per-logical-processor identification records
// into a Node → Core → Thread tree.
//
// Each [Record] carries the EBX and ECX outputs of CPUID leaf
// 0x8000001E for one logical processor: EBX[7:0] is the core id and
// ECX[7:0] the node id. Raw core ids may be sparse (Ryzen 3000 parts
// skip values), so [Build] renumbers cores contiguously from 1 within
// each node in ascending raw core id order.
//
// The tree holds identity only. Sampling state lives with the metric
// engine, which walks the tree; nothing in the tree points back to its
// parent.
package topology
