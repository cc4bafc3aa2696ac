// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zen

import "fmt"

// SMN addresses shared by every revision.
const (
	sviBase        = 0x0005A000
	sviTFN         = sviBase + 0x8
	thmCurrentTemp = 0x00059800

	ccdBaseZen2 = 0x00059954
	ccdBaseZen4 = 0x00059b08
)

// Revision holds the register layout of one silicon revision.
type Revision struct {
	Name string

	// Plane0 and Plane1 are the SMN addresses of the SVI telemetry
	// planes carrying the core and SoC rail codes.
	Plane0 uint32
	Plane1 uint32

	// CCDTemperatures reports per-CCD temperature registers at
	// CCDBase + 4*i.
	CCDTemperatures bool
	CCDBase         uint32

	// RailsShut forces both TFN rail-absent bits on; the SVI readout
	// does not work on these parts.
	RailsShut bool

	// SoCAlwaysRead reads the SoC rail even when TFN marks it absent.
	SoCAlwaysRead bool
}

func (r Revision) String() string { return r.Name }

type revisionEntry struct {
	family, model uint32
	revision      Revision
}

var revisions = []revisionEntry{
	{0x17, 0x31, Revision{
		Name:   "Threadripper 3000",
		Plane0: sviBase + 0x14, Plane1: sviBase + 0x10,
		CCDTemperatures: true, CCDBase: ccdBaseZen2,
		SoCAlwaysRead: true,
	}},
	{0x17, 0x71, Revision{
		Name:   "Matisse",
		Plane0: sviBase + 0x10, Plane1: sviBase + 0xC,
		CCDTemperatures: true, CCDBase: ccdBaseZen2,
		SoCAlwaysRead: true,
	}},
	{0x19, 0x21, Revision{
		Name:   "Vermeer",
		Plane0: sviBase + 0x10, Plane1: sviBase + 0xC,
		CCDTemperatures: true, CCDBase: ccdBaseZen2,
		SoCAlwaysRead: true,
	}},
	{0x19, 0x61, Revision{
		Name:   "Raphael",
		Plane0: sviBase + 0x10, Plane1: sviBase + 0xC,
		CCDTemperatures: true, CCDBase: ccdBaseZen4,
		RailsShut: true,
	}},
	{0x1A, 0x44, Revision{
		Name:   "Granite Ridge",
		Plane0: sviBase + 0x10, Plane1: sviBase + 0xC,
		CCDTemperatures: true, CCDBase: ccdBaseZen4,
		RailsShut: true,
	}},
	{0x17, 0x11, Revision{
		Name:   "Raven Ridge",
		Plane0: sviBase + 0xC, Plane1: sviBase + 0x10,
		SoCAlwaysRead: true,
	}},
}

var defaultRevision = Revision{
	Name:   "Zen",
	Plane0: sviBase + 0xC, Plane1: sviBase + 0x10,
}

// Lookup returns the revision for (family, model): an exact match
// first, then a match on model alone, then the Zen/Zen+ default.
func Lookup(family, model uint32) Revision {
	for _, entry := range revisions {
		if entry.family == family && entry.model == model {
			return entry.revision
		}
	}
	for _, entry := range revisions {
		if entry.model == model {
			return entry.revision
		}
	}
	return defaultRevision
}

// describe formats an identity for logs.
func describe(family, model uint32) string {
	return fmt.Sprintf("family %#x model %#x", family, model)
}
