// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zen

import (
	"fmt"
	"math"
	"strings"

	"github.com/bureau-foundation/cputel/lib/hwaccess"
)

// Model-specific registers.
const (
	msrTimeStampCounter = 0x00000010
	msrMPERF            = 0xC00000E7
	msrAPERF            = 0xC00000E8
	msrPState0          = 0xC0010064
	msrHWPStateStatus   = 0xC0010293
	msrPowerUnit        = 0xC0010299
	msrCoreEnergy       = 0xC001029A
	msrPackageEnergy    = 0xC001029B
)

const (
	vidBase = 1.550
	vidStep = 0.00625

	tempOffsetFlag    = 0x80000
	tempOffsetCelsius = -49.0

	// defaultBusMHz is the reference clock used until a bus clock is
	// known.
	defaultBusMHz = 100.0
)

// Vid converts an SVI2 voltage code to volts.
func Vid(code uint32) float64 {
	return vidBase - vidStep*float64(code)
}

// ThermalTemperature decodes THM_TCON_CUR_TMP: CUR_TEMP[31:21] in
// 0.125 °C steps, shifted down 49 °C when the range flag is set.
func ThermalTemperature(reg uint32) float64 {
	celsius := float64((reg>>21)*125) * 0.001
	if reg&tempOffsetFlag != 0 {
		celsius += tempOffsetCelsius
	}
	return celsius
}

// CCDTemperature decodes a per-CCD temperature register. It reports
// false when the reading is zero or not below ceiling.
func CCDTemperature(reg uint32, ceiling float64) (float64, bool) {
	raw := reg & 0xFFF
	celsius := (float64(raw)*125 - 305000) * 0.001
	if raw == 0 || celsius >= ceiling {
		return 0, false
	}
	return celsius, true
}

var brandOffsets = []struct {
	fragments []string
	celsius   float64
}{
	{[]string{"1600X", "1700X", "1800X"}, -20},
	{[]string{"Threadripper 19", "Threadripper 29"}, -27},
	{[]string{"2700X"}, -10},
}

// BrandOffset returns the Tctl-to-Tdie correction for parts whose
// control temperature reads above the die temperature, or 0.
func BrandOffset(brand string) float64 {
	if strings.TrimSpace(brand) == "" {
		return 0
	}
	for _, entry := range brandOffsets {
		for _, fragment := range entry.fragments {
			if strings.Contains(brand, fragment) {
				return entry.celsius
			}
		}
	}
	return 0
}

// EnergyStatusUnit extracts ESU, PWR_UNIT[12:8]. One energy count is
// 0.5^ESU base units.
func EnergyStatusUnit(powerUnit uint64) int {
	return int((powerUnit >> 8) & 0x1F)
}

// CoreClock decodes HW_PSTATE_STATUS into the core frequency in MHz
// and the multiplier relative to busMHz.
func CoreClock(family uint32, pstate uint64, busMHz float64) (clockMHz, multiplier float64, err error) {
	if busMHz <= 0 {
		busMHz = defaultBusMHz
	}
	if family == 0x1A {
		fid := float64(pstate & 0xFFF)
		return fid * 5, fid * 5 / busMHz, nil
	}
	did := (pstate >> 8) & 0x3F
	fid := pstate & 0xFF
	if did == 0 {
		return 0, 0, fmt.Errorf("%w: pstate 0x%x has zero divisor", hwaccess.ErrImplausible, pstate)
	}
	ratio := float64(fid) / float64(did) * 2
	return ratio * busMHz, ratio, nil
}

// TSCMultiplier decodes P-state 0 into the ratio of the time-stamp
// counter frequency to the bus clock.
func TSCMultiplier(family uint32, pstate0 uint64) (float64, error) {
	if family == 0x1A {
		fid := pstate0 & 0xFFF
		if fid == 0 {
			return 0, fmt.Errorf("%w: pstate0 0x%x has zero fid", hwaccess.ErrImplausible, pstate0)
		}
		return float64(fid) * 5 / 100, nil
	}
	did := (pstate0 >> 8) & 0x3F
	fid := pstate0 & 0xFF
	if did == 0 || fid == 0 {
		return 0, fmt.Errorf("%w: pstate0 0x%x has zero fid or divisor", hwaccess.ErrImplausible, pstate0)
	}
	return 2 * float64(fid) / float64(did), nil
}

// CoreVID extracts CurCpuVid, HW_PSTATE_STATUS[21:14].
func CoreVID(pstate uint64) uint32 {
	return uint32((pstate >> 14) & 0xFF)
}

// railCode extracts the voltage code, SVI plane [23:16].
func railCode(plane uint32) uint32 {
	return (plane >> 16) & 0xFF
}

func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
