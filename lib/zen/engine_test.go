// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zen

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/bureau-foundation/cputel/lib/affinity"
	"github.com/bureau-foundation/cputel/lib/clock"
	"github.com/bureau-foundation/cputel/lib/hwaccess"
	"github.com/bureau-foundation/cputel/lib/pmtable"
	"github.com/bureau-foundation/cputel/lib/sensor"
	"github.com/bureau-foundation/cputel/lib/session"
	"github.com/bureau-foundation/cputel/lib/testutil"
	"github.com/bureau-foundation/cputel/lib/topology"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// busyBus never grants the bus lock.
type busyBus struct{}

func (busyBus) Acquire(time.Duration) (func(), error) {
	return nil, hwaccess.ErrBusContention
}

type fixture struct {
	port    *testutil.Port
	clock   *clock.FakeClock
	session *session.Session
	engine  *Engine
}

type fixtureConfig struct {
	records  []topology.Record
	identity topology.Identity
	options  Options
	mailbox  hwaccess.Mailbox
	bus      affinity.BusLock
	setup    func(*testutil.Port)
}

func newFixture(t *testing.T, config fixtureConfig) *fixture {
	t.Helper()
	port := testutil.NewPort()
	if config.setup != nil {
		config.setup(port)
	}
	fake := clock.Fake(epoch)
	sessionConfig := session.Config{
		Port:    port,
		Mailbox: config.mailbox,
		Pinner:  port,
		Clock:   fake,
		Logger:  discardLogger(),
	}
	if config.bus != nil {
		sessionConfig.Bus = config.bus
	}
	sess, err := session.Open(sessionConfig)
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	if config.identity == (topology.Identity{}) {
		config.identity = topology.Identity{Family: 0x17, Model: 0x01, Name: "AMD Ryzen 7 1700 Eight-Core Processor"}
	}
	engine, err := New(sess, topology.Build(config.records), config.identity, config.options, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{port: port, clock: fake, session: sess, engine: engine}
}

func (f *fixture) reading(t *testing.T, name string, category sensor.Category) sensor.Reading {
	t.Helper()
	reading, ok := f.engine.Sensors().Get(name, category)
	if !ok {
		t.Fatalf("reading %q (%s) not registered", name, category)
	}
	return reading
}

func (f *fixture) expect(t *testing.T, name string, category sensor.Category, want float64) {
	t.Helper()
	reading := f.reading(t, name, category)
	if !reading.Active {
		t.Errorf("%s (%s) inactive, want %v", name, category, want)
		return
	}
	if math.Abs(reading.Value-want) > 1e-9 {
		t.Errorf("%s (%s) = %v, want %v", name, category, reading.Value, want)
	}
}

func (f *fixture) expectInactive(t *testing.T, name string, category sensor.Category) {
	t.Helper()
	if reading, ok := f.engine.Sensors().Get(name, category); ok && reading.Active {
		t.Errorf("%s (%s) = %v, want inactive", name, category, reading.Value)
	}
}

func TestPackagePowerFromEnergyCounter(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		records: []topology.Record{{CPU: 0}},
		setup: func(port *testutil.Port) {
			port.SetMSR(0, msrPowerUnit, 4<<8)
			port.SetMSR(0, msrPackageEnergy, 1000)
		},
	})

	f.engine.Update()
	f.expectInactive(t, namePackagePower, sensor.Power)

	f.clock.Advance(time.Second)
	f.port.SetMSR(0, msrPackageEnergy, 1000+160000)
	f.engine.Update()

	// 160000 counts * 0.5^4 µJ over 1 s.
	f.expect(t, namePackagePower, sensor.Power, 0.01)
}

func TestPackagePowerAcrossWrap(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		records: []topology.Record{{CPU: 0}},
		options: Options{EnergyUnitJoules: 1},
		setup: func(port *testutil.Port) {
			port.SetMSR(0, msrPowerUnit, 0)
			// Upper bits are not part of the accumulator.
			port.SetMSR(0, msrPackageEnergy, 0xABCD_0000_FFFF_FFF0)
		},
	})
	f.engine.Update()
	f.clock.Advance(time.Second)
	f.port.SetMSR(0, msrPackageEnergy, 5)
	f.engine.Update()
	f.expect(t, namePackagePower, sensor.Power, 0x15)
}

// smtCore returns one core with two threads on cpus 0 and 1.
func smtCore() []topology.Record {
	return []topology.Record{
		{CPU: 0, EBX: 0 | 1<<8},
		{CPU: 1, EBX: 0 | 1<<8},
	}
}

func setupFullCore(port *testutil.Port) {
	port.SetMSR(0, msrPowerUnit, 4<<8)
	port.SetMSR(0, msrPackageEnergy, 0)
	port.SetMSR(0, msrPState0, 8<<8|0x88)
	port.SetMSR(0, msrCoreEnergy, 0)
	port.SetMSR(0, msrHWPStateStatus, 88<<14|8<<8|0x90)
	for cpu := range 2 {
		port.SetMSR(cpu, msrMPERF, 1_000_000)
		port.SetMSR(cpu, msrAPERF, 1_000_000)
	}
	port.SetSMN(thmCurrentTemp, 400<<21)
	port.SetSMN(sviTFN, 0)
	port.SetSMN(sviBase+0xC, 88<<16)
	port.SetSMN(sviBase+0x10, 80<<16)
}

func advanceFullCore(port *testutil.Port) {
	port.SetMSR(0, msrPackageEnergy, 16_000_000)
	port.SetMSR(0, msrCoreEnergy, 1_600_000)
	for cpu := range 2 {
		port.SetMSR(cpu, msrMPERF, 1_000_000+3_600_000_000)
		port.SetMSR(cpu, msrAPERF, 1_000_000+3_000_000_000)
	}
}

func TestFullCycle(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		records: smtCore(),
		options: Options{TSCMHz: 3400},
		setup:   setupFullCore,
	})

	f.engine.Update()
	// Counters need two samples.
	f.expectInactive(t, "Core #1", sensor.Clock)
	f.expectInactive(t, "Core #1 (Effective)", sensor.Clock)
	f.expectInactive(t, namePackagePower, sensor.Power)
	// Instantaneous registers are published on the first cycle.
	f.expect(t, nameTctlTdie, sensor.Temperature, 50)
	f.expect(t, nameBusSpeed, sensor.Clock, 100)
	f.expect(t, "Core #1 VID", sensor.Voltage, 1.0)

	f.clock.Advance(time.Second)
	advanceFullCore(f.port)
	f.engine.Update()

	f.expect(t, "Core #1 (Effective)", sensor.Clock, 3000)
	// 36 × 100 MHz scaled by APERF/MPERF = 3.0/3.6.
	f.expect(t, "Core #1", sensor.Clock, 3000)
	f.expect(t, "Core #1", sensor.Factor, 36)
	f.expect(t, nameCoresAverage, sensor.Clock, 3000)
	f.expect(t, nameCoresEffective, sensor.Clock, 3000)
	f.expect(t, nameCoreRail, sensor.Voltage, 1.0)
	f.expect(t, nameSoCRail, sensor.Voltage, 1.05)
	f.expect(t, namePackagePower, sensor.Power, 1.0)
	f.expect(t, "Core #1 (SMU)", sensor.Power, 0.1)
	f.expectInactive(t, nameTctl, sensor.Temperature)
}

func TestEstimatedTSCFrequency(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		records: []topology.Record{{CPU: 0}},
		setup: func(port *testutil.Port) {
			port.SetMSR(0, msrTimeStampCounter, 0)
			port.SetMSR(0, msrPState0, 8<<8|0x88)
		},
	})
	f.engine.Update()
	f.expectInactive(t, nameBusSpeed, sensor.Clock)

	f.clock.Advance(500 * time.Millisecond)
	f.port.SetMSR(0, msrTimeStampCounter, 1_700_000_000)
	f.engine.Update()
	// 3400 MHz time-stamp counter over a 34× multiplier.
	f.expect(t, nameBusSpeed, sensor.Clock, 100)
}

func TestBrandOffsetSplitsTctlAndTdie(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		records:  []topology.Record{{CPU: 0}},
		identity: topology.Identity{Family: 0x17, Model: 0x01, Name: "AMD Ryzen 7 1800X Eight-Core Processor"},
		setup: func(port *testutil.Port) {
			port.SetSMN(thmCurrentTemp, 400<<21)
		},
	})
	f.engine.Update()
	f.expect(t, nameTctl, sensor.Temperature, 50)
	f.expect(t, nameTdie, sensor.Temperature, 30)
	f.expectInactive(t, nameTctlTdie, sensor.Temperature)
}

func TestBusContentionSkipsSMNReads(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		records: []topology.Record{{CPU: 0}},
		bus:     busyBus{},
		setup:   setupFullCore,
	})
	f.engine.Update()

	if got := f.port.Calls("WriteConfig"); got != 0 {
		t.Errorf("WriteConfig calls = %d, want 0 under contention", got)
	}
	f.expectInactive(t, nameTctlTdie, sensor.Temperature)
	f.expectInactive(t, nameCoreRail, sensor.Voltage)
	f.expectInactive(t, nameSoCRail, sensor.Voltage)
	// Register paths outside the bus still run.
	f.expect(t, "Core #1 VID", sensor.Voltage, 1.0)
}

func TestRailsForcedShut(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		records:  []topology.Record{{CPU: 0}},
		identity: topology.Identity{Family: 0x19, Model: 0x61},
		setup: func(port *testutil.Port) {
			port.SetSMN(sviTFN, 0)
			port.SetSMN(sviBase+0x10, 88<<16)
			port.SetSMN(sviBase+0xC, 80<<16)
		},
	})
	f.engine.Update()
	f.expectInactive(t, nameCoreRail, sensor.Voltage)
	f.expectInactive(t, nameSoCRail, sensor.Voltage)
}

func TestSoCRailAbsent(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		records: []topology.Record{{CPU: 0}},
		setup: func(port *testutil.Port) {
			port.SetSMN(sviTFN, 0x2)
			port.SetSMN(sviBase+0xC, 88<<16)
			port.SetSMN(sviBase+0x10, 80<<16)
		},
	})
	f.engine.Update()
	f.expect(t, nameCoreRail, sensor.Voltage, 1.0)
	f.expectInactive(t, nameSoCRail, sensor.Voltage)
}

func TestCCDTemperatures(t *testing.T) {
	tests := []struct {
		name      string
		ccds      map[int]uint32
		wantMax   float64
		wantAvg   float64
		aggregate bool
	}{
		{name: "two active", ccds: map[int]uint32{0: 2800, 1: 3000}, wantMax: 70, wantAvg: 57.5, aggregate: true},
		{name: "one active", ccds: map[int]uint32{0: 2800}},
		{name: "zero and over ceiling ignored", ccds: map[int]uint32{0: 2800, 1: 0, 2: 3500}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, fixtureConfig{
				records:  []topology.Record{{CPU: 0}},
				identity: topology.Identity{Family: 0x19, Model: 0x21},
				setup: func(port *testutil.Port) {
					for index, raw := range test.ccds {
						port.SetSMN(ccdBaseZen2+uint32(4*index), raw)
					}
				},
			})
			f.engine.Update()
			f.expect(t, "CCD1 (Tdie)", sensor.Temperature, 45)
			if test.aggregate {
				f.expect(t, "CCD2 (Tdie)", sensor.Temperature, 70)
				f.expect(t, nameCCDsMax, sensor.Temperature, test.wantMax)
				f.expect(t, nameCCDsAverage, sensor.Temperature, test.wantAvg)
			} else {
				f.expectInactive(t, nameCCDsMax, sensor.Temperature)
				f.expectInactive(t, nameCCDsAverage, sensor.Temperature)
				f.expectInactive(t, "CCD2 (Tdie)", sensor.Temperature)
				f.expectInactive(t, "CCD3 (Tdie)", sensor.Temperature)
			}
		})
	}
}

func tableLayouts() pmtable.Layouts {
	return pmtable.Layouts{
		0x10: {
			Version: 0x10,
			Fields: []pmtable.Field{
				{Index: 0, Name: "Package Power", Category: sensor.Power, Scale: 1},
				{Index: 1, Name: "Tdie", Category: sensor.Temperature, Scale: 1},
				{Index: 2, Name: "TDC", Category: sensor.Current, Scale: 1},
				{Index: 3, Name: "EDC", Category: sensor.Current, Scale: 1},
			},
		},
	}
}

func TestTableSourcesPreferred(t *testing.T) {
	mailbox := &testutil.Mailbox{
		Version: 0x10,
		Words: []uint32{
			math.Float32bits(45.5),
			math.Float32bits(61.25),
			math.Float32bits(80),
			0,
		},
	}
	f := newFixture(t, fixtureConfig{
		records: []topology.Record{{CPU: 0}},
		mailbox: mailbox,
		options: Options{Layouts: tableLayouts()},
		setup: func(port *testutil.Port) {
			port.SetMSR(0, msrPowerUnit, 4<<8)
			port.SetMSR(0, msrPackageEnergy, 0)
			// Would publish 50 °C if the thermal register were used.
			port.SetSMN(thmCurrentTemp, 400<<21)
		},
	})

	f.engine.Update()
	f.clock.Advance(time.Second)
	f.port.SetMSR(0, msrPackageEnergy, 160000)
	f.engine.Update()

	f.expect(t, nameTdie, sensor.Temperature, 61.25)
	f.expect(t, nameTctlTdie, sensor.Temperature, 61.25)
	f.expect(t, namePackagePower, sensor.Power, 45.5)
	f.expect(t, "TDC", sensor.Current, 80)
	f.expectInactive(t, "EDC", sensor.Current)
}

func TestUnknownTableVersionFallsBack(t *testing.T) {
	mailbox := &testutil.Mailbox{Version: 0x99, Words: []uint32{math.Float32bits(1)}}
	f := newFixture(t, fixtureConfig{
		records: []topology.Record{{CPU: 0}},
		mailbox: mailbox,
		options: Options{Layouts: tableLayouts()},
		setup: func(port *testutil.Port) {
			port.SetSMN(thmCurrentTemp, 400<<21)
		},
	})
	f.engine.Update()
	f.engine.Update()

	f.expect(t, nameTctlTdie, sensor.Temperature, 50)
	if got := mailbox.Reads(); got != 0 {
		t.Errorf("table reads = %d, want 0 for an unknown layout", got)
	}
}

func TestTableFieldDoesNotShadowRegisterSensor(t *testing.T) {
	layouts := pmtable.Layouts{
		0x20: {
			Version: 0x20,
			Fields: []pmtable.Field{
				{Index: 0, Name: nameBusSpeed, Category: sensor.Clock, Scale: 1},
				{Index: 1, Name: "TDC", Category: sensor.Current, Scale: 1},
			},
		},
	}
	mailbox := &testutil.Mailbox{
		Version: 0x20,
		Words:   []uint32{math.Float32bits(42), math.Float32bits(80)},
	}
	f := newFixture(t, fixtureConfig{
		records: []topology.Record{{CPU: 0}},
		mailbox: mailbox,
		options: Options{Layouts: layouts},
	})
	f.engine.Update()
	f.engine.Update()

	f.expect(t, "TDC", sensor.Current, 80)
	f.expectInactive(t, nameBusSpeed, sensor.Clock)
}

func TestEmptyTopology(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.engine.Update()
	for _, reading := range f.engine.Readings() {
		if reading.Active {
			t.Errorf("reading %q active on empty topology", reading.Name)
		}
	}
	if got := f.port.Calls("Pin"); got != 0 {
		t.Errorf("Pin calls = %d, want 0", got)
	}
}

func TestCoresNamedAcrossNodes(t *testing.T) {
	records := []topology.Record{
		{CPU: 0, EBX: 0, ECX: 0},
		{CPU: 1, EBX: 1, ECX: 0},
		{CPU: 2, EBX: 8, ECX: 1},
	}
	f := newFixture(t, fixtureConfig{records: records})
	for _, name := range []string{"Core #1", "Core #2", "Core #3"} {
		f.reading(t, name, sensor.Clock)
	}
	if _, ok := f.engine.Sensors().Get("Core #4", sensor.Clock); ok {
		t.Error("Core #4 registered for a three-core topology")
	}
}

func TestUpdateRestoresPinning(t *testing.T) {
	f := newFixture(t, fixtureConfig{records: smtCore(), setup: setupFullCore})
	f.engine.Update()
	if got := f.port.CPU(); got != 0 {
		t.Errorf("port cpu after Update = %d, want 0", got)
	}
	// Package stage, core stage, and one pin per thread.
	if got := f.port.Calls("Pin"); got != 4 {
		t.Errorf("Pin calls = %d, want 4", got)
	}
}
