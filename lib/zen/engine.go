// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zen

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/cputel/lib/counter"
	"github.com/bureau-foundation/cputel/lib/hwaccess"
	"github.com/bureau-foundation/cputel/lib/pmtable"
	"github.com/bureau-foundation/cputel/lib/sensor"
	"github.com/bureau-foundation/cputel/lib/session"
	"github.com/bureau-foundation/cputel/lib/topology"
)

// Defaults for zero-valued [Options] fields.
const (
	DefaultEnergyUnitJoules = 1e-6
	DefaultMaxCCDCelsius    = 125.0
	DefaultMaxCCDs          = 8
)

// Sensor names published at package level.
const (
	namePackagePower   = "Package"
	nameBusSpeed       = "Bus Speed"
	nameCoresAverage   = "Cores (Average)"
	nameCoresEffective = "Cores (Average Effective)"
	nameCoreRail       = "Core (SVI2 TFN)"
	nameSoCRail        = "SoC (SVI2 TFN)"
	nameTctl           = "Core (Tctl)"
	nameTdie           = "Core (Tdie)"
	nameTctlTdie       = "Core (Tctl/Tdie)"
	nameCCDsMax        = "CCDs Max (Tdie)"
	nameCCDsAverage    = "CCDs Average (Tdie)"
)

// Options tune decoding. Zero values take the package defaults.
type Options struct {
	// TSCMHz fixes the time-stamp counter frequency. When zero it is
	// estimated from successive counter reads.
	TSCMHz float64

	// EnergyUnitJoules is the energy of one count at ESU 0.
	EnergyUnitJoules float64

	// MaxCounterRateHz bounds plausible MPERF/APERF rates.
	MaxCounterRateHz float64

	// MaxCCDCelsius is the exclusive ceiling for a CCD reading to
	// count as active.
	MaxCCDCelsius float64

	// MaxCCDs bounds the CCD registers probed.
	MaxCCDs int

	// Layouts maps telemetry-table versions to field maps. Without a
	// layout for the running table the register paths are used.
	Layouts pmtable.Layouts

	// Weights scores table fields. The zero value means
	// pmtable.DefaultWeights.
	Weights pmtable.Weights
}

func (o Options) withDefaults() Options {
	if o.EnergyUnitJoules <= 0 {
		o.EnergyUnitJoules = DefaultEnergyUnitJoules
	}
	if o.MaxCounterRateHz <= 0 {
		o.MaxCounterRateHz = counter.DefaultMaxRateHz
	}
	if o.MaxCCDCelsius <= 0 {
		o.MaxCCDCelsius = DefaultMaxCCDCelsius
	}
	if o.MaxCCDs <= 0 {
		o.MaxCCDs = DefaultMaxCCDs
	}
	if o.Weights == (pmtable.Weights{}) {
		o.Weights = pmtable.DefaultWeights()
	}
	return o
}

// Engine derives readings for one processor package.
type Engine struct {
	mu sync.Mutex

	session   *session.Session
	processor *topology.Processor
	identity  topology.Identity
	revision  Revision
	options   Options
	logger    *slog.Logger
	sensors   *sensor.Set

	packageEnergy counter.Energy
	energyUnit    float64 // joules per count, zero until PWR_UNIT is read

	tscSeeded     bool
	tscValue      uint64
	tscAt         time.Time
	tscMHz        float64
	tscMultiplier float64
	busMHz        float64

	table     tableState
	ccdActive []bool
	cores     []*coreState

	// registerOwned holds the sensors decoded from registers. Table
	// fields with the same name and category are not published.
	registerOwned map[sensorKey]bool
}

type sensorKey struct {
	name     string
	category sensor.Category
}

type tableState struct {
	// settled is set once resolution reached a final answer.
	settled bool
	usable  bool
	layout  pmtable.Layout

	// fields are the layout fields published under their own names.
	fields []pmtable.Field

	temperature    pmtable.Field
	hasTemperature bool
	power          pmtable.Field
	hasPower       bool
}

type coreState struct {
	core    *topology.Core
	name    string
	energy  counter.Energy
	threads []counter.Thread

	clockMHz     float64
	hasClock     bool
	effectiveMHz float64
	hasEffective bool
}

// New builds an engine for processor. Cores are named "Core #N" with N
// counting from 1 across all nodes in topology order.
func New(sess *session.Session, processor *topology.Processor, identity topology.Identity, options Options, logger *slog.Logger) (*Engine, error) {
	if sess == nil {
		return nil, errors.New("zen: nil session")
	}
	if processor == nil {
		return nil, errors.New("zen: nil processor")
	}
	if logger == nil {
		logger = sess.Logger()
	}

	options = options.withDefaults()
	revision := Lookup(identity.Family, identity.Model)
	engine := &Engine{
		session:   sess,
		processor: processor,
		identity:  identity,
		revision:  revision,
		options:   options,
		logger: logger.With(
			"component", "zen",
			"cpu", describe(identity.Family, identity.Model),
			"revision", revision.Name,
		),
		sensors:       sensor.NewSet(),
		ccdActive:     make([]bool, options.MaxCCDs),
		registerOwned: make(map[sensorKey]bool),
	}

	engine.sensors.Register(namePackagePower, sensor.Power)
	engine.own(nameBusSpeed, sensor.Clock)
	engine.own(nameCoresAverage, sensor.Clock)
	engine.own(nameCoresEffective, sensor.Clock)
	engine.own(nameCoreRail, sensor.Voltage)
	engine.own(nameSoCRail, sensor.Voltage)

	for index, core := range processor.Cores() {
		state := &coreState{
			core:    core,
			name:    fmt.Sprintf("Core #%d", index+1),
			threads: make([]counter.Thread, len(core.Threads)),
		}
		engine.own(state.name, sensor.Clock)
		engine.own(state.name+" (Effective)", sensor.Clock)
		engine.own(state.name, sensor.Factor)
		engine.own(state.name+" (SMU)", sensor.Power)
		engine.own(state.name+" VID", sensor.Voltage)
		engine.cores = append(engine.cores, state)
	}

	engine.logger.Info("metric engine ready",
		"nodes", len(processor.Nodes),
		"cores", len(engine.cores),
		"threads", processor.ThreadCount(),
		"generation", processor.Generation,
	)
	return engine, nil
}

// Revision returns the silicon revision the engine decodes for.
func (e *Engine) Revision() Revision { return e.revision }

// Sensors returns the engine's reading set.
func (e *Engine) Sensors() *sensor.Set { return e.sensors }

// Readings returns a snapshot of every reading. It implements
// sensor.Source.
func (e *Engine) Readings() []sensor.Reading { return e.sensors.Readings() }

// Update runs one sampling cycle. Concurrent calls are serialized.
func (e *Engine) Update() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.processor.Empty() {
		return
	}
	e.updatePackage()
	for _, state := range e.cores {
		e.updateCore(state)
	}
	e.updateAggregates()
}

// skip logs a metric that could not be computed this cycle.
func (e *Engine) skip(message string, err error, args ...any) {
	args = append(args, "error", err)
	if hwaccess.Skippable(err) || errors.Is(err, counter.ErrBaseline) {
		e.logger.Debug(message, args...)
		return
	}
	e.logger.Warn(message, args...)
}

func (e *Engine) publish(name string, category sensor.Category, value float64) {
	if !finite(value) {
		e.logger.Debug("discarding non-finite reading", "sensor", name, "value", value)
		return
	}
	e.sensors.Publish(name, category, value)
}

func (e *Engine) updatePackage() {
	first, _ := e.processor.FirstThread()
	release, err := e.session.Pin(first.CPU)
	if err != nil {
		e.skip("pinning package thread", err, "cpu", first.CPU)
		return
	}
	defer release()

	powerUnit, unitErr := e.session.ReadMSR(msrPowerUnit)
	energy, energyErr := e.session.ReadMSR(msrPackageEnergy)
	var (
		tsc    uint64
		tscErr error
	)
	if e.options.TSCMHz <= 0 {
		tsc, tscErr = e.session.ReadMSR(msrTimeStampCounter)
	}
	pstate0, pstateErr := e.session.ReadMSR(msrPState0)
	now := e.session.Clock().Now()

	if unitErr != nil {
		e.skip("reading power unit", unitErr)
	} else {
		e.energyUnit = math.Pow(0.5, float64(EnergyStatusUnit(powerUnit))) * e.options.EnergyUnitJoules
	}

	tableTemperature, tablePower := e.updateTable()
	e.updateBus(!tableTemperature)

	if energyErr != nil {
		e.skip("reading package energy", energyErr)
	} else {
		sample, err := e.packageEnergy.Sample(uint32(energy), now)
		switch {
		case err != nil:
			e.skip("sampling package energy", err)
		case tablePower:
		case e.energyUnit == 0:
		default:
			if watts, err := sample.Power(e.energyUnit); err != nil {
				e.skip("package power", err)
			} else {
				e.publish(namePackagePower, sensor.Power, watts)
			}
		}
	}

	if e.options.TSCMHz <= 0 {
		if tscErr != nil {
			e.skip("reading time-stamp counter", tscErr)
		} else {
			e.estimateTSC(tsc, now)
		}
	}

	if pstateErr != nil {
		e.skip("reading P-state 0", pstateErr)
	} else if multiplier, err := TSCMultiplier(e.identity.Family, pstate0); err != nil {
		e.skip("decoding P-state 0", err)
	} else {
		e.tscMultiplier = multiplier
	}
	e.updateBusClock()
}

func (e *Engine) own(name string, category sensor.Category) {
	e.registerOwned[sensorKey{name, category}] = true
	e.sensors.Register(name, category)
}

func (e *Engine) estimateTSC(value uint64, now time.Time) {
	if e.tscSeeded && value > e.tscValue {
		if elapsed := now.Sub(e.tscAt); elapsed > 0 {
			e.tscMHz = float64(value-e.tscValue) / elapsed.Seconds() / 1e6
		}
	}
	e.tscSeeded = true
	e.tscValue = value
	e.tscAt = now
}

func (e *Engine) updateBusClock() {
	tscMHz := e.options.TSCMHz
	if tscMHz <= 0 {
		tscMHz = e.tscMHz
	}
	if tscMHz <= 0 || e.tscMultiplier <= 0 {
		return
	}
	bus := tscMHz / e.tscMultiplier
	if !finite(bus) {
		return
	}
	e.busMHz = bus
	e.publish(nameBusSpeed, sensor.Clock, bus)
}

// updateTable publishes telemetry-table readings and reports whether
// the die temperature and package power came from the table.
func (e *Engine) updateTable() (temperature, power bool) {
	if !e.session.HasMailbox() || len(e.options.Layouts) == 0 {
		return false, false
	}
	if !e.table.settled {
		e.resolveTable()
	}
	if !e.table.usable {
		return false, false
	}

	words, _, err := e.session.TableHead(e.table.layout.Words())
	if err != nil {
		e.skip("reading telemetry table", err)
		return false, false
	}

	if e.table.hasTemperature {
		if value, ok := e.table.temperature.Value(words); ok && finite(value) {
			e.publish(nameTdie, sensor.Temperature, value)
			e.publish(nameTctlTdie, sensor.Temperature, value)
			temperature = true
		}
	}
	if e.table.hasPower {
		if value, ok := e.table.power.Value(words); ok && finite(value) {
			e.publish(namePackagePower, sensor.Power, value)
			power = true
		}
	}
	for _, field := range e.table.fields {
		if value, ok := field.Value(words); ok && value != 0 {
			e.publish(field.Name, field.Category, value)
		}
	}
	return temperature, power
}

func (e *Engine) resolveTable() {
	version, err := e.session.TableVersion()
	if err != nil {
		if errors.Is(err, hwaccess.ErrUnavailable) {
			e.table.settled = true
		}
		e.skip("resolving telemetry table", err)
		return
	}
	e.table.settled = true

	layout, ok := e.options.Layouts.Lookup(version)
	if !ok || layout.Words() == 0 {
		e.logger.Info("no layout for telemetry table, using register decoding",
			"table_version", fmt.Sprintf("%#x", version))
		return
	}

	e.table.usable = true
	e.table.layout = layout
	e.table.temperature, e.table.hasTemperature = pmtable.SelectTemperature(layout, e.options.Weights)
	e.table.power, e.table.hasPower = pmtable.SelectPackagePower(layout, e.options.Weights)
	e.table.fields = e.table.fields[:0]
	for _, field := range layout.Fields {
		if e.registerOwned[sensorKey{field.Name, field.Category}] {
			e.logger.Debug("table field shadows a register sensor, ignoring",
				"field", field.Name, "category", field.Category)
			continue
		}
		e.table.fields = append(e.table.fields, field)
		e.sensors.Register(field.Name, field.Category)
	}
	e.logger.Info("telemetry table resolved",
		"table_version", fmt.Sprintf("%#x", version),
		"fields", len(layout.Fields),
		"temperature_field", e.table.temperature.Name,
		"power_field", e.table.power.Name,
	)
}

// updateBus reads the SMN registers. Everything here is skipped when
// the bus lock is contended.
func (e *Engine) updateBus(readThermal bool) {
	release, err := e.session.LockBus()
	if err != nil {
		e.skip("bus busy, skipping SMN reads", err)
		return
	}
	defer release()

	if readThermal {
		if reg, err := e.session.ReadSMN(thmCurrentTemp); err != nil {
			e.skip("reading thermal register", err)
		} else {
			e.publishThermal(reg)
		}
	}

	if tfn, err := e.session.ReadSMN(sviTFN); err != nil {
		e.skip("reading SVI TFN", err)
	} else {
		e.publishRails(tfn)
	}

	if e.revision.CCDTemperatures {
		e.updateCCDs()
	}
}

func (e *Engine) publishThermal(reg uint32) {
	celsius := ThermalTemperature(reg)
	if offset := BrandOffset(e.identity.Name); offset < 0 {
		e.publish(nameTctl, sensor.Temperature, celsius)
		e.publish(nameTdie, sensor.Temperature, celsius+offset)
		return
	}
	e.publish(nameTctlTdie, sensor.Temperature, celsius)
}

func (e *Engine) publishRails(tfn uint32) {
	if e.revision.RailsShut {
		tfn |= 0x3
	}
	if tfn&0x1 == 0 {
		if plane, err := e.session.ReadSMN(e.revision.Plane0); err != nil {
			e.skip("reading SVI plane 0", err)
		} else {
			e.publish(nameCoreRail, sensor.Voltage, Vid(railCode(plane)))
		}
	}
	if e.revision.SoCAlwaysRead || tfn&0x2 == 0 {
		if plane, err := e.session.ReadSMN(e.revision.Plane1); err != nil {
			e.skip("reading SVI plane 1", err)
		} else {
			e.publish(nameSoCRail, sensor.Voltage, Vid(railCode(plane)))
		}
	}
}

func ccdName(index int) string { return fmt.Sprintf("CCD%d (Tdie)", index+1) }

func (e *Engine) updateCCDs() {
	for index := range e.ccdActive {
		reg, err := e.session.ReadSMN(e.revision.CCDBase + uint32(4*index))
		if err != nil {
			e.skip("reading CCD temperature", err, "ccd", index+1)
			continue
		}
		if celsius, ok := CCDTemperature(reg, e.options.MaxCCDCelsius); ok {
			e.ccdActive[index] = true
			e.publish(ccdName(index), sensor.Temperature, celsius)
		}
	}

	var temperatures []float64
	for index, active := range e.ccdActive {
		if !active {
			continue
		}
		if reading, ok := e.sensors.Get(ccdName(index), sensor.Temperature); ok {
			temperatures = append(temperatures, reading.Value)
		}
	}
	if len(temperatures) > 1 {
		e.publish(nameCCDsMax, sensor.Temperature, slices.Max(temperatures))
		e.publish(nameCCDsAverage, sensor.Temperature, mean(temperatures))
	}
}

func (e *Engine) updateCore(state *coreState) {
	threads := state.core.Threads
	if len(threads) == 0 {
		return
	}

	release, err := e.session.Pin(threads[0].CPU)
	if err != nil {
		e.skip("pinning core", err, "core", state.name, "cpu", threads[0].CPU)
		return
	}
	energy, energyErr := e.session.ReadMSR(msrCoreEnergy)
	pstate, pstateErr := e.session.ReadMSR(msrHWPStateStatus)
	now := e.session.Clock().Now()
	release()

	for index, thread := range threads {
		e.sampleThread(state, index, thread)
	}

	var effective []float64
	for index := range state.threads {
		if rate := state.threads[index].RateHz(); rate > 0 {
			effective = append(effective, math.Round(rate/1e6))
		}
	}
	if len(effective) > 0 {
		state.effectiveMHz = mean(effective)
		state.hasEffective = true
		e.publish(state.name+" (Effective)", sensor.Clock, state.effectiveMHz)
	}

	if pstateErr != nil {
		e.skip("reading hardware P-state", pstateErr, "core", state.name)
	} else {
		e.publish(state.name+" VID", sensor.Voltage, Vid(CoreVID(pstate)))
		e.updateCoreClock(state, pstate)
	}

	if energyErr != nil {
		e.skip("reading core energy", energyErr, "core", state.name)
		return
	}
	sample, err := state.energy.Sample(uint32(energy), now)
	if err != nil {
		e.skip("sampling core energy", err, "core", state.name)
		return
	}
	if e.energyUnit == 0 {
		return
	}
	if watts, err := sample.Power(e.energyUnit); err != nil {
		e.skip("core power", err, "core", state.name)
	} else {
		e.publish(state.name+" (SMU)", sensor.Power, watts)
	}
}

func (e *Engine) sampleThread(state *coreState, index int, thread topology.Thread) {
	release, err := e.session.Pin(thread.CPU)
	if err != nil {
		e.skip("pinning thread", err, "core", state.name, "cpu", thread.CPU)
		return
	}
	reference, referenceErr := e.session.ReadMSR(msrMPERF)
	actual, actualErr := e.session.ReadMSR(msrAPERF)
	now := e.session.Clock().Now()
	release()

	if err := errors.Join(referenceErr, actualErr); err != nil {
		e.skip("reading performance counters", err, "core", state.name, "cpu", thread.CPU)
		return
	}
	if _, err := state.threads[index].Sample(reference, actual, now, e.options.MaxCounterRateHz); err != nil {
		e.skip("sampling performance counters", err, "core", state.name, "cpu", thread.CPU)
	}
}

func (e *Engine) updateCoreClock(state *coreState, pstate uint64) {
	first := &state.threads[0]
	if !first.Valid() {
		return
	}
	clockMHz, multiplier, err := CoreClock(e.identity.Family, pstate, e.busMHz)
	if err != nil {
		e.skip("decoding core clock", err, "core", state.name)
		return
	}
	if first.ActualDelta() < first.ReferenceDelta() {
		clockMHz *= float64(first.ActualDelta()) / float64(first.ReferenceDelta())
	}
	state.clockMHz = math.Round(clockMHz)
	state.hasClock = true
	e.publish(state.name, sensor.Clock, state.clockMHz)
	e.publish(state.name, sensor.Factor, multiplier)
}

func (e *Engine) updateAggregates() {
	var clockMeans, effectiveMeans []float64
	next := 0
	for _, node := range e.processor.Nodes {
		var clocks, effectives []float64
		for range node.Cores {
			state := e.cores[next]
			next++
			if state.hasClock {
				clocks = append(clocks, state.clockMHz)
			}
			if state.hasEffective {
				effectives = append(effectives, state.effectiveMHz)
			}
		}
		if len(clocks) > 0 {
			clockMeans = append(clockMeans, mean(clocks))
		}
		if len(effectives) > 0 {
			effectiveMeans = append(effectiveMeans, mean(effectives))
		}
	}
	if len(clockMeans) > 0 {
		e.publish(nameCoresAverage, sensor.Clock, math.Round(mean(clockMeans)))
	}
	if len(effectiveMeans) > 0 {
		e.publish(nameCoresEffective, sensor.Clock, math.Round(mean(effectiveMeans)))
	}
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	return sum / float64(len(values))
}
