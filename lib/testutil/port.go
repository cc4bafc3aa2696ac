// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync"

	"github.com/bureau-foundation/cputel/lib/hwaccess"
)

// SMN index/data registers on the host bridge (bus 0, device 0,
// function 0).
const (
	SMNIndexRegister = 0x60
	SMNDataRegister  = 0x64
)

// HostBridgeID is the identification dword the fake host bridge
// reports: AMD vendor 0x1022.
const HostBridgeID = 0x14501022

// ConfigKey addresses one configuration-space dword.
type ConfigKey struct {
	Address  uint32
	Register uint32
}

// Port is an in-memory register file.
type Port struct {
	mu sync.Mutex

	// MSR holds per-CPU model-specific registers.
	MSR map[int]map[uint32]uint64

	// Config holds configuration-space dwords other than the SMN data
	// register.
	Config map[ConfigKey]uint32

	// SMN holds values served through the host bridge index/data pair.
	SMN map[uint32]uint32

	// IO holds I/O port bytes.
	IO map[uint16]uint8

	// Memory holds physical memory bytes.
	Memory map[uint64]byte

	// Fail forces an error for an operation name ("ReadMSR",
	// "ReadConfig", ...).
	Fail map[string]error

	calls       map[string]int
	configReads map[ConfigKey]int
	smnIndex    uint32
	cpu         int
}

// NewPort returns an empty Port with a present host bridge.
func NewPort() *Port {
	return &Port{
		MSR: make(map[int]map[uint32]uint64),
		Config: map[ConfigKey]uint32{
			{Address: 0, Register: 0}: HostBridgeID,
		},
		SMN:         make(map[uint32]uint32),
		IO:          make(map[uint16]uint8),
		Memory:      make(map[uint64]byte),
		Fail:        make(map[string]error),
		calls:       make(map[string]int),
		configReads: make(map[ConfigKey]int),
	}
}

// SetMSR stores an MSR value for cpu.
func (p *Port) SetMSR(cpu int, index uint32, value uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.MSR[cpu] == nil {
		p.MSR[cpu] = make(map[uint32]uint64)
	}
	p.MSR[cpu][index] = value
}

// SetSMN stores a value behind the SMN index/data pair.
func (p *Port) SetSMN(address, value uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SMN[address] = value
}

// Calls returns how many times op was invoked.
func (p *Port) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// ConfigReads returns how many times (address, register) was read
// through the port.
func (p *Port) ConfigReads(address, register uint32) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.configReads[ConfigKey{Address: address, Register: register}]
}

// CPU returns the CPU the port currently answers for.
func (p *Port) CPU() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cpu
}

// Pin makes MSR operations answer for cpu until release.
func (p *Port) Pin(cpu int) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["Pin"]++
	if err := p.Fail["Pin"]; err != nil {
		return nil, err
	}
	previous := p.cpu
	p.cpu = cpu
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.cpu = previous
	}, nil
}

func (p *Port) begin(op string) error {
	p.calls[op]++
	return p.Fail[op]
}

func (p *Port) ReadMSR(index uint32) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("ReadMSR"); err != nil {
		return 0, err
	}
	value, ok := p.MSR[p.cpu][index]
	if !ok {
		return 0, fmt.Errorf("cpu %d msr 0x%x: %w", p.cpu, index, hwaccess.ErrUnavailable)
	}
	return value, nil
}

func (p *Port) WriteMSR(index uint32, value uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("WriteMSR"); err != nil {
		return err
	}
	if p.MSR[p.cpu] == nil {
		p.MSR[p.cpu] = make(map[uint32]uint64)
	}
	p.MSR[p.cpu][index] = value
	return nil
}

func (p *Port) ReadPort8(port uint16) (uint8, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("ReadPort8"); err != nil {
		return 0, err
	}
	value, ok := p.IO[port]
	if !ok {
		return 0, fmt.Errorf("port 0x%x: %w", port, hwaccess.ErrUnavailable)
	}
	return value, nil
}

func (p *Port) WritePort8(port uint16, value uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("WritePort8"); err != nil {
		return err
	}
	p.IO[port] = value
	return nil
}

func (p *Port) ReadConfig(address, register uint32) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("ReadConfig"); err != nil {
		return 0, err
	}
	key := ConfigKey{Address: address, Register: register}
	p.configReads[key]++
	if address == 0 && register == SMNDataRegister {
		value, ok := p.SMN[p.smnIndex]
		if !ok {
			return 0, fmt.Errorf("smn 0x%x: %w", p.smnIndex, hwaccess.ErrUnavailable)
		}
		return value, nil
	}
	value, ok := p.Config[key]
	if !ok {
		if register == 0 {
			return 0xFFFFFFFF, nil
		}
		return 0, fmt.Errorf("config 0x%x/0x%x: %w", address, register, hwaccess.ErrUnavailable)
	}
	return value, nil
}

func (p *Port) WriteConfig(address, register, value uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("WriteConfig"); err != nil {
		return err
	}
	if address == 0 && register == SMNIndexRegister {
		p.smnIndex = value
		return nil
	}
	p.Config[ConfigKey{Address: address, Register: register}] = value
	return nil
}

func (p *Port) ReadPhysical(address uint64, count int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("ReadPhysical"); err != nil {
		return nil, err
	}
	data := make([]byte, count)
	for i := range data {
		value, ok := p.Memory[address+uint64(i)]
		if !ok {
			return nil, fmt.Errorf("physical 0x%x: %w", address+uint64(i), hwaccess.ErrUnavailable)
		}
		data[i] = value
	}
	return data, nil
}
