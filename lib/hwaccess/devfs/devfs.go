// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"

	"github.com/bureau-foundation/cputel/lib/affinity"
	"github.com/bureau-foundation/cputel/lib/hwaccess"
	"github.com/bureau-foundation/cputel/lib/topology"
)

// DefaultSMUDir is the ryzen_smu driver's sysfs directory relative to
// the filesystem root.
const DefaultSMUDir = "sys/kernel/ryzen_smu_drv"

// leafExtendedAPIC is the CPUID leaf carrying core and node ids.
const leafExtendedAPIC = 0x8000001E

// Options configures a Backend. The zero value addresses the live
// system.
type Options struct {
	// Root is prepended to every device path. Defaults to "/".
	Root string

	// SMUDir is the telemetry driver directory, relative to Root.
	SMUDir string

	// CurrentCPU reports the processor MSR operations address.
	// Defaults to affinity.CurrentCPU.
	CurrentCPU func() (int, error)

	Logger *slog.Logger
}

type fileKey struct {
	path  string
	write bool
}

// Backend implements hwaccess.Port over device files.
type Backend struct {
	root       string
	smuDir     string
	currentCPU func() (int, error)
	logger     *slog.Logger

	mu     sync.Mutex
	files  map[fileKey]*os.File
	closed bool
}

func newBackend(options Options) *Backend {
	if options.Root == "" {
		options.Root = "/"
	}
	if options.SMUDir == "" {
		options.SMUDir = DefaultSMUDir
	}
	if options.CurrentCPU == nil {
		options.CurrentCPU = affinity.CurrentCPU
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Backend{
		root:       options.Root,
		smuDir:     filepath.Join(options.Root, options.SMUDir),
		currentCPU: options.CurrentCPU,
		logger:     options.Logger.With("component", "devfs"),
		files:      make(map[fileKey]*os.File),
	}
}

func (b *Backend) path(elements ...string) string {
	return filepath.Join(append([]string{b.root}, elements...)...)
}

// classify wraps a filesystem error in the matching register sentinel.
func classify(what string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%s: %w: %w", what, hwaccess.ErrAccessDenied, err)
	}
	return fmt.Errorf("%s: %w: %w", what, hwaccess.ErrUnavailable, err)
}

func (b *Backend) file(path string, write bool) (*os.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("devfs backend closed: %w", hwaccess.ErrUnavailable)
	}
	key := fileKey{path: path, write: write}
	if file, ok := b.files[key]; ok {
		return file, nil
	}
	flag := os.O_RDONLY
	if write {
		flag = os.O_WRONLY
	}
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, classify("opening "+path, err)
	}
	b.files[key] = file
	return file, nil
}

func (b *Backend) readAt(path string, buffer []byte, offset int64) error {
	file, err := b.file(path, false)
	if err != nil {
		return err
	}
	read, err := pread(file, buffer, offset)
	if err != nil {
		return classify(fmt.Sprintf("reading %s at 0x%x", path, offset), err)
	}
	if read != len(buffer) {
		return fmt.Errorf("reading %s at 0x%x: short read (%d of %d bytes): %w",
			path, offset, read, len(buffer), hwaccess.ErrUnavailable)
	}
	return nil
}

func (b *Backend) writeAt(path string, buffer []byte, offset int64) error {
	file, err := b.file(path, true)
	if err != nil {
		return err
	}
	written, err := pwrite(file, buffer, offset)
	if err != nil {
		return classify(fmt.Sprintf("writing %s at 0x%x", path, offset), err)
	}
	if written != len(buffer) {
		return fmt.Errorf("writing %s at 0x%x: short write: %w", path, offset, hwaccess.ErrUnavailable)
	}
	return nil
}

func (b *Backend) msrPath() (string, error) {
	cpu, err := b.currentCPU()
	if err != nil {
		return "", err
	}
	return b.path("dev/cpu", strconv.Itoa(cpu), "msr"), nil
}

// ReadMSR reads a model-specific register of the processor the calling
// thread is pinned to, through /dev/cpu/N/msr.
func (b *Backend) ReadMSR(index uint32) (uint64, error) {
	path, err := b.msrPath()
	if err != nil {
		return 0, err
	}
	var buffer [8]byte
	if err := b.readAt(path, buffer[:], int64(index)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buffer[:]), nil
}

// WriteMSR writes a model-specific register of the processor the
// calling thread is pinned to.
func (b *Backend) WriteMSR(index uint32, value uint64) error {
	path, err := b.msrPath()
	if err != nil {
		return err
	}
	var buffer [8]byte
	binary.LittleEndian.PutUint64(buffer[:], value)
	return b.writeAt(path, buffer[:], int64(index))
}

// ReadPort8 reads one byte from an I/O port through /dev/port.
func (b *Backend) ReadPort8(port uint16) (uint8, error) {
	var buffer [1]byte
	if err := b.readAt(b.path("dev/port"), buffer[:], int64(port)); err != nil {
		return 0, err
	}
	return buffer[0], nil
}

// WritePort8 writes one byte to an I/O port through /dev/port.
func (b *Backend) WritePort8(port uint16, value uint8) error {
	return b.writeAt(b.path("dev/port"), []byte{value}, int64(port))
}

func (b *Backend) configPath(address uint32) string {
	bus, device, function := hwaccess.SplitPCIAddress(address)
	return b.path("sys/bus/pci/devices", fmt.Sprintf("0000:%02x:%02x.%x", bus, device, function), "config")
}

// ReadConfig reads a configuration-space dword of the PCI function at
// address. register must be dword aligned. An absent function reports
// [hwaccess.ErrUnavailable].
func (b *Backend) ReadConfig(address, register uint32) (uint32, error) {
	if err := hwaccess.CheckAligned(register); err != nil {
		return 0, err
	}
	var buffer [4]byte
	if err := b.readAt(b.configPath(address), buffer[:], int64(register)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buffer[:]), nil
}

// WriteConfig writes a configuration-space dword of the PCI function at
// address. register must be dword aligned.
func (b *Backend) WriteConfig(address, register, value uint32) error {
	if err := hwaccess.CheckAligned(register); err != nil {
		return err
	}
	var buffer [4]byte
	binary.LittleEndian.PutUint32(buffer[:], value)
	return b.writeAt(b.configPath(address), buffer[:], int64(register))
}

// ReadPhysical reads count bytes of physical memory through /dev/mem.
func (b *Backend) ReadPhysical(address uint64, count int) ([]byte, error) {
	if count <= 0 {
		return nil, nil
	}
	buffer := make([]byte, count)
	if err := b.readAt(b.path("dev/mem"), buffer, int64(address)); err != nil {
		return nil, err
	}
	return buffer, nil
}

// CPUID executes a CPUID leaf on cpu through the cpuid driver.
func (b *Backend) CPUID(cpu int, leaf, subleaf uint32) (eax, ebx, ecx, edx uint32, err error) {
	var buffer [16]byte
	path := b.path("dev/cpu", strconv.Itoa(cpu), "cpuid")
	if err := b.readAt(path, buffer[:], int64(leaf)|int64(subleaf)<<32); err != nil {
		return 0, 0, 0, 0, err
	}
	return binary.LittleEndian.Uint32(buffer[0:]),
		binary.LittleEndian.Uint32(buffer[4:]),
		binary.LittleEndian.Uint32(buffer[8:]),
		binary.LittleEndian.Uint32(buffer[12:]), nil
}

// OnlineCPUs returns the kernel's online processor list.
func (b *Backend) OnlineCPUs() ([]int, error) {
	data, err := os.ReadFile(b.path("sys/devices/system/cpu/online"))
	if err != nil {
		return nil, classify("reading online cpus", err)
	}
	return parseCPUList(string(data))
}

// Records returns an identification record for every online processor.
func (b *Backend) Records() ([]topology.Record, error) {
	cpus, err := b.OnlineCPUs()
	if err != nil {
		return nil, err
	}
	records := make([]topology.Record, 0, len(cpus))
	for _, cpu := range cpus {
		_, ebx, ecx, _, err := b.CPUID(cpu, leafExtendedAPIC, 0)
		if err != nil {
			return nil, fmt.Errorf("cpu %d: %w", cpu, err)
		}
		records = append(records, topology.Record{CPU: cpu, EBX: ebx, ECX: ecx})
	}
	return records, nil
}

// Identity returns the host processor's family, model, and brand
// string.
func (b *Backend) Identity() topology.Identity {
	return topology.Identity{
		Family: uint32(cpuid.CPU.Family),
		Model:  uint32(cpuid.CPU.Model),
		Name:   strings.TrimSpace(cpuid.CPU.BrandName),
	}
}

// Mailbox returns the telemetry mailbox, or nil when the ryzen_smu
// driver is not loaded.
func (b *Backend) Mailbox() hwaccess.Mailbox {
	if _, err := os.Stat(filepath.Join(b.smuDir, "pm_table")); err != nil {
		b.logger.Debug("telemetry table unavailable", "directory", b.smuDir, "error", err)
		return nil
	}
	return &smuMailbox{directory: b.smuDir}
}

// Close closes every cached device file. Close is idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	for key, file := range b.files {
		if err := file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", key.path, err))
		}
	}
	clear(b.files)
	return errors.Join(errs...)
}

// smuMailbox reads the table the ryzen_smu driver exports. The driver
// transfers a fresh snapshot on every read of pm_table, so refresh
// requests need no action, and the table has no physical address of
// its own.
type smuMailbox struct {
	directory string
}

func (m *smuMailbox) read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(m.directory, name))
	if err != nil {
		return nil, classify("reading "+name, err)
	}
	return data, nil
}

func (m *smuMailbox) TableVersion() (uint32, error) {
	data, err := m.read("pm_table_version")
	if err != nil {
		return 0, err
	}
	// The driver exports the version as a raw little-endian word.
	if len(data) == 4 {
		return binary.LittleEndian.Uint32(data), nil
	}
	version, err := strconv.ParseUint(strings.TrimSpace(string(data)), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing pm_table_version %q: %w", data, hwaccess.ErrUnavailable)
	}
	return uint32(version), nil
}

func (m *smuMailbox) CodeName() (uint32, error) {
	data, err := m.read("codename")
	if err != nil {
		return 0, err
	}
	code, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing codename %q: %w", data, hwaccess.ErrUnavailable)
	}
	return uint32(code), nil
}

func (m *smuMailbox) ResolveTable() (uint32, uint64, error) {
	version, err := m.TableVersion()
	return version, 0, err
}

func (m *smuMailbox) RequestTableRefresh() error { return nil }

func (m *smuMailbox) ReadTableHead(words int) ([]uint32, error) {
	data, err := m.read("pm_table")
	if err != nil {
		return nil, err
	}
	words = max(0, min(words, len(data)/4))
	head := make([]uint32, words)
	for i := range head {
		head[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return head, nil
}
