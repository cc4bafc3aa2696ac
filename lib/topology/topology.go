// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"slices"
	"sync/atomic"
)

// Record is the raw identification of one logical processor.
type Record struct {
	// CPU is the operating system's logical processor number, the
	// value a pinner binds to.
	CPU int `json:"cpu"`

	// EBX and ECX are CPUID Fn8000_001E outputs.
	EBX uint32 `json:"ebx"`
	ECX uint32 `json:"ecx"`
}

// CoreID returns the raw core id, CPUID Fn8000_001E_EBX[7:0].
func (r Record) CoreID() int { return int(r.EBX & 0xFF) }

// ThreadsPerCore returns CPUID Fn8000_001E_EBX[15:8] + 1.
func (r Record) ThreadsPerCore() int { return int((r.EBX>>8)&0xFF) + 1 }

// NodeID returns the raw node id, CPUID Fn8000_001E_ECX[7:0].
func (r Record) NodeID() int { return int(r.ECX & 0xFF) }

// NodesPerProcessor returns CPUID Fn8000_001E_ECX[10:8] + 1.
func (r Record) NodesPerProcessor() int { return int((r.ECX>>8)&0x7) + 1 }

// Identity describes the processor package.
type Identity struct {
	Family uint32 `json:"family"`
	Model  uint32 `json:"model"`
	// Name is the CPUID brand string, e.g. "AMD Ryzen 7 1800X
	// Eight-Core Processor".
	Name string `json:"name"`
}

// Processor is the root of a built topology.
type Processor struct {
	// Generation distinguishes separate builds within one process.
	Generation uint64
	Nodes      []*Node
}

// Node is one compute die or NUMA grouping.
type Node struct {
	ID    int
	Cores []*Core
}

// Core is one physical core.
type Core struct {
	// ID is contiguous from 1 within the node.
	ID int
	// RawID is the hardware core id the core was built from.
	RawID   int
	Threads []Thread
}

// Thread is one logical processor.
type Thread struct {
	CPU    int
	Record Record
}

var generation atomic.Uint64

// Build constructs the tree. Records are sorted by raw core id (stable,
// so equal ids keep their input order); a node is created on the first
// record naming it, and a new core id is allocated in that node
// whenever the raw core id changes from the node's previous record.
//
// An empty input returns a Processor with no nodes.
func Build(records []Record) *Processor {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b Record) int {
		return a.CoreID() - b.CoreID()
	})

	processor := &Processor{Generation: generation.Add(1)}
	type nodeState struct {
		node      *Node
		lastRawID int
	}
	nodes := make(map[int]*nodeState)

	for _, record := range sorted {
		state, ok := nodes[record.NodeID()]
		if !ok {
			state = &nodeState{node: &Node{ID: record.NodeID()}, lastRawID: -1}
			nodes[record.NodeID()] = state
			processor.Nodes = append(processor.Nodes, state.node)
		}

		if record.CoreID() != state.lastRawID {
			state.node.Cores = append(state.node.Cores, &Core{
				ID:    len(state.node.Cores) + 1,
				RawID: record.CoreID(),
			})
			state.lastRawID = record.CoreID()
		}

		core := state.node.Cores[len(state.node.Cores)-1]
		core.Threads = append(core.Threads, Thread{CPU: record.CPU, Record: record})
	}

	return processor
}

// ThreadCount returns the number of threads in the tree.
func (p *Processor) ThreadCount() int {
	count := 0
	for _, node := range p.Nodes {
		for _, core := range node.Cores {
			count += len(core.Threads)
		}
	}
	return count
}

// CoreCount returns the number of cores across all nodes.
func (p *Processor) CoreCount() int {
	count := 0
	for _, node := range p.Nodes {
		count += len(node.Cores)
	}
	return count
}

// Cores returns every core in node order.
func (p *Processor) Cores() []*Core {
	var cores []*Core
	for _, node := range p.Nodes {
		cores = append(cores, node.Cores...)
	}
	return cores
}

// FirstThread returns the first thread of the first core of the first
// node, the processor used for package-level reads.
func (p *Processor) FirstThread() (Thread, bool) {
	for _, node := range p.Nodes {
		for _, core := range node.Cores {
			if len(core.Threads) > 0 {
				return core.Threads[0], true
			}
		}
	}
	return Thread{}, false
}

// Empty reports whether the tree has no nodes.
func (p *Processor) Empty() bool { return len(p.Nodes) == 0 }
