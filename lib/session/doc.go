// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the hardware access resources for one decoder
// instance: the register port, the optional SMU mailbox, the processor
// pinner, the configuration-bus lock, and the caches in front of them.
//
// A Session is opened explicitly and closed explicitly. It is passed
// to the topology consumer and the metric engine at construction
// instead of living in process-wide state:
//
//	s, err := session.Open(session.Config{
//	    Port:    backend,
//	    Mailbox: backend,
//	    Pinner:  affinity.OS(),
//	    Bus:     busMutex,
//	    Clock:   clock.Real(),
//	    Logger:  logger,
//	})
//	defer s.Close()
//
// SMN registers are reached through the host bridge's index/data pair
// at configuration offsets 0x60/0x64. That pair is shared by every
// process on the machine, so [Session.ReadSMN] must only be called
// between [Session.LockBus] and its release.
package session
