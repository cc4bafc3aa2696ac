// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"errors"
	"time"

	"github.com/bureau-foundation/cputel/lib/hwaccess"
	"github.com/bureau-foundation/cputel/lib/topology"
)

// Op names a recorded operation.
type Op string

const (
	OpReadMSR      Op = "read_msr"
	OpWriteMSR     Op = "write_msr"
	OpReadPort8    Op = "read_port8"
	OpWritePort8   Op = "write_port8"
	OpReadConfig   Op = "read_config"
	OpWriteConfig  Op = "write_config"
	OpReadPhysical Op = "read_physical"

	OpTableVersion        Op = "table_version"
	OpCodeName            Op = "code_name"
	OpResolveTable        Op = "resolve_table"
	OpRequestTableRefresh Op = "request_table_refresh"
	OpReadTableHead       Op = "read_table_head"

	OpPin Op = "pin"
	OpNow Op = "now"
)

// Event is one recorded operation.
//
// A and B hold the arguments: the MSR index, port, configuration
// address and register, physical address and length, table word count,
// or target CPU. Value holds the result of a read or the value of a
// write; ResolveTable stores the version in Value and the base address
// in B.
type Event struct {
	Op    Op        `cbor:"op"`
	CPU   int       `cbor:"cpu"`
	A     uint64    `cbor:"a,omitempty"`
	B     uint64    `cbor:"b,omitempty"`
	Value uint64    `cbor:"value,omitempty"`
	Data  []byte    `cbor:"data,omitempty"`
	Words []uint32  `cbor:"words,omitempty"`
	Err   ErrorKind `cbor:"err,omitempty"`
	// Message is the original error text.
	Message string    `cbor:"message,omitempty"`
	At      time.Time `cbor:"at"`
}

// Trace is a complete recording.
type Trace struct {
	Identity topology.Identity `cbor:"identity"`
	Records  []topology.Record `cbor:"records"`
	// Mailbox reports whether the recorded backend had a telemetry
	// mailbox.
	Mailbox bool      `cbor:"mailbox"`
	Started time.Time `cbor:"started"`
	Events  []Event   `cbor:"events"`
}

// ErrorKind classifies a recorded error by the sentinel it wrapped.
type ErrorKind string

const (
	ErrorNone        ErrorKind = ""
	ErrorUnavailable ErrorKind = "unavailable"
	ErrorDenied      ErrorKind = "denied"
	ErrorImplausible ErrorKind = "implausible"
	ErrorContention  ErrorKind = "contention"
	ErrorMisaligned  ErrorKind = "misaligned"
	ErrorOther       ErrorKind = "other"
)

var sentinels = []struct {
	kind ErrorKind
	err  error
}{
	{ErrorUnavailable, hwaccess.ErrUnavailable},
	{ErrorDenied, hwaccess.ErrAccessDenied},
	{ErrorImplausible, hwaccess.ErrImplausible},
	{ErrorContention, hwaccess.ErrBusContention},
	{ErrorMisaligned, hwaccess.ErrMisaligned},
}

func classify(err error) (ErrorKind, string) {
	if err == nil {
		return ErrorNone, ""
	}
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel.err) {
			return sentinel.kind, err.Error()
		}
	}
	return ErrorOther, err.Error()
}

// replayedError reconstructs an error that still matches the original
// sentinel under errors.Is.
type replayedError struct {
	message  string
	sentinel error
}

func (e *replayedError) Error() string { return "replayed: " + e.message }
func (e *replayedError) Unwrap() error { return e.sentinel }

func (event Event) replayError() error {
	if event.Err == ErrorNone {
		return nil
	}
	for _, sentinel := range sentinels {
		if sentinel.kind == event.Err {
			return &replayedError{message: event.Message, sentinel: sentinel.err}
		}
	}
	return &replayedError{message: event.Message}
}
