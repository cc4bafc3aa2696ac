// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/cputel/lib/codec"
	"github.com/bureau-foundation/cputel/lib/topology"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// sampleTrace returns a trace large and repetitive enough to compress.
func sampleTrace() *Trace {
	trace := &Trace{
		Identity: topology.Identity{Family: 0x19, Model: 0x21, Name: "AMD Ryzen 9 5950X 16-Core Processor"},
		Records:  []topology.Record{{CPU: 0, EBX: 0x100}, {CPU: 1, EBX: 0x100}},
		Mailbox:  true,
		Started:  epoch,
	}
	for i := range 200 {
		at := epoch.Add(time.Duration(i) * time.Millisecond)
		trace.Events = append(trace.Events,
			Event{Op: OpReadMSR, CPU: i % 2, A: 0xC001029B, Value: uint64(i) * 1000, At: at},
			Event{Op: OpNow, CPU: -1, At: at.Add(time.Microsecond)},
		)
	}
	trace.Events = append(trace.Events,
		Event{Op: OpReadTableHead, CPU: -1, A: 4, Words: []uint32{1, 2, 3, 4}, At: epoch},
		Event{Op: OpReadConfig, CPU: -1, A: 0, B: 0x64, Err: ErrorContention, Message: "busy", At: epoch},
	)
	return trace
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			original := sampleTrace()
			data, err := Encode(original, compression)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if decoded.Identity != original.Identity {
				t.Errorf("Identity = %+v, want %+v", decoded.Identity, original.Identity)
			}
			if len(decoded.Records) != 2 || decoded.Records[1] != original.Records[1] {
				t.Errorf("Records = %+v, want %+v", decoded.Records, original.Records)
			}
			if !decoded.Mailbox {
				t.Error("Mailbox = false, want true")
			}
			if !decoded.Started.Equal(original.Started) {
				t.Errorf("Started = %v, want %v", decoded.Started, original.Started)
			}
			if len(decoded.Events) != len(original.Events) {
				t.Fatalf("len(Events) = %d, want %d", len(decoded.Events), len(original.Events))
			}
			for i, event := range decoded.Events {
				want := original.Events[i]
				if event.Op != want.Op || event.CPU != want.CPU || event.A != want.A ||
					event.B != want.B || event.Value != want.Value || event.Err != want.Err ||
					!event.At.Equal(want.At) {
					t.Fatalf("Events[%d] = %+v, want %+v", i, event, want)
				}
			}
			last := decoded.Events[len(decoded.Events)-2]
			if len(last.Words) != 4 || last.Words[3] != 4 {
				t.Errorf("Words = %v, want [1 2 3 4]", last.Words)
			}
		})
	}
}

func TestEncodeCompresses(t *testing.T) {
	for _, compression := range []Compression{CompressionLZ4, CompressionZstd} {
		data, err := Encode(sampleTrace(), compression)
		if err != nil {
			t.Fatalf("Encode(%s): %v", compression, err)
		}
		var header envelope
		if err := codec.Unmarshal(data, &header); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if header.Compression != compression {
			t.Errorf("stored compression = %s, want %s", header.Compression, compression)
		}
		if len(header.Body) >= header.Size {
			t.Errorf("%s body %d bytes, uncompressed %d", compression, len(header.Body), header.Size)
		}
	}
}

func TestEncodeFallsBackWhenIncompressible(t *testing.T) {
	data, err := Encode(&Trace{Started: epoch}, CompressionLZ4)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var header envelope
	if err := codec.Unmarshal(data, &header); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if header.Compression != CompressionNone {
		t.Errorf("stored compression = %s, want none", header.Compression)
	}
	if _, err := Decode(data); err != nil {
		t.Errorf("Decode: %v", err)
	}
}

func TestDecodeRejectsTampering(t *testing.T) {
	data, err := Encode(sampleTrace(), CompressionNone)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var header envelope
	if err := codec.Unmarshal(data, &header); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*envelope)
	}{
		{"body", func(e *envelope) { e.Body[len(e.Body)/2] ^= 0xFF }},
		{"digest", func(e *envelope) { e.Digest[0] ^= 0xFF }},
		{"magic", func(e *envelope) { e.Magic = "something-else" }},
		{"size", func(e *envelope) { e.Size++ }},
		{"compression", func(e *envelope) { e.Compression = 9 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mutated := header
			mutated.Body = append([]byte(nil), header.Body...)
			mutated.Digest = append([]byte(nil), header.Digest...)
			test.mutate(&mutated)
			encoded, err := codec.Marshal(mutated)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if _, err := Decode(encoded); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Decode error = %v, want ErrCorrupt", err)
			}
		})
	}

	if _, err := Decode([]byte{0xFF, 0x00}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Decode(garbage) error = %v, want ErrCorrupt", err)
	}
}

func TestWriteFileAndLoad(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "trace.cbor")

	if err := WriteFile(path, sampleTrace(), CompressionZstd); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// Overwrite to exercise replacement.
	replacement := sampleTrace()
	replacement.Identity.Name = "replacement"
	if err := WriteFile(path, replacement, CompressionZstd); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Identity.Name != "replacement" {
		t.Errorf("Identity.Name = %q, want replacement", loaded.Identity.Name)
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the trace", len(entries))
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestWriteFileMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "trace.cbor")
	if err := WriteFile(path, sampleTrace(), CompressionNone); err == nil {
		t.Error("WriteFile into missing directory succeeded")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load error = %v, want os.ErrNotExist", err)
	}
}

func TestParseCompression(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		parsed, err := ParseCompression(compression.String())
		if err != nil || parsed != compression {
			t.Errorf("ParseCompression(%q) = %v, %v", compression.String(), parsed, err)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("ParseCompression(gzip) succeeded")
	}
}
