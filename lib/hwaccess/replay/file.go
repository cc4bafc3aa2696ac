// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/cputel/lib/codec"
)

// Compression identifies how a trace body is stored. The values are
// part of the file format.
type Compression uint8

const (
	CompressionNone Compression = 0
	// CompressionLZ4 is LZ4 block compression.
	CompressionLZ4 Compression = 1
	// CompressionZstd is zstd at the default level. Traces are highly
	// repetitive, so this is the usual choice.
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a compression name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown trace compression %q", name)
	}
}

// ErrCorrupt reports a trace file that fails structural or digest
// checks.
var ErrCorrupt = errors.New("corrupt trace")

const (
	fileMagic   = "cputel-trace"
	fileVersion = 1
)

type envelope struct {
	Magic       string      `cbor:"magic"`
	Version     int         `cbor:"version"`
	Compression Compression `cbor:"compression"`
	// Size is the uncompressed body length.
	Size   int    `cbor:"size"`
	Digest []byte `cbor:"digest"`
	Body   []byte `cbor:"body"`
}

// traceDomainKey is "cputel.trace" in ASCII, zero-padded to the 32
// bytes BLAKE3 keyed mode requires.
var traceDomainKey = [32]byte{
	'c', 'p', 'u', 't', 'e', 'l', '.', 't', 'r', 'a', 'c', 'e',
}

func digest(body []byte) []byte {
	hasher, err := blake3.NewKeyed(traceDomainKey[:])
	if err != nil {
		panic("replay: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(body)
	return hasher.Sum(nil)
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("replay: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("replay: zstd decoder initialization failed: " + err.Error())
	}
}

var errIncompressible = errors.New("incompressible")

func compress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported trace compression %d", compression)
	}
}

func decompress(data []byte, compression Compression, size int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("body is %d bytes, header says %d: %w", len(data), size, ErrCorrupt)
		}
		return data, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(data, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w: %w", ErrCorrupt, err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d: %w", read, size, ErrCorrupt)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w: %w", ErrCorrupt, err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d: %w", len(result), size, ErrCorrupt)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported trace compression %d: %w", compression, ErrCorrupt)
	}
}

// Encode serializes a trace. Bodies that do not shrink under the
// requested compression are stored uncompressed.
func Encode(trace *Trace, compression Compression) ([]byte, error) {
	body, err := codec.Marshal(trace)
	if err != nil {
		return nil, fmt.Errorf("encoding trace body: %w", err)
	}
	stored, err := compress(body, compression)
	if errors.Is(err, errIncompressible) {
		stored, compression = body, CompressionNone
	} else if err != nil {
		return nil, err
	}
	return codec.Marshal(envelope{
		Magic:       fileMagic,
		Version:     fileVersion,
		Compression: compression,
		Size:        len(body),
		Digest:      digest(body),
		Body:        stored,
	})
}

// Decode parses and verifies a serialized trace.
func Decode(data []byte) (*Trace, error) {
	var header envelope
	if err := codec.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("decoding trace envelope: %w: %w", ErrCorrupt, err)
	}
	if header.Magic != fileMagic {
		return nil, fmt.Errorf("not a trace file (magic %q): %w", header.Magic, ErrCorrupt)
	}
	if header.Version != fileVersion {
		return nil, fmt.Errorf("unsupported trace version %d", header.Version)
	}
	if header.Size < 0 {
		return nil, fmt.Errorf("negative body size %d: %w", header.Size, ErrCorrupt)
	}
	body, err := decompress(header.Body, header.Compression, header.Size)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(digest(body), header.Digest) {
		return nil, fmt.Errorf("trace digest mismatch: %w", ErrCorrupt)
	}
	var trace Trace
	if err := codec.Unmarshal(body, &trace); err != nil {
		return nil, fmt.Errorf("decoding trace body: %w: %w", ErrCorrupt, err)
	}
	return &trace, nil
}

// WriteFile writes trace to path atomically. A crash leaves either the
// previous file or the new one, never a partial trace.
func WriteFile(path string, trace *Trace, compression Compression) error {
	data, err := Encode(trace, compression)
	if err != nil {
		return err
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary trace file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary trace file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary trace file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary trace file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming trace file into place: %w", err)
	}

	parent, err := os.Open(filepath.Dir(path))
	if err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// Load reads and verifies a trace file.
func Load(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	trace, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return trace, nil
}
