// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package feedstore

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm used for a
// stored record blob. The tag is stored alongside each row — these
// values are format constants and changing them breaks existing
// stores.
type CompressionTag uint8

const (
	// CompressionNone stores the canonical encoding as-is. Also the
	// fallback when a record does not shrink under the configured
	// algorithm (tiny records usually don't).
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression: cheap CPU, modest
	// ratio. Reasonable for stores on slow media.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level. Records are
	// mostly text-like CBOR, which zstd handles well. The default.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a compression tag from its string
// representation. Used by the config loader.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// errIncompressible signals that compression did not shrink the input.
// The caller falls back to CompressionNone.
var errIncompressible = errors.New("incompressible data")

// compressBlob compresses a record's canonical encoding with the
// requested algorithm. Returns the bytes to store and the tag actually
// used — CompressionNone when the data did not shrink.
func compressBlob(data []byte, tag CompressionTag) ([]byte, CompressionTag, error) {
	switch tag {
	case CompressionNone:
		return data, CompressionNone, nil

	case CompressionLZ4:
		compressed, err := compressLZ4(data)
		if errors.Is(err, errIncompressible) {
			return data, CompressionNone, nil
		}
		if err != nil {
			return nil, 0, err
		}
		return compressed, CompressionLZ4, nil

	case CompressionZstd:
		compressed, err := compressZstd(data)
		if errors.Is(err, errIncompressible) {
			return data, CompressionNone, nil
		}
		if err != nil {
			return nil, 0, err
		}
		return compressed, CompressionZstd, nil

	default:
		return nil, 0, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// decompressBlob reverses compressBlob. rawSize must match the
// original encoding length exactly — verified, and a mismatch is an
// error rather than a truncated record.
func decompressBlob(stored []byte, tag CompressionTag, rawSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(stored) != rawSize {
			return nil, fmt.Errorf("uncompressed record: size %d does not match expected %d", len(stored), rawSize)
		}
		return stored, nil

	case CompressionLZ4:
		destination := make([]byte, rawSize)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawSize)
		}
		return destination, nil

	case CompressionZstd:
		destination, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(destination) != rawSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(destination), rawSize)
		}
		return destination, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when it determines the data is
	// incompressible. Also reject output that failed to shrink.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}

	return destination[:written], nil
}

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("feedstore: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("feedstore: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}
