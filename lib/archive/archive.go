// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive compresses extension archive payloads for storage
// in an ExtensionInstalled envelope (§6.1's xpi_data field) as zstd +
// base64. Pack compresses with klauspost/compress's strongest encoder
// setting, SpeedBestCompression; that library has no zstd level 19, so
// the output is not what a level-19 encoder would produce (any zstd
// decoder still reads it). The setting trades encode speed for ratio,
// since packaging happens once per install rather than on a hot path.
package archive

import (
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Pack compresses raw archive bytes and returns the base64 text that
// belongs in an envelope's xpi_data field.
func Pack(raw []byte) (string, error) {
	compressed, err := compress(raw)
	if err != nil {
		return "", fmt.Errorf("archive: compressing: %w", err)
	}
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// Unpack reverses Pack, returning the original archive bytes.
func Unpack(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("archive: decoding base64: %w", err)
	}
	raw, err := decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("archive: decompressing: %w", err)
	}
	return raw, nil
}

func compress(raw []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(raw, nil), nil
}

func decompress(compressed []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	defer decoder.Close()
	return decoder.DecodeAll(compressed, nil)
}
