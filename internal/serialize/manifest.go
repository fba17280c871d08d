// Package serialize builds the compact dataset manifest payload returned
// by the list_datasets server action.
package serialize

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/apron-data/apron-go/internal/msgpack"
)

// ManifestEntry describes one dataset in a manifest payload.
type ManifestEntry struct {
	// Key is the backend-relative dataset key.
	Key string `msgpack:"key"`

	// Size is the stored size in bytes, or -1 when the backend does not
	// report one.
	Size int64 `msgpack:"size"`
}

// EncodeManifest serializes entries as MessagePack and compresses the
// result with ZStandard. Safe for concurrent use; encoder state is local
// to each call.
func EncodeManifest(entries []ManifestEntry) ([]byte, error) {
	data, err := msgpack.Encode(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// DecodeManifest decompresses and deserializes a manifest payload.
func DecodeManifest(compressed []byte) ([]ManifestEntry, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress manifest: %w", err)
	}

	var entries []ManifestEntry
	if err := msgpack.Decode(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	return entries, nil
}
