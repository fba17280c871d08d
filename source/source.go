// Package source provides the dataset source abstraction for Apron Flight servers.
//
// A Source enumerates the parquet datasets of one backing store and opens
// them as streams of Arrow record batches. Two implementations are provided:
//   - Local: datasets are parquet files under a directory root
//   - S3: datasets are parquet objects in an S3-compatible bucket
//
// Callers (the Flight handlers) depend only on the Source interface. All
// methods MUST be goroutine-safe: a server shares one Source across every
// client session, while each session owns its own Reader handle.
package source

import (
	"context"
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Standard errors returned by Source implementations.
// Wrap with fmt.Errorf("...: %w", err) so callers can use errors.Is.
var (
	// ErrNotFound indicates the key does not name a dataset in the store.
	ErrNotFound = errors.New("dataset not found")

	// ErrUnreadable indicates the dataset exists but could not be opened
	// or scanned (corrupt file, unsupported encoding, permission denied).
	ErrUnreadable = errors.New("dataset unreadable")

	// ErrUnreachable indicates the backing store itself could not be
	// reached (network failure, bad credentials, missing root directory).
	ErrUnreachable = errors.New("store unreachable")
)

// Dataset names one retrievable dataset within a store.
//
// Key is the backend-relative path (e.g. "2019/06/trips.parquet") and is
// the identity clients see in flight descriptors. Size is the stored object
// size in bytes, or -1 when the backend does not report one.
type Dataset struct {
	Key  string
	Size int64
}

// Description is the discovery-time metadata for one dataset.
//
// Backends that cannot answer a field without opening the dataset report it
// as unknown instead: Schema may be nil, and counts use -1 for unknown.
// The authoritative schema is always the first message of the data stream,
// so callers must treat a nil Schema here as "ask the stream".
type Description struct {
	// Schema is the Arrow schema, or nil when the backend chooses not to
	// open the dataset during discovery.
	Schema *arrow.Schema

	// TotalRecords is the exact row count, or -1 when unknown.
	// When non-negative it MUST equal the number of rows a full read of
	// the dataset yields.
	TotalRecords int64

	// TotalBytes is the stored size in bytes, or -1 when unknown.
	// This is a byte count, never a row count.
	TotalBytes int64
}

// Reader streams the record batches of one open dataset.
//
// The schema is available before the first batch. Batches are yielded in
// storage order. Close releases the underlying file or object handle and
// must be called on every exit path, including errors.
type Reader interface {
	array.RecordReader

	Close() error
}

// Source is the capability interface over one dataset store.
type Source interface {
	// List enumerates datasets whose key contains filter as a
	// case-sensitive substring. An empty filter matches all datasets.
	// Enumeration order is the backend's listing order; no duplicates.
	List(ctx context.Context, filter string) ([]Dataset, error)

	// Describe returns discovery-time metadata for the dataset named by
	// key. How much is known depends on the backend; see Description.
	Describe(ctx context.Context, key string) (Description, error)

	// Open returns a Reader over the dataset named by key. The caller
	// owns the Reader and must Close it.
	Open(ctx context.Context, key string) (Reader, error)
}
