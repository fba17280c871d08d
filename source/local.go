package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// defaultBatchSize is the number of rows per record batch read from parquet.
const defaultBatchSize = 32768

// LocalConfig holds configuration for a local filesystem source.
type LocalConfig struct {
	// Root is the directory containing parquet datasets. Required.
	Root string

	// Allocator for Arrow memory management.
	// OPTIONAL: Uses memory.DefaultAllocator if nil.
	Allocator memory.Allocator

	// BatchSize is the number of rows per record batch.
	// OPTIONAL: If 0, uses a 32768-row default.
	BatchSize int64
}

// Local serves parquet files under a directory root.
//
// Dataset keys are slash-separated paths relative to the root. Describe
// opens the file and fully scans it once, so discovery reports an exact
// row count at the cost of a full read per dataset.
type Local struct {
	root      string
	mem       memory.Allocator
	batchSize int64
}

// NewLocal creates a local filesystem source.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("local source: root is required")
	}

	mem := cfg.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &Local{
		root:      cfg.Root,
		mem:       mem,
		batchSize: batchSize,
	}, nil
}

// List walks the root directory and returns every parquet file whose
// relative path contains filter as a substring.
func (l *Local) List(ctx context.Context, filter string) ([]Dataset, error) {
	if _, err := os.Stat(l.root); err != nil {
		return nil, fmt.Errorf("%w: stat root %q: %v", ErrUnreachable, l.root, err)
	}

	var datasets []Dataset
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".parquet") {
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.Contains(key, filter) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		datasets = append(datasets, Dataset{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %q: %v", ErrUnreachable, l.root, err)
	}

	return datasets, nil
}

// Describe opens the dataset, reads its schema and scans every batch once
// to compute the exact row count. TotalBytes is reported as unknown; the
// interesting number for a local file is the row count, not the encoded
// size.
func (l *Local) Describe(ctx context.Context, key string) (Description, error) {
	r, err := l.Open(ctx, key)
	if err != nil {
		return Description{}, err
	}
	defer r.Close()

	schema := r.Schema()

	var rows int64
	for r.Next() {
		rows += r.RecordBatch().NumRows()
	}
	if err := r.Err(); err != nil {
		return Description{}, fmt.Errorf("%w: scan %q: %v", ErrUnreadable, key, err)
	}

	return Description{
		Schema:       schema,
		TotalRecords: rows,
		TotalBytes:   -1,
	}, nil
}

// Open returns a Reader over the parquet file named by key.
func (l *Local) Open(ctx context.Context, key string) (Reader, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: stat %q: %v", ErrUnreadable, key, err)
	}

	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrUnreadable, key, err)
	}

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: l.batchSize}, l.mem)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("%w: read %q: %v", ErrUnreadable, key, err)
	}

	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("%w: read %q: %v", ErrUnreadable, key, err)
	}

	return &localReader{RecordReader: rr, file: pf}, nil
}

// resolve maps a dataset key onto a filesystem path under the root.
// Keys that escape the root are rejected as not found rather than leaking
// arbitrary filesystem paths through tickets.
func (l *Local) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrNotFound)
	}

	path := filepath.Join(l.root, filepath.FromSlash(key))

	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	return path, nil
}

// localReader couples the record reader with the parquet file handle so
// both are released together.
type localReader struct {
	pqarrow.RecordReader
	file *file.Reader
}

func (r *localReader) Close() error {
	r.Release()
	return r.file.Close()
}
