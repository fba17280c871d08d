// Package testutil provides parquet fixture helpers shared by tests.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// Schema is the schema every parquet fixture uses: one int64 id column and
// one string name column.
func Schema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
}

// Batch builds one record batch with rows sequential ids starting at base.
// The caller owns the returned batch.
func Batch(t *testing.T, base int64, rows int) arrow.RecordBatch {
	t.Helper()

	builder := array.NewRecordBuilder(memory.DefaultAllocator, Schema())
	defer builder.Release()

	ids := builder.Field(0).(*array.Int64Builder)
	names := builder.Field(1).(*array.StringBuilder)
	for i := 0; i < rows; i++ {
		ids.Append(base + int64(i))
		names.Append("row")
	}

	return builder.NewRecordBatch()
}

// ParquetBytes builds an in-memory parquet file with one record batch per
// entry of batchRows.
func ParquetBytes(t *testing.T, batchRows ...int) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(Schema(), &buf, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		t.Fatalf("parquet writer: %v", err)
	}

	var base int64
	for _, rows := range batchRows {
		batch := Batch(t, base, rows)
		err := w.Write(batch)
		batch.Release()
		if err != nil {
			t.Fatalf("write batch: %v", err)
		}
		base += int64(rows)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}

	return buf.Bytes()
}

// WriteParquet writes a parquet file at path with one record batch per
// entry of batchRows, creating parent directories as needed. Returns the
// total row count written.
func WriteParquet(t *testing.T, path string, batchRows ...int) int64 {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	w, err := pqarrow.NewFileWriter(Schema(), f, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		t.Fatalf("parquet writer for %s: %v", path, err)
	}

	var total int64
	var base int64
	for _, rows := range batchRows {
		batch := Batch(t, base, rows)
		err := w.Write(batch)
		batch.Release()
		if err != nil {
			t.Fatalf("write batch to %s: %v", path, err)
		}
		total += int64(rows)
		base += int64(rows)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close parquet writer for %s: %v", path, err)
	}

	return total
}
