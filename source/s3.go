package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API defines the subset of the S3 client interface used by the source.
// This enables testing with mock implementations.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds configuration for an S3-backed source.
type S3Config struct {
	// Bucket is the S3 bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix for all operations.
	// If set, dataset keys are relative to it (a trailing slash is added
	// if missing).
	Prefix string

	// Allocator for Arrow memory management.
	// OPTIONAL: Uses memory.DefaultAllocator if nil.
	Allocator memory.Allocator

	// BatchSize is the number of rows per record batch.
	// OPTIONAL: If 0, uses a 32768-row default.
	BatchSize int64
}

// S3 serves parquet objects from an S3-compatible bucket.
//
// Unlike Local, Describe never opens the object: discovery reports the
// store's byte size with an unknown schema and row count, and clients get
// the authoritative schema from the stream itself. Open buffers the whole
// object in memory before decoding; parquet footers require random access
// and objects served this way are expected to fit comfortably in memory.
type S3 struct {
	client    S3API
	bucket    string
	prefix    string
	mem       memory.Allocator
	batchSize int64
}

// NewS3 creates an S3-backed source with the given client and configuration.
//
// The client must be pre-configured with credentials, region, and endpoint.
// Use NewS3Client for common setups (AWS, anonymous public buckets, MinIO).
func NewS3(client S3API, cfg S3Config) (*S3, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 source: client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 source: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	mem := cfg.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &S3{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    prefix,
		mem:       mem,
		batchSize: batchSize,
	}, nil
}

// List enumerates every parquet object in the bucket whose key contains
// filter as a substring. Listing follows S3 continuation tokens until the
// result is complete.
func (s *S3) List(ctx context.Context, filter string) ([]Dataset, error) {
	var datasets []Dataset
	var continuationToken *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: list bucket %q: %v", ErrUnreachable, s.bucket, err)
		}

		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			key := strings.TrimPrefix(*obj.Key, s.prefix)
			if !strings.HasSuffix(key, ".parquet") || !strings.Contains(key, filter) {
				continue
			}
			datasets = append(datasets, Dataset{Key: key, Size: aws.ToInt64(obj.Size)})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	return datasets, nil
}

// Describe reports the store's metadata for the object without opening it:
// unknown schema, unknown row count, exact byte size. TotalBytes is the
// object size in bytes, not a row count.
func (s *S3) Describe(ctx context.Context, key string) (Description, error) {
	fullKey, err := s.resolve(key)
	if err != nil {
		return Description{}, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return Description{}, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		return Description{}, fmt.Errorf("%w: head %q: %v", ErrUnreachable, key, err)
	}

	return Description{
		Schema:       nil,
		TotalRecords: -1,
		TotalBytes:   aws.ToInt64(out.ContentLength),
	}, nil
}

// Open fetches the object and returns a Reader over its record batches.
func (s *S3) Open(ctx context.Context, key string) (Reader, error) {
	fullKey, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: get %q: %v", ErrUnreachable, key, err)
	}
	defer out.Body.Close()

	// Parquet decoding needs random access to reach the footer, so the
	// object is buffered before handing it to the reader.
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: download %q: %v", ErrUnreadable, key, err)
	}

	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrUnreadable, key, err)
	}

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: s.batchSize}, s.mem)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("%w: read %q: %v", ErrUnreadable, key, err)
	}

	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("%w: read %q: %v", ErrUnreadable, key, err)
	}

	return &s3Reader{RecordReader: rr, file: pf}, nil
}

// resolve maps a dataset key onto a full object key under the prefix.
func (s *S3) resolve(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return s.prefix + key, nil
}

// s3Reader couples the record reader with the decoded object so both are
// released together.
type s3Reader struct {
	pqarrow.RecordReader
	file *file.Reader
}

func (r *s3Reader) Close() error {
	r.Release()
	return r.file.Close()
}

// isNotFound checks if an error indicates the object was not found.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}
