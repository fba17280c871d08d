package apron_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	arrowflight "github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/apron-data/apron-go"
	"github.com/apron-data/apron-go/client"
	"github.com/apron-data/apron-go/flight"
	"github.com/apron-data/apron-go/internal/testutil"
	"github.com/apron-data/apron-go/source"
)

// startServer runs an in-process Apron server over src and returns its
// address plus a connected client.
func startServer(t *testing.T, src source.Source) (string, *client.Client) {
	t.Helper()

	config := apron.ServerConfig{
		Source: src,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	grpcServer := grpc.NewServer(apron.ServerOptions(config)...)
	if err := apron.NewServer(grpcServer, config); err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	c, err := client.New(lis.Addr().String())
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return lis.Addr().String(), c
}

// newLocalServer serves a temp directory with trips_2019.parquet (3 rows),
// trips_2020.parquet (5 rows across 2 batches) and a non-dataset file.
func newLocalServer(t *testing.T) (string, *client.Client) {
	t.Helper()

	root := t.TempDir()
	testutil.WriteParquet(t, filepath.Join(root, "trips_2019.parquet"), 3)
	testutil.WriteParquet(t, filepath.Join(root, "trips_2020.parquet"), 3, 2)

	src, err := source.NewLocal(source.LocalConfig{Root: root})
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	return startServer(t, src)
}

func TestNewServerRequiresSource(t *testing.T) {
	if err := apron.NewServer(grpc.NewServer(), apron.ServerConfig{}); err == nil {
		t.Error("NewServer(no source) expected error")
	}
}

func TestDiscoveryReturnsExactMatchingSet(t *testing.T) {
	_, c := newLocalServer(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		criteria string
		want     []string
	}{
		{
			name:     "empty criteria matches all",
			criteria: "",
			want:     []string{"trips_2019.parquet", "trips_2020.parquet"},
		},
		{
			name:     "substring criteria",
			criteria: "2019",
			want:     []string{"trips_2019.parquet"},
		},
		{
			name:     "no match",
			criteria: "zzz",
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			infos, err := c.ListDatasets(ctx, tt.criteria)
			if err != nil {
				t.Fatalf("ListDatasets(%q) error = %v", tt.criteria, err)
			}

			var keys []string
			seen := map[string]bool{}
			for _, info := range infos {
				path := info.GetFlightDescriptor().GetPath()
				if len(path) != 1 {
					t.Fatalf("descriptor path = %v, want 1 element", path)
				}
				if seen[path[0]] {
					t.Errorf("duplicate entry for %q", path[0])
				}
				seen[path[0]] = true
				keys = append(keys, path[0])

				if len(info.GetEndpoint()) < 1 {
					t.Errorf("%q: no endpoints", path[0])
				}
			}
			sort.Strings(keys)

			if len(keys) != len(tt.want) {
				t.Fatalf("ListDatasets(%q) = %v, want %v", tt.criteria, keys, tt.want)
			}
			for i := range keys {
				if keys[i] != tt.want[i] {
					t.Errorf("ListDatasets(%q) = %v, want %v", tt.criteria, keys, tt.want)
				}
			}
		})
	}
}

func TestDiscoveryRowCountsMatchStreamedRows(t *testing.T) {
	_, c := newLocalServer(t)
	ctx := context.Background()

	infos, err := c.ListDatasets(ctx, "")
	if err != nil {
		t.Fatalf("ListDatasets() error = %v", err)
	}
	if len(infos) == 0 {
		t.Fatal("ListDatasets() returned no datasets")
	}

	for _, info := range infos {
		key := info.GetFlightDescriptor().GetPath()[0]

		if info.GetTotalRecords() < 0 {
			t.Errorf("%q: TotalRecords = %d, local backend must report exact counts", key, info.GetTotalRecords())
		}

		stream, err := c.Get(ctx, info.GetEndpoint()[0])
		if err != nil {
			t.Fatalf("Get(%q) error = %v", key, err)
		}

		var rows int64
		for stream.Next() {
			rows += stream.RecordBatch().NumRows()
		}
		err = stream.Err()
		stream.Close()
		if err != nil {
			t.Fatalf("%q: stream error = %v", key, err)
		}

		if rows != info.GetTotalRecords() {
			t.Errorf("%q: streamed %d rows, FlightInfo promised %d", key, rows, info.GetTotalRecords())
		}
	}
}

func TestStreamSendsSchemaFirst(t *testing.T) {
	_, c := newLocalServer(t)
	ctx := context.Background()

	info, err := c.Info(ctx, "trips_2020.parquet")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}

	stream, err := c.Get(ctx, info.GetEndpoint()[0])
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer stream.Close()

	// The record reader is only constructed once the schema message has
	// arrived, so a usable schema before any batch proves schema-first.
	if !stream.Schema().Equal(testutil.Schema()) {
		t.Errorf("Schema() = %v, want %v", stream.Schema(), testutil.Schema())
	}

	var rows int64
	for stream.Next() {
		rows += stream.RecordBatch().NumRows()
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if rows != 5 {
		t.Errorf("streamed %d rows, want 5", rows)
	}
}

func TestStreamZeroRowDataset(t *testing.T) {
	root := t.TempDir()
	testutil.WriteParquet(t, filepath.Join(root, "empty.parquet"))

	src, err := source.NewLocal(source.LocalConfig{Root: root})
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	_, c := startServer(t, src)
	ctx := context.Background()

	info, err := c.Info(ctx, "empty.parquet")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.GetTotalRecords() != 0 {
		t.Errorf("TotalRecords = %d, want 0", info.GetTotalRecords())
	}

	stream, err := c.Get(ctx, info.GetEndpoint()[0])
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer stream.Close()

	// Schema arrives even though there are no batches.
	if stream.Schema() == nil {
		t.Error("Schema() = nil, want schema for zero-row dataset")
	}
	for stream.Next() {
		t.Errorf("unexpected batch with %d rows", stream.RecordBatch().NumRows())
	}
	if err := stream.Err(); err != nil {
		t.Errorf("stream error = %v, want clean completion", err)
	}
}

func TestGetFlightInfoNotFound(t *testing.T) {
	_, c := newLocalServer(t)

	_, err := c.Info(context.Background(), "missing.parquet")
	if status.Code(err) != codes.NotFound {
		t.Errorf("Info(missing) status = %v, want NotFound", status.Code(err))
	}
}

func TestGetFlightInfoRejectsBadDescriptor(t *testing.T) {
	addr, _ := newLocalServer(t)

	fc, err := arrowflight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("flight client: %v", err)
	}
	defer fc.Close()

	tests := []struct {
		name string
		desc *arrowflight.FlightDescriptor
	}{
		{
			name: "CMD descriptor",
			desc: &arrowflight.FlightDescriptor{Type: arrowflight.DescriptorCMD, Cmd: []byte("x")},
		},
		{
			name: "multi-element path",
			desc: &arrowflight.FlightDescriptor{Type: arrowflight.DescriptorPATH, Path: []string{"a", "b"}},
		},
		{
			name: "empty path",
			desc: &arrowflight.FlightDescriptor{Type: arrowflight.DescriptorPATH},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fc.GetFlightInfo(context.Background(), tt.desc)
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("status = %v, want InvalidArgument", status.Code(err))
			}
		})
	}
}

func TestDoGetRejectsMalformedTicket(t *testing.T) {
	_, c := newLocalServer(t)

	// Raw key bytes are not a ticket this server issued; they must be
	// rejected before any source is opened, never silently matched.
	endpoint := &arrowflight.FlightEndpoint{
		Ticket: &arrowflight.Ticket{Ticket: []byte("trips_2019.parquet")},
	}

	_, err := c.Get(context.Background(), endpoint)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Get(raw bytes) status = %v, want InvalidArgument", status.Code(err))
	}
}

func TestDoGetUnknownDataset(t *testing.T) {
	_, c := newLocalServer(t)

	ticket, err := flight.EncodeTicket("missing.parquet")
	if err != nil {
		t.Fatalf("EncodeTicket() error = %v", err)
	}
	endpoint := &arrowflight.FlightEndpoint{
		Ticket: &arrowflight.Ticket{Ticket: ticket},
	}

	_, err = c.Get(context.Background(), endpoint)
	if status.Code(err) != codes.NotFound {
		t.Errorf("Get(unknown dataset) status = %v, want NotFound", status.Code(err))
	}
}

func TestGetSchemaResolvesAuthoritativeSchema(t *testing.T) {
	_, c := newLocalServer(t)

	schema, err := c.Schema(context.Background(), "trips_2019.parquet")
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if !schema.Equal(testutil.Schema()) {
		t.Errorf("Schema() = %v, want %v", schema, testutil.Schema())
	}
}

func TestListDatasetsAction(t *testing.T) {
	_, c := newLocalServer(t)

	entries, err := c.Manifest(context.Background(), "")
	if err != nil {
		t.Fatalf("Manifest() error = %v", err)
	}

	keys := map[string]int64{}
	for _, e := range entries {
		keys[e.Key] = e.Size
	}

	for _, want := range []string{"trips_2019.parquet", "trips_2020.parquet"} {
		size, ok := keys[want]
		if !ok {
			t.Errorf("manifest missing %q, got %v", want, keys)
			continue
		}
		if size <= 0 {
			t.Errorf("%q: size = %d, want > 0", want, size)
		}
	}
}

func TestConcurrentStreams(t *testing.T) {
	_, c := newLocalServer(t)
	ctx := context.Background()

	infos, err := c.ListDatasets(ctx, "")
	if err != nil {
		t.Fatalf("ListDatasets() error = %v", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(infos)*4)

	for i := 0; i < 4; i++ {
		for _, info := range infos {
			wg.Add(1)
			go func(info *arrowflight.FlightInfo) {
				defer wg.Done()

				stream, err := c.Get(ctx, info.GetEndpoint()[0])
				if err != nil {
					errCh <- err
					return
				}
				defer stream.Close()

				var rows int64
				for stream.Next() {
					rows += stream.RecordBatch().NumRows()
				}
				if err := stream.Err(); err != nil {
					errCh <- err
					return
				}
				if rows != info.GetTotalRecords() {
					errCh <- fmt.Errorf("streamed %d rows, want %d", rows, info.GetTotalRecords())
				}
			}(info)
		}
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}

// ----------------------------------------------------------------------------
// Mid-stream failure behavior (stub source)
// ----------------------------------------------------------------------------

// failingSource yields a fixed number of good batches and then fails the
// scan, to verify truncation semantics and reader cleanup.
type failingSource struct {
	t            *testing.T
	goodBatches  int
	readerClosed atomic.Bool
}

func (s *failingSource) List(context.Context, string) ([]source.Dataset, error) {
	return []source.Dataset{{Key: "flaky.parquet", Size: -1}}, nil
}

func (s *failingSource) Describe(context.Context, string) (source.Description, error) {
	return source.Description{Schema: testutil.Schema(), TotalRecords: -1, TotalBytes: -1}, nil
}

func (s *failingSource) Open(context.Context, string) (source.Reader, error) {
	batches := make([]arrow.RecordBatch, s.goodBatches)
	for i := range batches {
		batches[i] = testutil.Batch(s.t, int64(i*3), 3)
	}
	return &failingReader{
		schema:  testutil.Schema(),
		batches: batches,
		err:     fmt.Errorf("scan failed: unexpected end of object"),
		closed:  &s.readerClosed,
	}, nil
}

type failingReader struct {
	schema  *arrow.Schema
	batches []arrow.RecordBatch
	idx     int
	err     error
	closed  *atomic.Bool
}

func (r *failingReader) Retain()  {}
func (r *failingReader) Release() {}

func (r *failingReader) Schema() *arrow.Schema { return r.schema }

func (r *failingReader) Next() bool {
	if r.idx < len(r.batches) {
		r.idx++
		return true
	}
	return false
}

func (r *failingReader) RecordBatch() arrow.RecordBatch { return r.batches[r.idx-1] }
func (r *failingReader) Record() arrow.RecordBatch      { return r.batches[r.idx-1] }

func (r *failingReader) Err() error {
	if r.idx >= len(r.batches) {
		return r.err
	}
	return nil
}

func (r *failingReader) Close() error {
	r.closed.Store(true)
	return nil
}

func TestDoGetTruncatesOnMidStreamFailure(t *testing.T) {
	src := &failingSource{t: t, goodBatches: 2}
	_, c := startServer(t, src)
	ctx := context.Background()

	info, err := c.Info(ctx, "flaky.parquet")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}

	stream, err := c.Get(ctx, info.GetEndpoint()[0])
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer stream.Close()

	// Exactly the batches sent before the failure arrive, then the error.
	var batches int
	var rows int64
	for stream.Next() {
		batches++
		rows += stream.RecordBatch().NumRows()
	}

	if batches != 2 {
		t.Errorf("received %d batches, want exactly 2", batches)
	}
	if rows != 6 {
		t.Errorf("received %d rows, want 6", rows)
	}
	if err := stream.Err(); err == nil {
		t.Error("stream completed cleanly, want trailing error after partial data")
	}

	// The server must release its reader handle on the error path too.
	deadline := time.Now().Add(2 * time.Second)
	for !src.readerClosed.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !src.readerClosed.Load() {
		t.Error("source reader was not closed after stream failure")
	}
}
