// Package apron provides a high-level API for building Apache Arrow Flight
// servers that discover and stream columnar datasets from a backing store.
//
// The apron package simplifies serving datasets by:
//   - Registering Flight service handlers on an existing grpc.Server
//   - Enumerating parquet datasets from a local directory or an S3 bucket
//   - Issuing opaque tickets that map endpoints back to dataset keys
//   - Streaming Arrow record batches in source order, paced by the client
//
// # Quick Start
//
// Serve a directory of parquet files:
//
//	package main
//
//	import (
//	    "log"
//	    "net"
//
//	    "google.golang.org/grpc"
//
//	    "github.com/apron-data/apron-go"
//	    "github.com/apron-data/apron-go/source"
//	)
//
//	func main() {
//	    src, err := source.NewLocal(source.LocalConfig{Root: "sample_data"})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    config := apron.ServerConfig{Source: src}
//	    grpcServer := grpc.NewServer(apron.ServerOptions(config)...)
//	    if err := apron.NewServer(grpcServer, config); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    lis, err := net.Listen("tcp", ":50051")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := grpcServer.Serve(lis); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Protocol
//
// Clients drive three calls:
//   - ListFlights(criteria): one FlightInfo per dataset whose key contains
//     the criteria as a substring. The local backend reports exact row
//     counts (it scans each file during discovery); the S3 backend reports
//     byte sizes with unknown schema and row count.
//   - GetFlightInfo(path)/GetSchema(path): metadata for one dataset. The
//     schema in FlightInfo is best-effort; GetSchema and the stream's
//     first message are authoritative.
//   - DoGet(ticket): schema first, then record batches in source order,
//     then completion or a stream error.
//
// Tickets are opaque capabilities issued by the server. Clients replay the
// bytes they received; they never construct or inspect tickets.
//
// The client package wraps the consumer side of this protocol.
package apron
