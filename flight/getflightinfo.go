package flight

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/apron-data/apron-go/internal/recovery"
	"github.com/apron-data/apron-go/source"
)

// GetFlightInfo returns metadata and a retrieval endpoint for one dataset.
//
// The descriptor must be PATH type with exactly one element: the dataset
// key. The returned FlightInfo carries:
//   - Schema: serialized Arrow schema when the backend knows it without
//     opening the dataset; empty otherwise (GetSchema or the stream's
//     first message is authoritative)
//   - TotalRecords/TotalBytes: exact values or -1 for unknown
//   - Endpoints: a single endpoint whose ticket encodes the key
func (s *Server) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	ctx = EnrichContextMetadata(ctx)

	s.logger.Debug("GetFlightInfo called",
		"type", desc.GetType(),
		"path_length", len(desc.GetPath()),
	)

	key, err := keyFromDescriptor(desc)
	if err != nil {
		return nil, err
	}

	info, err := s.datasetInfo(ctx, key)
	if err != nil {
		s.logger.Error("Failed to resolve dataset info",
			"key", key,
			"error", err,
		)
		return nil, sourceStatus("get flight info", err)
	}

	s.logger.Debug("GetFlightInfo successful",
		"key", key,
		"total_records", info.TotalRecords,
		"total_bytes", info.TotalBytes,
	)

	return info, nil
}

// GetSchema returns the authoritative Arrow schema for one dataset.
//
// Unlike GetFlightInfo, this always opens the dataset, so it resolves the
// schema even for backends that report it as unknown during discovery.
func (s *Server) GetSchema(ctx context.Context, desc *flight.FlightDescriptor) (*flight.SchemaResult, error) {
	ctx = EnrichContextMetadata(ctx)

	key, err := keyFromDescriptor(desc)
	if err != nil {
		return nil, err
	}

	r, err := recovery.ToValue(s.logger, "Open", func() (source.Reader, error) {
		return s.source.Open(ctx, key)
	})
	if err != nil {
		s.logger.Error("Failed to open dataset for schema",
			"key", key,
			"error", err,
		)
		return nil, sourceStatus("get schema", err)
	}
	defer r.Close()

	return &flight.SchemaResult{
		Schema: flight.SerializeSchema(r.Schema(), s.allocator),
	}, nil
}

// keyFromDescriptor validates a PATH descriptor and extracts the dataset key.
func keyFromDescriptor(desc *flight.FlightDescriptor) (string, error) {
	if desc.GetType() != flight.DescriptorPATH {
		return "", status.Error(codes.InvalidArgument, "descriptor must be PATH type")
	}

	path := desc.GetPath()
	if len(path) != 1 {
		return "", status.Error(codes.InvalidArgument, "path must contain exactly 1 element: the dataset key")
	}
	if path[0] == "" {
		return "", status.Error(codes.InvalidArgument, "dataset key cannot be empty")
	}

	return path[0], nil
}

// datasetInfo builds the FlightInfo for one dataset key. Shared by
// GetFlightInfo and ListFlights so both derive metadata the same way,
// fresh from the source on every call.
func (s *Server) datasetInfo(ctx context.Context, key string) (*flight.FlightInfo, error) {
	d, err := recovery.ToValue(s.logger, "Describe", func() (source.Description, error) {
		return s.source.Describe(ctx, key)
	})
	if err != nil {
		return nil, err
	}

	ticket, err := EncodeTicket(key)
	if err != nil {
		return nil, err
	}

	endpoint := &flight.FlightEndpoint{
		Ticket: &flight.Ticket{Ticket: ticket},
	}
	if s.address != "" {
		endpoint.Location = []*flight.Location{
			{Uri: "grpc+tcp://" + s.address},
		}
	}

	var schemaBytes []byte
	if d.Schema != nil {
		schemaBytes = flight.SerializeSchema(d.Schema, s.allocator)
	}

	return &flight.FlightInfo{
		Schema: schemaBytes,
		FlightDescriptor: &flight.FlightDescriptor{
			Type: flight.DescriptorPATH,
			Path: []string{key},
		},
		Endpoint:     []*flight.FlightEndpoint{endpoint},
		TotalRecords: d.TotalRecords,
		TotalBytes:   d.TotalBytes,
	}, nil
}
