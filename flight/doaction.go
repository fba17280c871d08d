package flight

import (
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/apron-data/apron-go/internal/recovery"
	"github.com/apron-data/apron-go/internal/serialize"
	"github.com/apron-data/apron-go/source"
)

// ActionListDatasets returns a compressed manifest of the store's datasets.
// The action body is an optional criteria string (substring filter); the
// single result body is a zstd-compressed MessagePack array of
// {key, size} entries. Cheaper than ListFlights when a client only wants
// the inventory, since no per-dataset metadata is resolved.
const ActionListDatasets = "list_datasets"

// ListActions enumerates the custom actions this server supports.
func (s *Server) ListActions(_ *flight.Empty, stream flight.FlightService_ListActionsServer) error {
	return stream.Send(&flight.ActionType{
		Type:        ActionListDatasets,
		Description: "Return a zstd-compressed MessagePack manifest of datasets matching the optional criteria body",
	})
}

// DoAction executes server actions.
func (s *Server) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	ctx := EnrichContextMetadata(stream.Context())

	s.logger.Debug("DoAction called",
		"type", action.GetType(),
		"body_size", len(action.GetBody()),
	)

	switch action.GetType() {
	case ActionListDatasets:
		filter := string(action.GetBody())

		datasets, err := recovery.ToValue(s.logger, "List", func() ([]source.Dataset, error) {
			return s.source.List(ctx, filter)
		})
		if err != nil {
			s.logger.Error("Failed to list datasets for manifest", "filter", filter, "error", err)
			return status.Errorf(codes.Internal, "discovery failed: %v", err)
		}

		entries := make([]serialize.ManifestEntry, len(datasets))
		for i, d := range datasets {
			entries[i] = serialize.ManifestEntry{Key: d.Key, Size: d.Size}
		}

		body, err := serialize.EncodeManifest(entries)
		if err != nil {
			s.logger.Error("Failed to encode manifest", "error", err)
			return status.Errorf(codes.Internal, "failed to encode manifest: %v", err)
		}

		s.logger.Debug("Manifest built",
			"filter", filter,
			"datasets", len(entries),
			"compressed_bytes", len(body),
		)

		return stream.Send(&flight.Result{Body: body})

	default:
		return status.Errorf(codes.Unimplemented, "unknown action type: %s", action.GetType())
	}
}
