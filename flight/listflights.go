package flight

import (
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/apron-data/apron-go/internal/recovery"
	"github.com/apron-data/apron-go/source"
)

// ListFlights streams one FlightInfo per dataset matching the criteria.
//
// The criteria expression is a case-sensitive substring filter over dataset
// keys; empty criteria matches everything. Results are emitted in the
// backing store's listing order, with metadata re-derived from the source
// on every call (nothing is cached between calls).
//
// A dataset whose metadata cannot be resolved (e.g. an unreadable file) is
// logged and skipped; the rest of the listing still streams. Only a failure
// of the listing itself aborts the call.
func (s *Server) ListFlights(criteria *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	ctx := EnrichContextMetadata(stream.Context())

	filter := string(criteria.GetExpression())

	s.logger.Debug("ListFlights called", "filter", filter)

	datasets, err := recovery.ToValue(s.logger, "List", func() ([]source.Dataset, error) {
		return s.source.List(ctx, filter)
	})
	if err != nil {
		s.logger.Error("Failed to list datasets", "filter", filter, "error", err)
		return status.Errorf(codes.Internal, "discovery failed: %v", err)
	}

	sent := 0
	for _, d := range datasets {
		info, err := s.datasetInfo(ctx, d.Key)
		if err != nil {
			// Skip-and-continue: one broken dataset must not hide
			// the rest of the listing.
			s.logger.Warn("Skipping dataset during discovery",
				"key", d.Key,
				"error", err,
			)
			continue
		}

		if err := stream.Send(info); err != nil {
			s.logger.Error("Failed to send FlightInfo",
				"key", d.Key,
				"error", err,
			)
			return status.Errorf(codes.Internal, "failed to send flight info: %v", err)
		}
		sent++
	}

	s.logger.Debug("ListFlights completed",
		"filter", filter,
		"listed", len(datasets),
		"sent", sent,
	)

	return nil
}
