package flight

import (
	"errors"
	"io"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/apron-data/apron-go/internal/recovery"
	"github.com/apron-data/apron-go/source"
)

// DoGet streams the record batches of one dataset.
//
// The ticket must have been issued by this server (via ListFlights or
// GetFlightInfo). The handler:
//  1. Decodes the ticket; malformed tickets fail before any source open
//  2. Opens a fresh source reader owned by this call alone
//  3. Sends the schema first, exactly once, even for zero-row datasets
//  4. Streams batches in source order, one at a time, paced by the
//     transport (no server-side read-ahead)
//  5. On mid-scan failure stops immediately; the client sees the batches
//     already sent followed by a stream error, never a false completion
//  6. Closes the reader on every exit path
func (s *Server) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	ctx := EnrichContextMetadata(stream.Context())

	s.logger.Debug("DoGet called", "ticket_size", len(ticket.GetTicket()))

	ticketData, err := DecodeTicket(ticket.GetTicket())
	if err != nil {
		s.logger.Error("Failed to decode ticket", "error", err)
		return status.Errorf(codes.InvalidArgument, "invalid ticket: %v", err)
	}

	s.logger.Debug("DoGet request", "key", ticketData.Key)

	r, err := recovery.ToValue(s.logger, "Open", func() (source.Reader, error) {
		return s.source.Open(ctx, ticketData.Key)
	})
	if err != nil {
		s.logger.Error("Failed to open dataset", "key", ticketData.Key, "error", err)
		return sourceStatus("do get", err)
	}
	defer r.Close()

	// The IPC writer emits the schema message ahead of the first batch,
	// and on Close for empty datasets.
	writer := flight.NewRecordWriter(stream, ipc.WithSchema(r.Schema()))
	defer writer.Close()

	batchCount := 0
	totalRows := int64(0)

	for r.Next() {
		select {
		case <-ctx.Done():
			s.logger.Debug("DoGet cancelled by client",
				"key", ticketData.Key,
				"batches_sent", batchCount,
				"rows_sent", totalRows,
			)
			return status.Error(codes.Canceled, "request cancelled")
		default:
		}

		record := r.RecordBatch()
		batchCount++
		totalRows += record.NumRows()

		if err := writer.Write(record); err != nil {
			s.logger.Error("Failed to write record batch",
				"key", ticketData.Key,
				"batch", batchCount,
				"error", err,
			)
			return status.Errorf(codes.Internal, "failed to write batch %d: %v", batchCount, err)
		}
	}

	if err := r.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Error("Source reader error during streaming",
			"key", ticketData.Key,
			"batches_sent", batchCount,
			"error", err,
		)
		return status.Errorf(codes.Internal, "stream failed after batch %d: %v", batchCount, err)
	}

	s.logger.Debug("DoGet completed successfully",
		"key", ticketData.Key,
		"batches_sent", batchCount,
		"total_rows", totalRows,
	)

	return nil
}
