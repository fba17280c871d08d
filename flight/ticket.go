package flight

import (
	"fmt"

	"github.com/apron-data/apron-go/internal/msgpack"
)

// TicketData represents the decoded content of a Flight ticket.
// Tickets are opaque byte slices encoding the dataset key an endpoint
// refers to. Clients must treat them as capabilities: the bytes are
// replayed verbatim on DoGet, never constructed or inspected client-side.
// The structured encoding leaves room for future fields (store name,
// snapshot version) without breaking that contract.
type TicketData struct {
	// Key is the backend-relative dataset key (e.g. "2019/06/trips.parquet").
	Key string `msgpack:"key"`
}

// EncodeTicket creates an opaque ticket for the given dataset key.
// Returns error if the key is empty or encoding fails.
func EncodeTicket(key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("dataset key cannot be empty")
	}

	data, err := msgpack.Encode(TicketData{Key: key})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ticket: %w", err)
	}

	return data, nil
}

// DecodeTicket parses an opaque ticket to extract the dataset key.
// Returns error if the ticket is empty, is not a ticket this server
// issued, or decodes to an empty key.
func DecodeTicket(ticketBytes []byte) (*TicketData, error) {
	if len(ticketBytes) == 0 {
		return nil, fmt.Errorf("ticket cannot be empty")
	}

	var ticket TicketData
	if err := msgpack.Decode(ticketBytes, &ticket); err != nil {
		return nil, fmt.Errorf("failed to decode ticket: %w", err)
	}

	if ticket.Key == "" {
		return nil, fmt.Errorf("decoded ticket has empty dataset key")
	}

	return &ticket, nil
}
