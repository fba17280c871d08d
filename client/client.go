// Package client drives the consumer side of the Apron Flight protocol:
// submit discovery criteria, pick an endpoint, pull the stream to
// completion.
//
// Tickets stay opaque here: the client replays the bytes received in a
// FlightEndpoint and never builds or inspects them.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/apron-data/apron-go/internal/serialize"
)

// Client is a connection to one Apron Flight server.
type Client struct {
	fc       flight.Client
	addr     string
	dialOpts []grpc.DialOption
}

// New connects to the Flight server at addr.
// Without explicit dial options the connection is plaintext.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}

	fc, err := flight.NewClientWithMiddleware(addr, nil, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	return &Client{fc: fc, addr: addr, dialOpts: opts}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.fc.Close()
}

// Each streams the FlightInfo of every dataset whose key contains criteria
// as a substring, invoking fn per entry. Returning false from fn stops the
// enumeration early without error.
func (c *Client) Each(ctx context.Context, criteria string, fn func(*flight.FlightInfo) bool) error {
	stream, err := c.fc.ListFlights(ctx, &flight.Criteria{Expression: []byte(criteria)})
	if err != nil {
		return fmt.Errorf("list flights: %w", err)
	}

	for {
		info, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list flights: %w", err)
		}
		if !fn(info) {
			return nil
		}
	}
}

// ListDatasets drains the discovery stream for criteria into a slice.
func (c *Client) ListDatasets(ctx context.Context, criteria string) ([]*flight.FlightInfo, error) {
	var infos []*flight.FlightInfo
	err := c.Each(ctx, criteria, func(info *flight.FlightInfo) bool {
		infos = append(infos, info)
		return true
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// Info returns the FlightInfo for one dataset key.
func (c *Client) Info(ctx context.Context, key string) (*flight.FlightInfo, error) {
	info, err := c.fc.GetFlightInfo(ctx, &flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{key},
	})
	if err != nil {
		return nil, fmt.Errorf("get flight info %q: %w", key, err)
	}
	return info, nil
}

// Schema returns the authoritative Arrow schema for one dataset key.
func (c *Client) Schema(ctx context.Context, key string) (*arrow.Schema, error) {
	res, err := c.fc.GetSchema(ctx, &flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{key},
	})
	if err != nil {
		return nil, fmt.Errorf("get schema %q: %w", key, err)
	}

	schema, err := flight.DeserializeSchema(res.GetSchema(), memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("deserialize schema %q: %w", key, err)
	}
	return schema, nil
}

// Stream is an open DoGet stream. The first message carries the schema;
// Next/RecordBatch then yield batches in server order. Close releases the
// reader and any transient connection opened for a remote endpoint.
type Stream struct {
	*flight.Reader

	remote flight.Client
}

// Close releases the stream's resources.
func (s *Stream) Close() {
	s.Release()
	if s.remote != nil {
		s.remote.Close()
	}
}

// Get opens the data stream for one endpoint, replaying its ticket.
// When the endpoint names a location, the stream is fetched from there;
// otherwise it is fetched from the server this client is connected to.
func (c *Client) Get(ctx context.Context, endpoint *flight.FlightEndpoint) (*Stream, error) {
	if endpoint.GetTicket() == nil {
		return nil, fmt.Errorf("endpoint has no ticket")
	}

	fc := c.fc
	var remote flight.Client

	if addr := addrFromLocations(endpoint.GetLocation()); addr != "" && addr != c.addr {
		rc, err := flight.NewClientWithMiddleware(addr, nil, nil, c.dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to endpoint %s: %w", addr, err)
		}
		fc = rc
		remote = rc
	}

	stream, err := fc.DoGet(ctx, endpoint.GetTicket())
	if err != nil {
		if remote != nil {
			remote.Close()
		}
		return nil, fmt.Errorf("do get: %w", err)
	}

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		if remote != nil {
			remote.Close()
		}
		return nil, fmt.Errorf("do get: %w", err)
	}

	return &Stream{Reader: reader, remote: remote}, nil
}

// Manifest invokes the list_datasets server action and decodes the
// compressed manifest it returns.
func (c *Client) Manifest(ctx context.Context, criteria string) ([]serialize.ManifestEntry, error) {
	stream, err := c.fc.DoAction(ctx, &flight.Action{
		Type: "list_datasets",
		Body: []byte(criteria),
	})
	if err != nil {
		return nil, fmt.Errorf("list_datasets action: %w", err)
	}

	result, err := stream.Recv()
	if err != nil {
		return nil, fmt.Errorf("list_datasets action: %w", err)
	}

	return serialize.DecodeManifest(result.GetBody())
}

// addrFromLocations extracts a dialable host:port from endpoint locations.
// Returns empty string when no location is set, meaning the issuing server
// is the endpoint.
func addrFromLocations(locations []*flight.Location) string {
	if len(locations) == 0 {
		return ""
	}

	uri := locations[0].GetUri()
	for _, scheme := range []string{"grpc+tcp://", "grpc+tls://", "grpc://"} {
		if strings.HasPrefix(uri, scheme) {
			return strings.TrimPrefix(uri, scheme)
		}
	}
	return uri
}
