package apron

import (
	"errors"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/apron-data/apron-go/source"
)

// ServerConfig contains configuration for an Apron Flight server.
type ServerConfig struct {
	// Source provides dataset listing, metadata, and record streams.
	// REQUIRED: MUST NOT be nil.
	Source source.Source

	// Allocator for Arrow memory management.
	// OPTIONAL: Uses memory.DefaultAllocator if nil.
	Allocator memory.Allocator

	// Logger for internal logging.
	// OPTIONAL: Uses slog.Default() if nil.
	Logger *slog.Logger

	// LogLevel sets the logging level for the default logger.
	// OPTIONAL: If nil, uses Info level.
	// If Logger is also provided, LogLevel is ignored (use a pre-configured logger).
	LogLevel *slog.Level

	// MaxMessageSize sets maximum gRPC message size in bytes.
	// OPTIONAL: If 0, uses the gRPC default (4MB).
	// Recommended: 16MB for large Arrow batches.
	MaxMessageSize int

	// Address is the server's public address (e.g., "localhost:50051").
	// OPTIONAL: If empty, FlightEndpoint locations carry no URI and
	// clients fetch streams from the server they discovered on.
	Address string
}

// Standard errors returned by the apron package.
var (
	// ErrInvalidConfig indicates ServerConfig validation failed.
	ErrInvalidConfig = errors.New("invalid server config")
)
