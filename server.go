package apron

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"

	"github.com/apron-data/apron-go/flight"
)

// NewServer registers Apron Flight service handlers on the provided gRPC server.
// This is the main entry point for the apron package.
//
// The function:
//  1. Validates the ServerConfig
//  2. Creates the Flight service implementation over config.Source
//  3. Registers it on grpcServer
//
// Returns error if config is invalid (e.g., nil Source).
// Does NOT start the gRPC server - user controls lifecycle via
// grpcServer.Serve() and GracefulStop().
//
// Example:
//
//	src, _ := source.NewLocal(source.LocalConfig{Root: "sample_data"})
//	grpcServer := grpc.NewServer(apron.ServerOptions(config)...)
//	err := apron.NewServer(grpcServer, apron.ServerConfig{Source: src})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	lis, _ := net.Listen("tcp", ":50051")
//	grpcServer.Serve(lis)
func NewServer(grpcServer *grpc.Server, config ServerConfig) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	allocator := config.Allocator
	if allocator == nil {
		allocator = memory.DefaultAllocator
	}

	logger := config.Logger
	if logger == nil {
		if config.LogLevel != nil {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: *config.LogLevel,
			}))
		} else {
			logger = slog.Default()
		}
	}

	flightServer := flight.NewServer(config.Source, allocator, logger, config.Address)

	flight.RegisterFlightServer(grpcServer, flightServer)

	logger.Info("Apron Flight server registered",
		"address", config.Address,
		"max_message_size", config.MaxMessageSize,
	)

	return nil
}

// validateConfig checks that required ServerConfig fields are valid.
func validateConfig(config ServerConfig) error {
	if config.Source == nil {
		return fmt.Errorf("source is required")
	}
	return nil
}

// ServerOptions returns gRPC server options derived from the config:
// logging interceptors and message size limits. Use when creating the
// gRPC server the Flight service will be registered on.
//
// Example:
//
//	config := apron.ServerConfig{Source: src, MaxMessageSize: 16 << 20}
//	grpcServer := grpc.NewServer(apron.ServerOptions(config)...)
//	apron.NewServer(grpcServer, config)
func ServerOptions(config ServerConfig) []grpc.ServerOption {
	var opts []grpc.ServerOption

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts = append(opts,
		grpc.UnaryInterceptor(flight.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(flight.StreamServerInterceptor(logger)),
	)

	if config.MaxMessageSize > 0 {
		opts = append(opts,
			grpc.MaxRecvMsgSize(config.MaxMessageSize),
			grpc.MaxSendMsgSize(config.MaxMessageSize),
		)
	}

	return opts
}
