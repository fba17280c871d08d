package flight

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/apron-data/apron-go/source"
)

// sourceStatus maps source-layer errors onto gRPC statuses.
//
// Missing datasets surface as NotFound; unreachable stores and unreadable
// data as Internal. Errors that already carry a status (e.g. from recovery
// wrappers) pass through unchanged.
func sourceStatus(op string, err error) error {
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		return err
	}
	if errors.Is(err, source.ErrNotFound) {
		return status.Errorf(codes.NotFound, "%s: %v", op, err)
	}
	return status.Errorf(codes.Internal, "%s: %v", op, err)
}
