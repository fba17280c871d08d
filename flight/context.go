package flight

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey int

const (
	apronMetaKey contextKey = iota
)

// Metadata header keys for request correlation and observability.
const (
	// HeaderTraceID is the gRPC metadata header for a distributed trace identifier.
	HeaderTraceID = "apron-trace-id"
	// HeaderSessionID is the gRPC metadata header for a client session identifier.
	HeaderSessionID = "apron-client-session-id"
)

// ContextMeta carries per-request correlation identifiers supplied by the
// client through gRPC metadata.
type ContextMeta struct {
	TraceID   string
	SessionID string
}

// WithContextMeta stores request metadata on the context.
func WithContextMeta(ctx context.Context, meta ContextMeta) context.Context {
	return context.WithValue(ctx, apronMetaKey, &meta)
}

// MetaFromContext returns request metadata stored on the context, or nil.
func MetaFromContext(ctx context.Context) *ContextMeta {
	val := ctx.Value(apronMetaKey)
	if val == nil {
		return nil
	}
	meta, ok := val.(*ContextMeta)
	if !ok {
		return nil
	}
	return meta
}

// TraceIDFromContext returns the trace ID from context, or empty string if not set.
func TraceIDFromContext(ctx context.Context) string {
	meta := MetaFromContext(ctx)
	if meta == nil {
		return ""
	}
	return meta.TraceID
}

// SessionIDFromContext returns the session ID from context, or empty string if not set.
func SessionIDFromContext(ctx context.Context) string {
	meta := MetaFromContext(ctx)
	if meta == nil {
		return ""
	}
	return meta.SessionID
}

// EnrichContextMetadata extracts correlation headers from incoming gRPC
// metadata and stores them on the context. If the context is already
// enriched, it is returned unchanged.
func EnrichContextMetadata(ctx context.Context) context.Context {
	if MetaFromContext(ctx) != nil {
		return ctx
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}

	var meta ContextMeta
	if values := md.Get(HeaderTraceID); len(values) > 0 {
		meta.TraceID = values[0]
	}
	if values := md.Get(HeaderSessionID); len(values) > 0 {
		meta.SessionID = values[0]
	}

	return WithContextMeta(ctx, meta)
}
