package services

import "context"

type contextKey string

const (
	lotIDKey     contextKey = "lot_id"
	chunkIDKey   contextKey = "chunk_id"
	checkerIDKey contextKey = "checker_id"
	requestIDKey contextKey = "request_id"
)

// WithLotID annotates context with the lot identifier.
func WithLotID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, lotIDKey, id)
}

// LotIDFromContext extracts the lot identifier if present.
func LotIDFromContext(ctx context.Context) (int64, bool) {
	return int64FromContext(ctx, lotIDKey)
}

// WithChunkID annotates context with the chunk identifier.
func WithChunkID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, chunkIDKey, id)
}

// ChunkIDFromContext extracts the chunk identifier if present.
func ChunkIDFromContext(ctx context.Context) (int64, bool) {
	return int64FromContext(ctx, chunkIDKey)
}

// WithCheckerID annotates context with the acting checker's identifier.
func WithCheckerID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, checkerIDKey, id)
}

// CheckerIDFromContext extracts the checker identifier if present.
func CheckerIDFromContext(ctx context.Context) (int64, bool) {
	return int64FromContext(ctx, checkerIDKey)
}

// WithRequestID annotates context with an API correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(requestIDKey).(string); ok && str != "" {
		return str, true
	}
	return "", false
}

func int64FromContext(ctx context.Context, key contextKey) (int64, bool) {
	v := ctx.Value(key)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}
