package domain

import (
	"context"
	"io"
	"time"
)

// RoundTripStore persists completed round trips for offline analysis.
type RoundTripStore interface {
	Create(ctx context.Context, rt RoundTrip) error
	ListRecent(ctx context.Context, limit int) ([]RoundTrip, error)
	SumGain(ctx context.Context, since time.Time) (float64, error)
}

// BlobWriter uploads a blob to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Pacer enforces a minimum spacing between remote calls sharing a key.
// Implementations may be in-process or cross-process (Redis).
type Pacer interface {
	// Wait blocks until the next call for key is allowed, or the context
	// is cancelled.
	Wait(ctx context.Context, key string) error
}
