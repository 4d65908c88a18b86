package monitor

import (
	"context"
	"time"
)

// Extractor pulls visible text for a URL.
type Extractor interface {
	Extract(ctx context.Context, url string) (Extraction, error)
}

// Fetcher produces a fingerprinted result for a URL or a *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Notifier delivers a message to the operator. It never panics and reports
// delivery with the returned bool.
type Notifier interface {
	Notify(ctx context.Context, message string) bool
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
