package qdrant

import (
	"context"
)

// Client provides access to the Qdrant collections holding conversation
// memory. The connector only reads and rewrites point payloads; vector
// search stays with the host.
type Client interface {
	// FindByField returns the first point whose payload matches value at
	// the given field key. Nested fields use dotted paths
	// ("metadata.message_id"). Returns nil when no point matches.
	FindByField(ctx context.Context, collection, field string, value string) (*Point, error)

	// OverwritePayload replaces the full payload of a point.
	OverwritePayload(ctx context.Context, collection, pointID string, payload map[string]any) error

	// Health checks the server connection.
	Health(ctx context.Context) error

	// Close closes the client connection.
	Close() error
}

// Point is a stored point with its payload. Vectors are not read back;
// payload updates leave them untouched.
type Point struct {
	ID      string
	Payload map[string]any
}
