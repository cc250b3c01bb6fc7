// Package backend provides the analytics store clients. Two interchangeable
// implementations exist (ClickHouse and Tinybird); one is selected at
// startup and stays fixed for the process lifetime.
package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"beacon/internal/ingestion"
)

// Client is the analytics backend contract: bulk event writes plus named
// aggregate queries for the reporting surface.
type Client interface {
	// InsertEvents bulk-writes a batch of events.
	InsertEvents(ctx context.Context, events []ingestion.TrackingEvent) error

	// Query executes a predefined named query and returns the raw
	// response envelope ({"data": [...]}) for the caller to decode.
	Query(ctx context.Context, name string, args QueryArgs) ([]byte, error)

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error

	// Name identifies the backend in logs and health output.
	Name() string
}

// APIError is a non-success response from the backend, preserving the
// upstream status and body for diagnosis.
type APIError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Backend, e.StatusCode, e.Body)
}

type queryEnvelope[T any] struct {
	Data []T `json:"data"`
}

// NamedQuery executes a named query and decodes the envelope rows into T.
func NamedQuery[T any](ctx context.Context, client Client, name string, args QueryArgs) ([]T, error) {
	raw, err := client.Query(ctx, name, args)
	if err != nil {
		return nil, err
	}

	var envelope queryEnvelope[T]
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode %s response for query %s: %w", client.Name(), name, err)
	}

	return envelope.Data, nil
}
