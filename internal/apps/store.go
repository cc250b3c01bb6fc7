// Package apps resolves application keys to application identities, backed
// by Postgres with an in-process TTL cache in front.
package apps

import (
	"context"
	"errors"
	"fmt"

	"beacon/pkg/database"
)

// Identity is the cached application record. A zero-value identity (empty
// ID) means the key is unknown; callers check ID rather than an error.
type Identity struct {
	AppKey   string
	AppID    string
	IsLocked bool
}

// Store is the durable identity lookup behind the cache.
type Store interface {
	FindByAppKey(ctx context.Context, appKey string) (Identity, error)
}

// PostgresStore resolves app keys from the control-plane database. The
// locked flag comes from the owning account, not the app row, so a lock
// takes effect for every app the account owns.
type PostgresStore struct {
	db database.PostgresConn
}

// NewPostgresStore creates a store backed by the given connection.
func NewPostgresStore(db database.PostgresConn) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindByAppKey looks up an application by its (already uppercased) key.
// Unknown keys return a zero-value identity and no error.
func (s *PostgresStore) FindByAppKey(ctx context.Context, appKey string) (Identity, error) {
	var identity Identity
	err := s.db.QueryRowContext(ctx, `
		SELECT a.app_key, a.id, acc.is_locked
		FROM apps a
		JOIN accounts acc ON acc.id = a.account_id
		WHERE a.app_key = $1 AND a.deleted_at IS NULL`,
		appKey,
	).Scan(&identity.AppKey, &identity.AppID, &identity.IsLocked)

	if errors.Is(err, database.ErrNoRows) {
		return Identity{}, nil
	}
	if err != nil {
		return Identity{}, fmt.Errorf("failed to find app by key: %w", err)
	}

	return identity, nil
}
