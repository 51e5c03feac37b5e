// Package principal persists PrincipalProfile records: per-principal
// enablement, language allow-lists, and resource limit overrides.
// Two backends are provided: an atomic-replace JSON file store for
// single-node deployments, and a pgx/v5-backed PostgreSQL store for
// multi-node deployments sharing one profile table.
package principal

import (
	"context"

	"github.com/cagekeep/broker/pkg/api"
)

// Store persists and retrieves PrincipalProfile records.
type Store interface {
	// Get returns the profile for principalID, or storage.ErrNotFound.
	Get(ctx context.Context, principalID string) (*api.PrincipalProfile, error)

	// Upsert creates or replaces the profile for profile.PrincipalID.
	Upsert(ctx context.Context, profile *api.PrincipalProfile) error

	// Delete removes the profile for principalID.
	Delete(ctx context.Context, principalID string) error

	// List returns every stored profile.
	List(ctx context.Context) ([]*api.PrincipalProfile, error)

	// HealthCheck reports whether the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
