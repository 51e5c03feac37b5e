package principal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/storage"
)

// PostgresStore is a PostgreSQL-backed Store using pgx/v5 pooling and
// JSONB columns for the allow-list and limit-override fields.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Ensure PostgresStore implements Store at compile time.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed store. If cfg.MigrateOnStart
// is true, schema migrations are applied automatically.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Get retrieves a profile by principal ID.
func (s *PostgresStore) Get(ctx context.Context, principalID string) (*api.PrincipalProfile, error) {
	var p api.PrincipalProfile
	var allowlistJSON, overridesJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT principal_id, enabled, language_allowlist, limit_overrides,
		       service_tier, created_at, updated_at
		FROM principal_profiles
		WHERE principal_id = $1
	`, principalID).Scan(
		&p.PrincipalID, &p.Enabled, &allowlistJSON, &overridesJSON,
		&p.ServiceTier, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	if len(allowlistJSON) > 0 {
		if err := json.Unmarshal(allowlistJSON, &p.LanguageAllowlist); err != nil {
			return nil, fmt.Errorf("unmarshaling language_allowlist: %w", err)
		}
	}
	if len(overridesJSON) > 0 {
		var overrides api.ResourceLimits
		if err := json.Unmarshal(overridesJSON, &overrides); err != nil {
			return nil, fmt.Errorf("unmarshaling limit_overrides: %w", err)
		}
		p.LimitOverrides = &overrides
	}

	return &p, nil
}

// Upsert creates or replaces a profile, keyed by principal ID.
func (s *PostgresStore) Upsert(ctx context.Context, profile *api.PrincipalProfile) error {
	allowlistJSON, err := json.Marshal(profile.LanguageAllowlist)
	if err != nil {
		return fmt.Errorf("marshaling language_allowlist: %w", err)
	}

	var overridesJSON []byte
	if profile.LimitOverrides != nil {
		overridesJSON, err = json.Marshal(profile.LimitOverrides)
		if err != nil {
			return fmt.Errorf("marshaling limit_overrides: %w", err)
		}
	}

	now := time.Now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	_, err = s.pool.Exec(ctx, `
		INSERT INTO principal_profiles (
			principal_id, enabled, language_allowlist, limit_overrides,
			service_tier, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (principal_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			language_allowlist = EXCLUDED.language_allowlist,
			limit_overrides = EXCLUDED.limit_overrides,
			service_tier = EXCLUDED.service_tier,
			updated_at = EXCLUDED.updated_at
	`,
		profile.PrincipalID, profile.Enabled, allowlistJSON, nullJSON(overridesJSON),
		profile.ServiceTier, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}

	return nil
}

// Delete removes a profile by principal ID.
func (s *PostgresStore) Delete(ctx context.Context, principalID string) error {
	result, err := s.pool.Exec(ctx, "DELETE FROM principal_profiles WHERE principal_id = $1", principalID)
	if err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns every stored profile.
func (s *PostgresStore) List(ctx context.Context) ([]*api.PrincipalProfile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT principal_id, enabled, language_allowlist, limit_overrides,
		       service_tier, created_at, updated_at
		FROM principal_profiles
		ORDER BY principal_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close()

	var out []*api.PrincipalProfile
	for rows.Next() {
		var p api.PrincipalProfile
		var allowlistJSON, overridesJSON []byte

		if err := rows.Scan(
			&p.PrincipalID, &p.Enabled, &allowlistJSON, &overridesJSON,
			&p.ServiceTier, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}

		if len(allowlistJSON) > 0 {
			if err := json.Unmarshal(allowlistJSON, &p.LanguageAllowlist); err != nil {
				return nil, fmt.Errorf("unmarshaling language_allowlist: %w", err)
			}
		}
		if len(overridesJSON) > 0 {
			var overrides api.ResourceLimits
			if err := json.Unmarshal(overridesJSON, &overrides); err != nil {
				return nil, fmt.Errorf("unmarshaling limit_overrides: %w", err)
			}
			p.LimitOverrides = &overrides
		}

		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}

	return out, nil
}

// HealthCheck verifies the database connection.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}
