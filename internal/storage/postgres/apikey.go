package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qpay-checkout/internal/domain/auth"
)

const (
	getAPIKeyByHashSQL = `SELECT id, key_hash, name, scopes
		FROM api_keys WHERE key_hash = $1 AND active = TRUE`

	upsertAPIKeySQL = `INSERT INTO api_keys (key_hash, name, scopes) VALUES ($1, $2, $3)
		ON CONFLICT (key_hash) DO UPDATE SET name = EXCLUDED.name, scopes = EXCLUDED.scopes, active = TRUE
		RETURNING id`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.Key, error) {
	var k auth.Key
	err := conn(ctx, r.pool).QueryRow(ctx, getAPIKeyByHashSQL, hash).Scan(
		&k.ID, &k.Hash, &k.Name, &k.Scopes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUnknownKey
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &k, nil
}

// Save stores a key hash, reactivating it when it already exists.
func (r *APIKeyRepository) Save(ctx context.Context, k *auth.Key) error {
	err := conn(ctx, r.pool).QueryRow(ctx, upsertAPIKeySQL, k.Hash, k.Name, k.Scopes).Scan(&k.ID)
	if err != nil {
		return fmt.Errorf("saving api key %q: %w", k.Name, err)
	}
	return nil
}
