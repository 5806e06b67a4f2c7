package postgres

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qpay-checkout/internal/paycode"
)

const (
	lockSequenceSQL   = `SELECT value FROM payment_code_sequences WHERE day_key = $1 FOR UPDATE`
	insertSequenceSQL = `INSERT INTO payment_code_sequences (day_key, value) VALUES ($1, 1)`
	bumpSequenceSQL   = `UPDATE payment_code_sequences SET value = value + 1, updated_at = now()
		WHERE day_key = $1 RETURNING value`

	defaultSequenceRetries = 10
)

// retryable reports whether a serializable transaction lost a conflict and
// may be re-run: serialization failure, deadlock or a concurrent insert of
// the same day row.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	default:
		return false
	}
}

var _ paycode.Sequencer = (*SequenceRepository)(nil)

// SequenceRepository hands out per-day payment code numbers. Each call runs
// its own SERIALIZABLE transaction, independent of any transaction in ctx.
type SequenceRepository struct {
	pool    *pgxpool.Pool
	retries int
}

// NewSequenceRepository returns a SequenceRepository that uses the given pool.
func NewSequenceRepository(pool *pgxpool.Pool) *SequenceRepository {
	return &SequenceRepository{pool: pool, retries: defaultSequenceRetries}
}

// Next increments the counter of dayKey, creating it at 1, and returns the
// new value.
func (r *SequenceRepository) Next(ctx context.Context, dayKey string) (int64, error) {
	for attempt := 0; ; attempt++ {
		n, err := r.next(ctx, dayKey)
		if err == nil {
			return n, nil
		}
		if !retryable(err) || attempt >= r.retries {
			return 0, fmt.Errorf("next payment code for %s: %w", dayKey, err)
		}

		backoff := time.Duration(attempt+1)*5*time.Millisecond + rand.N(5*time.Millisecond)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (r *SequenceRepository) next(ctx context.Context, dayKey string) (int64, error) {
	var value int64
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, lockSequenceSQL, dayKey).Scan(&value)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if _, err := tx.Exec(ctx, insertSequenceSQL, dayKey); err != nil {
				return err
			}
			value = 1
			return nil
		case err != nil:
			return err
		}
		return tx.QueryRow(ctx, bumpSequenceSQL, dayKey).Scan(&value)
	})
	return value, err
}
