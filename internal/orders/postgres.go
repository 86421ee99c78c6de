package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgxpool.Pool used by PostgresStore.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*pgxpool.Pool)(nil)

const ownerQuery = `SELECT customer_id FROM orders WHERE order_ref = $1`

// PostgresStore looks up order ownership in the storefront's orders table.
type PostgresStore struct {
	db Querier
}

// NewPostgresStore creates a PostgresStore over a pool.
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// OrderOwner implements Lookup.
func (s *PostgresStore) OrderOwner(ctx context.Context, orderRef string) (string, error) {
	var owner string
	err := s.db.QueryRow(ctx, ownerQuery, orderRef).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query order owner: %w", err)
	}
	return owner, nil
}
