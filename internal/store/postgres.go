package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/impetus-mx/storefront-api/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it,
// so unit tests run without a database.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool (used with pgxmock in tests).
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL UNIQUE,
	amount_total   BIGINT NOT NULL,
	currency       TEXT NOT NULL,
	customer_email TEXT,
	status         TEXT NOT NULL DEFAULT 'paid',
	items          TEXT,
	quotation_id   TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) InsertOrder(ctx context.Context, order model.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, session_id, amount_total, currency, customer_email, status, items, quotation_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		order.ID, order.SessionID, order.AmountTotal, order.Currency,
		nullable(order.CustomerEmail), string(order.Status),
		nullable(order.ItemsJSON), nullable(order.QuotationID), now, now,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert order")
	}
	return nil
}

func (s *PostgresStore) GetOrderBySessionID(ctx context.Context, sessionID string) (*model.Order, error) {
	var order model.Order
	var email, items, quotationID sql.NullString

	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, amount_total, currency, customer_email, status, items, quotation_id, created_at, updated_at
		 FROM orders WHERE session_id = $1 LIMIT 1`,
		sessionID,
	).Scan(&order.ID, &order.SessionID, &order.AmountTotal, &order.Currency,
		&email, &order.Status, &items, &quotationID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get order")
	}
	order.CustomerEmail = email.String
	order.ItemsJSON = items.String
	order.QuotationID = quotationID.String
	return &order, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, sessionID string, status model.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE session_id = $3`,
		string(status), time.Now().UTC(), sessionID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update order status")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: no order for session %s", sessionID)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
