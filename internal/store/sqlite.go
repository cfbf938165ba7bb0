package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/impetus-mx/storefront-api/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL UNIQUE,
	amount_total   INTEGER NOT NULL,
	currency       TEXT NOT NULL,
	customer_email TEXT,
	status         TEXT NOT NULL DEFAULT 'paid',
	items          TEXT,
	quotation_id   TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertOrder(ctx context.Context, order model.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, session_id, amount_total, currency, customer_email, status, items, quotation_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.SessionID, order.AmountTotal, order.Currency,
		order.CustomerEmail, string(order.Status), order.ItemsJSON, order.QuotationID, now, now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert order")
	}
	return nil
}

func (s *SQLiteStore) GetOrderBySessionID(ctx context.Context, sessionID string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, amount_total, currency, customer_email, status, items, quotation_id, created_at, updated_at
		 FROM orders WHERE session_id = ? LIMIT 1`,
		sessionID,
	)

	var order model.Order
	var email, items, quotationID sql.NullString
	err := row.Scan(&order.ID, &order.SessionID, &order.AmountTotal, &order.Currency,
		&email, &order.Status, &items, &quotationID, &order.CreatedAt, &order.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get order")
	}
	order.CustomerEmail = email.String
	order.ItemsJSON = items.String
	order.QuotationID = quotationID.String
	return &order, nil
}

func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, sessionID string, status model.OrderStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE session_id = ?`,
		string(status), time.Now().UTC(), sessionID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update order status")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: update order status")
	}
	if affected == 0 {
		return eris.Errorf("sqlite: no order for session %s", sessionID)
	}
	return nil
}
