package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Change feed channels, fired by the triggers created in Migrate.
const (
	ChannelOrders        = "orders_changed"
	ChannelNotifications = "notifications_changed"
)

// DB is the storefront's document store backed by PostgreSQL.
type DB struct {
	db *sql.DB
}

func Open(connString string) (*DB, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db: db}, nil
}

// New wraps an existing handle; tests pass a sqlmock connection.
func New(db *sql.DB) *DB {
	return &DB{db: db}
}

func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price NUMERIC(10,2) NOT NULL CHECK (price >= 0),
		image_url TEXT NOT NULL DEFAULT '',
		image_hint TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		uid TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		is_admin BOOLEAN NOT NULL DEFAULT false,
		notification_preferences JSONB NOT NULL DEFAULT '{"orderUpdates":true,"promotions":true}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_is_admin ON users(is_admin) WHERE is_admin`,

	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		items JSONB NOT NULL,
		total_price NUMERIC(12,2) NOT NULL,
		order_date TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		stripe_checkout_session_id TEXT,
		customer_email TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_session_id ON orders(stripe_checkout_session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id, order_date DESC)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		message TEXT NOT NULL,
		type TEXT NOT NULL,
		link TEXT NOT NULL DEFAULT '',
		read BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		payload JSONB NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		published_at TIMESTAMP WITH TIME ZONE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox(created_at) WHERE published_at IS NULL`,

	`CREATE OR REPLACE FUNCTION notify_user_change() RETURNS trigger AS $$
	BEGIN
		IF TG_OP = 'DELETE' THEN
			PERFORM pg_notify(TG_ARGV[0], OLD.user_id);
			RETURN OLD;
		END IF;
		PERFORM pg_notify(TG_ARGV[0], NEW.user_id);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS orders_changed ON orders`,
	`CREATE TRIGGER orders_changed AFTER INSERT OR UPDATE OR DELETE ON orders
		FOR EACH ROW EXECUTE FUNCTION notify_user_change('orders_changed')`,
	`DROP TRIGGER IF EXISTS notifications_changed ON notifications`,
	`CREATE TRIGGER notifications_changed AFTER INSERT OR UPDATE OR DELETE ON notifications
		FOR EACH ROW EXECUTE FUNCTION notify_user_change('notifications_changed')`,
}

func (s *DB) Migrate(ctx context.Context) error {
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
