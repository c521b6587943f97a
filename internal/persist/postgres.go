package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `
CREATE TABLE IF NOT EXISTS app_state (
    key        TEXT PRIMARY KEY,
    payload    JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresBackend keeps the state blob in a single-row table. The row is
// replaced wholesale on every save.
type PostgresBackend struct {
	db  *sql.DB
	key string
}

func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure app_state table: %w", err)
	}
	return &PostgresBackend{db: db, key: StateKey}, nil
}

func (b *PostgresBackend) SaveState(ctx context.Context, payload []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO app_state (key, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		b.key, payload)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

func (b *PostgresBackend) LoadState(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT payload FROM app_state WHERE key = $1`, b.key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	return payload, nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
