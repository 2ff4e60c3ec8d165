package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore connects using config.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	return OpenPostgres(config.ConnectionString())
}

// OpenPostgres connects with a DSN and runs the migrations.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_entries (
		bucket VARCHAR(64) NOT NULL,
		key VARCHAR(256) NOT NULL,
		value BYTEA NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (bucket, key)
	);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const upsertQuery = `
	INSERT INTO kv_entries (bucket, key, value, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (bucket, key) DO UPDATE SET
		value = EXCLUDED.value,
		updated_at = NOW()
	`

func (s *PostgresStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv_entries WHERE bucket = $1 AND key = $2", bucket, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *PostgresStore) Put(ctx context.Context, bucket, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, upsertQuery, bucket, key, value)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE bucket = $1 AND key = $2", bucket, key)
	return err
}

func (s *PostgresStore) List(ctx context.Context, bucket string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM kv_entries WHERE bucket = $1 ORDER BY key", bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Batch(ctx context.Context, ops []Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, op := range ops {
		if op.Value == nil {
			_, err = tx.ExecContext(ctx, "DELETE FROM kv_entries WHERE bucket = $1 AND key = $2", op.Bucket, op.Key)
		} else {
			_, err = tx.ExecContext(ctx, upsertQuery, op.Bucket, op.Key, op.Value)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
