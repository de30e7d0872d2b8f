package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS kv_entries (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres keeps one row per key in the kv_entries table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the kv_entries table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return classifyPostgres("ensure schema", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var val string
	err := p.pool.QueryRow(ctx, `SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&val)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, classifyPostgres("get", err)
	}
	return val, true, nil
}

// Set upserts in a single statement so the previous value is replaced atomically.
func (p *Postgres) Set(ctx context.Context, key, value string) error {
	const q = `INSERT INTO kv_entries (key, value, updated_at)
	           VALUES ($1, $2, now())
	           ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := p.pool.Exec(ctx, q, key, value); err != nil {
		return classifyPostgres("set", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return classifyPostgres("delete", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func classifyPostgres(op string, err error) error {
	op = "postgres " + op
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		// 53100 disk_full, 53200 out_of_memory, 54000 program_limit_exceeded (value too large)
		case pgErr.Code == "53100" || pgErr.Code == "53200" || pgErr.Code == "54000":
			return tag(ErrQuotaExceeded, op, err)
		// class 08: connection exceptions, 57P01..57P03: server shutting down / cannot connect now
		case strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P"):
			return tag(ErrUnavailable, op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || isTransient(err) {
		return tag(ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
