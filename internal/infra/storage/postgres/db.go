package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	boterrors "opsbot/internal/shared/errors"
	"opsbot/internal/shared/logging"
)

// DB abstracts the subset of pgxpool.Pool used by the stores so pgxmock can stand in.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

// Connect opens a pool and pings it, retrying while the database is unreachable.
func Connect(ctx context.Context, dsn string, maxConns int32, logger logging.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	var pool *pgxpool.Pool
	retry := boterrors.DefaultRetryConfig()
	retry.MaxAttempts = 5
	retry.BaseDelay = 500 * time.Millisecond
	retry.MaxDelay = 5 * time.Second
	err = boterrors.Retry(ctx, retry, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return boterrors.NewPermanentError(err, "create postgres pool: "+err.Error())
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return boterrors.NewTransientError(err, "ping postgres: "+err.Error())
		}
		pool = p
		return nil
	}, logger)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
