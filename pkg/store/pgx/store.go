// Package pgx implements store.Store on PostgreSQL with pgvector.
package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/OFFIS-RIT/simgraph/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// Store is a store.Store backed by a pgx connection or pool.
type Store struct {
	conn pgxIConn
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New opens a pool for dsn and registers the pgvector types on every new
// connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, ingesterr.New(ingesterr.KindConfig, "store.open", errors.New("invalid database url"))
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, ingesterr.New(ingesterr.KindConnectivity, "store.open", err)
	}
	return &Store{conn: pool, pool: pool}, nil
}

// NewWithConnection wraps an existing connection. Close does not close it.
func NewWithConnection(conn pgxIConn) *Store {
	return &Store{conn: conn}
}

// Pool returns the underlying pool, or nil for a wrapped connection.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, "SELECT 1"); err != nil {
		return ingesterr.New(ingesterr.KindConnectivity, "store.ping", err)
	}
	return nil
}

func (s *Store) MissingTables(ctx context.Context, tables []string) ([]string, error) {
	var missing []string
	for _, t := range tables {
		var name *string
		err := s.conn.QueryRow(ctx, "SELECT to_regclass($1)::text", store.Qualified(t)).Scan(&name)
		if err != nil {
			return nil, wrapErr("store.tables", err)
		}
		if name == nil {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

// WithTx runs fn in a transaction. The deferred rollback is a no-op after a
// successful commit.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.EdgeTx) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return wrapErr("store.begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&edgeTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr("store.commit", err)
	}
	return nil
}

// wrapErr tags a database error with its kind. Constraint, data and schema
// errors point at the stored data; everything else at the connection.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := pgErr.Code[:min(2, len(pgErr.Code))]
		switch class {
		case "22", "23", "42":
			return ingesterr.New(ingesterr.KindDataIntegrity, op, err)
		}
	}
	return ingesterr.New(ingesterr.KindConnectivity, op, err)
}

func table(name string) string {
	return pgxv5.Identifier{store.Schema, name}.Sanitize()
}
