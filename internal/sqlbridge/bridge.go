// Package sqlbridge runs parameterized SQL over a sqlpool.Pool and hands
// rows back as generic Records.
//
// WHY A GENERIC RECORD?
// The bridge does not know any table's schema. Each row comes back as an
// ordered column → Value mapping and the caller (which does know the
// schema) picks the columns it needs. That keeps one bridge usable for any
// table and any of the supported engines.
//
// PLACEHOLDERS:
// Callers always write ? placeholders. Before touching the database the
// bridge counts them (ignoring ? inside quotes and comments) and rejects a
// query whose count does not match the parameters with apperror.ErrQuery.
// For Postgres the placeholders are then rewritten to $1, $2, ...
//
// The bridge never builds SQL. Table and column names cannot be bound as
// parameters, so a caller that interpolates them must validate them first.
package sqlbridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/sakif/userauth/internal/apperror"
	"github.com/sakif/userauth/internal/sqlpool"
)

// Bridge executes SQL against one pool. It is safe for concurrent use:
// every operation borrows its own connection and returns it before
// returning.
type Bridge struct {
	pool    *sqlpool.Pool
	dialect dialect
	logger  *slog.Logger
}

// New returns a Bridge on top of pool. The bridge owns the pool from here
// on: Bridge.Close closes it.
func New(pool *sqlpool.Pool, logger *slog.Logger) *Bridge {
	return &Bridge{
		pool:    pool,
		dialect: dialectFor(pool.Engine()),
		logger:  logger,
	}
}

// Engine reports the engine behind the pool (see sqlpool.Engine*).
func (b *Bridge) Engine() string {
	return b.dialect.engine
}

// Close closes the underlying pool.
func (b *Bridge) Close() error {
	return b.pool.Close()
}

// withConn borrows a connection for the duration of fn. The connection
// is released on every path out of fn, panics included.
func (b *Bridge) withConn(ctx context.Context, fn func(*sqlpool.Conn) error) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer b.pool.Release(conn)
	return fn(conn)
}

// prepare checks the placeholder count and rewrites placeholders for the
// engine.
func (b *Bridge) prepare(query string, params []any) (string, error) {
	if n := b.dialect.countPlaceholders(query); n != len(params) {
		return "", apperror.Query(
			fmt.Sprintf("query has %d placeholders but %d parameters were given", n, len(params)), nil)
	}
	return b.dialect.rebind(query), nil
}

// TableExists asks the schema catalog whether a table called name exists.
// A failed probe is returned as an error, never reported as absence.
func (b *Bridge) TableExists(ctx context.Context, name string) (bool, error) {
	_, found, err := b.QueryOne(ctx, b.dialect.tableExists, name)
	if err != nil {
		return false, err
	}
	return found, nil
}

// CreateTable runs createSQL followed by indexSQL in a single transaction.
// If any statement fails everything is rolled back and the error returned.
//
// MySQL commits DDL implicitly, so on that engine statements that
// succeeded before the failure stay applied.
func (b *Bridge) CreateTable(ctx context.Context, createSQL string, indexSQL ...string) error {
	stmts := append([]string{createSQL}, indexSQL...)

	return b.withConn(ctx, func(conn *sqlpool.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return apperror.Query("beginning transaction", err)
		}

		for i, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
					b.logger.Warn("rolling back create table",
						slog.String("error", rbErr.Error()),
					)
				}
				return apperror.Query(fmt.Sprintf("executing statement %d of %d", i+1, len(stmts)), err)
			}
		}

		if err := tx.Commit(); err != nil {
			return apperror.Query("committing transaction", err)
		}

		b.logger.Debug("table created", slog.Int("statements", len(stmts)))
		return nil
	})
}

// QueryOne returns the first row of the result, or found=false when the
// query matched nothing.
func (b *Bridge) QueryOne(ctx context.Context, query string, params ...any) (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := b.query(ctx, query, params, func(r Record) bool {
		rec, found = r, true
		return false
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, found, nil
}

// QueryMany returns every row in the order the engine produced them.
// Use ORDER BY when the order matters.
func (b *Bridge) QueryMany(ctx context.Context, query string, params ...any) ([]Record, error) {
	var out []Record
	err := b.query(ctx, query, params, func(r Record) bool {
		out = append(out, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// query runs a SELECT and feeds rows to yield until it returns false.
func (b *Bridge) query(ctx context.Context, query string, params []any, yield func(Record) bool) error {
	q, err := b.prepare(query, params)
	if err != nil {
		return err
	}

	return b.withConn(ctx, func(conn *sqlpool.Conn) error {
		rows, err := conn.QueryContext(ctx, q, params...)
		if err != nil {
			return apperror.Query("executing query", err)
		}
		defer rows.Close()

		cols, err := rows.ColumnTypes()
		if err != nil {
			return apperror.Query("reading result columns", err)
		}

		for rows.Next() {
			rec, err := scanRecord(rows, cols)
			if err != nil {
				return err
			}
			if !yield(rec) {
				return nil
			}
		}
		if err := rows.Err(); err != nil {
			return apperror.Query("iterating rows", err)
		}
		return nil
	})
}

func scanRecord(rows *sql.Rows, cols []*sql.ColumnType) (Record, error) {
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return Record{}, apperror.Query("scanning row", err)
	}

	rec := NewRecord(len(cols))
	for i, col := range cols {
		rec.Set(col.Name(), valueOf(raw[i], col.DatabaseTypeName()))
	}
	return rec, nil
}

// returningClause matches an INSERT ... RETURNING statement.
var returningClause = regexp.MustCompile(`(?is)\breturning\s+\S`)

// Insert runs an INSERT and returns the generated key when the engine
// reports one. A statement with a RETURNING clause yields the first
// returned column instead; that is the only way to get a key out of
// Postgres.
func (b *Bridge) Insert(ctx context.Context, query string, params ...any) (Value, bool, error) {
	if returningClause.MatchString(query) {
		rec, found, err := b.QueryOne(ctx, query, params...)
		if err != nil || !found || rec.Len() == 0 {
			return Null, false, err
		}
		key := rec.values[0]
		return key, !key.IsNull(), nil
	}

	res, err := b.exec(ctx, query, params)
	if err != nil {
		return Null, false, err
	}
	if !b.dialect.lastInsertID {
		return Null, false, nil
	}

	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// No auto-generated key for this statement.
		return Null, false, nil
	}
	return IntValue(id), true, nil
}

// Update runs an UPDATE or DELETE and returns the number of affected
// rows. Zero is a valid result.
func (b *Bridge) Update(ctx context.Context, query string, params ...any) (int64, error) {
	res, err := b.exec(ctx, query, params)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperror.Query("reading affected rows", err)
	}
	return n, nil
}

func (b *Bridge) exec(ctx context.Context, query string, params []any) (sql.Result, error) {
	q, err := b.prepare(query, params)
	if err != nil {
		return nil, err
	}

	var res sql.Result
	err = b.withConn(ctx, func(conn *sqlpool.Conn) error {
		r, err := conn.ExecContext(ctx, q, params...)
		if err != nil {
			return apperror.Query("executing statement", err)
		}
		res = r
		return nil
	})
	return res, err
}
