// Package pgxutil bridges database/sql pools to native pgx connections and transactions.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// ErrUnexpectedDriverConn is returned when the pool is not backed by the pgx stdlib driver.
var ErrUnexpectedDriverConn = errors.New("unexpected driver connection type; expected *stdlib.Conn")

// TxParams groups parameters for InTx to keep the parameter count at 3.
type TxParams struct {
	// ReadOnly opens the transaction in read-only access mode.
	ReadOnly bool
	// Isolation overrides the server default isolation level.
	Isolation sql.IsolationLevel
	Fn        func(pgx.Tx) error
}

// SQLTxParams groups parameters for InSQLTx.
type SQLTxParams struct {
	Opts *sql.TxOptions
	Fn   func(*sql.Tx) error
}

// OnConn borrows a connection from db and runs fn against its native *pgx.Conn.
func OnConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	return conn.Raw(func(dc any) error {
		std, ok := dc.(*stdlib.Conn)
		if !ok {
			return ErrUnexpectedDriverConn
		}
		return fn(std.Conn())
	})
}

// InTx runs p.Fn inside a pgx transaction, committing when it returns nil.
func InTx(ctx context.Context, db *sql.DB, p TxParams) error {
	if p.Fn == nil {
		return errors.New("transaction func is required")
	}
	return OnConn(ctx, db, func(conn *pgx.Conn) error {
		tx, err := conn.BeginTx(ctx, p.options())
		if err != nil {
			return fmt.Errorf("begin pgx tx: %w", err)
		}
		defer func() {
			_ = tx.Rollback(ctx)
		}()
		if fnErr := p.Fn(tx); fnErr != nil {
			return fnErr
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return fmt.Errorf("commit pgx tx: %w", commitErr)
		}
		return nil
	})
}

// InSQLTx runs p.Fn inside a database/sql transaction. Rollback failures are joined into the result.
func InSQLTx(ctx context.Context, db *sql.DB, p SQLTxParams) (err error) {
	if p.Fn == nil {
		return errors.New("transaction func is required")
	}
	tx, err := db.BeginTx(ctx, p.Opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = p.Fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p TxParams) options() pgx.TxOptions {
	opts := pgx.TxOptions{
		IsoLevel:   IsoLevel(p.Isolation),
		AccessMode: pgx.ReadWrite,
	}
	if p.ReadOnly {
		opts.AccessMode = pgx.ReadOnly
	}
	return opts
}

// IsoLevel maps a database/sql isolation level onto pgx. Unknown levels use the server default.
func IsoLevel(level sql.IsolationLevel) pgx.TxIsoLevel {
	switch level {
	case sql.LevelSerializable, sql.LevelLinearizable:
		return pgx.Serializable
	case sql.LevelRepeatableRead, sql.LevelSnapshot:
		return pgx.RepeatableRead
	case sql.LevelReadCommitted, sql.LevelWriteCommitted:
		return pgx.ReadCommitted
	case sql.LevelReadUncommitted:
		return pgx.ReadUncommitted
	default:
		return ""
	}
}
