// Package sqlxrepos implements the app repositories on top of jmoiron/sqlx and Masterminds/squirrel.
// Queries are kept portable across postgres, mysql and sqlite.
package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// repository holds the default executor of a repository; a transaction may be passed per call instead.
type repository struct {
	exec core.DBExecutor
}

func (repo repository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

// builder returns a statement builder using the placeholders of the executor's driver.
func builder(exec core.DBExecutor) sq.StatementBuilderType {
	if exec.DriverName() == driverPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func get(ctx context.Context, exec core.DBExecutor, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.GetContext(ctx, exec, dest, query, args...)
}

func selectAll(ctx context.Context, exec core.DBExecutor, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.SelectContext(ctx, exec, dest, query, args...)
}

// execute runs b and returns the number of affected rows.
func execute(ctx context.Context, exec core.DBExecutor, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// lockRow locks a row until the end of the current transaction. sqlite locks the whole database on write instead.
func lockRow(ctx context.Context, exec core.DBExecutor, table, column string, value interface{}) error {
	if exec.DriverName() == driverSQLite {
		return nil
	}
	var id string
	b := builder(exec).Select("id").From(table).Where(sq.Eq{column: value}).Suffix("FOR UPDATE")
	return get(ctx, exec, &id, b)
}

// trapNoRowsErr maps the "no rows" err to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}
