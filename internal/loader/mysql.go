package loader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"bibflat/internal/schema"
)

// mysqlLoader has no COPY equivalent over the wire protocol, so it
// batches multi-row INSERT statements inside one transaction per
// table.
type mysqlLoader struct {
	db *sql.DB
}

const mysqlBatchSize = 500

func newMySQLLoader(dsn string) (*mysqlLoader, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return &mysqlLoader{db: db}, nil
}

func (l *mysqlLoader) EnsureSchema(ctx context.Context, tables []*schema.TableDefinition) error {
	for _, def := range tables {
		if _, err := l.db.ExecContext(ctx, createTableSQL(def, mysqlDialect)); err != nil {
			return fmt.Errorf("create table %s: %w", def.Name, err)
		}
	}
	return nil
}

func (l *mysqlLoader) Load(ctx context.Context, def *schema.TableDefinition, csvPath string) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cols := def.ColumnNames()
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", def.Name, strings.Join(cols, ", "))

	var args []any
	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		stmt := prefix + strings.TrimSuffix(strings.Repeat(placeholder+",", pending), ",")
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", def.Name, err)
		}
		args = args[:0]
		pending = 0
		return nil
	}

	count, err := readRows(csvPath, def, func(vals []any) error {
		args = append(args, vals...)
		pending++
		if pending >= mysqlBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := flush(); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", def.Name, err)
	}
	return count, nil
}

func (l *mysqlLoader) Close() error { return l.db.Close() }
