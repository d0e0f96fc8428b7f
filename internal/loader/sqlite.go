package loader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"bibflat/internal/schema"
)

// sqliteLoader loads into a local SQLite file, handy for smoke-testing
// schemas without a server. One prepared INSERT per table, all rows in
// one transaction.
type sqliteLoader struct {
	db *sql.DB
}

func newSQLiteLoader(dsn string) (*sqliteLoader, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Writes serialize through a single connection.
	db.SetMaxOpenConns(1)
	return &sqliteLoader{db: db}, nil
}

func (l *sqliteLoader) EnsureSchema(ctx context.Context, tables []*schema.TableDefinition) error {
	for _, def := range tables {
		if _, err := l.db.ExecContext(ctx, createTableSQL(def, sqliteDialect)); err != nil {
			return fmt.Errorf("create table %s: %w", def.Name, err)
		}
	}
	return nil
}

func (l *sqliteLoader) Load(ctx context.Context, def *schema.TableDefinition, csvPath string) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cols := def.ColumnNames()
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		def.Name, strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")))
	if err != nil {
		return 0, fmt.Errorf("prepare insert for %s: %w", def.Name, err)
	}
	defer stmt.Close()

	count, err := readRows(csvPath, def, func(vals []any) error {
		_, err := stmt.ExecContext(ctx, vals...)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", def.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", def.Name, err)
	}
	return count, nil
}

func (l *sqliteLoader) Close() error { return l.db.Close() }
