package introspect

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/askdb/askdb/internal/schema"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Introspect(ctx context.Context) ([]schema.Table, error) {
	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	tables := make([]schema.Table, 0, len(names))
	for _, name := range names {
		columns, err := s.columns(ctx, name)
		if err != nil {
			return nil, err
		}
		foreignKeys, err := s.foreignKeys(ctx, name)
		if err != nil {
			return nil, err
		}
		for i := range columns {
			if ref, ok := foreignKeys[columns[i].Name]; ok {
				ref := ref
				columns[i].ForeignKey = &ref
			}
		}
		tables = append(tables, schema.Table{Name: name, Columns: columns})
	}
	return tables, nil
}

func (s *SQLite) tableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name FROM sqlite_master
WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return names, nil
}

func (s *SQLite) columns(ctx context.Context, table string) ([]schema.Column, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []schema.Column
	for rows.Next() {
		var (
			name, colType string
			notNull, pk   int
		)
		if err := rows.Scan(&name, &colType, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", table, err)
		}
		columns = append(columns, schema.Column{
			Name:       name,
			Type:       colType,
			Nullable:   notNull == 0 && pk == 0,
			PrimaryKey: pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return columns, nil
}

func (s *SQLite) foreignKeys(ctx context.Context, table string) (map[string]schema.ForeignKeyRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT "from", "table", "to" FROM pragma_foreign_key_list(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("list foreign keys of %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	refs := map[string]schema.ForeignKeyRef{}
	for rows.Next() {
		var from, refTable string
		var to sql.NullString
		if err := rows.Scan(&from, &refTable, &to); err != nil {
			return nil, fmt.Errorf("scan foreign key of %q: %w", table, err)
		}
		refs[from] = schema.ForeignKeyRef{Table: refTable, Column: to.String}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return refs, nil
}
