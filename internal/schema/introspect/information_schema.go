package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/dbconn"
	"github.com/askdb/askdb/internal/schema"
)

// InformationSchema reads metadata through the ANSI information_schema
// views shared by postgres and duckdb.
type InformationSchema struct {
	db        *sql.DB
	dialect   dbconn.Dialect
	namespace string
	withKeys  bool
}

func NewInformationSchema(db *sql.DB, dialect dbconn.Dialect, namespace string, withKeys bool) *InformationSchema {
	return &InformationSchema{db: db, dialect: dialect, namespace: namespace, withKeys: withKeys}
}

func (s *InformationSchema) Introspect(ctx context.Context) ([]schema.Table, error) {
	query := `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = ` + s.dialect.Placeholder(1) + `
  AND t.table_type IN ('BASE TABLE', 'VIEW')
ORDER BY c.table_name, c.ordinal_position`
	rows, err := s.db.QueryContext(ctx, query, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []schema.Table
	index := map[string]int{}
	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		i, ok := index[tableName]
		if !ok {
			i = len(tables)
			index[tableName] = i
			tables = append(tables, schema.Table{Name: tableName})
		}
		tables[i].Columns = append(tables[i].Columns, schema.Column{
			Name:     columnName,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close column rows: %w", err)
	}

	if s.withKeys {
		if err := s.applyKeys(ctx, tables, index); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

func (s *InformationSchema) applyKeys(ctx context.Context, tables []schema.Table, index map[string]int) error {
	query := `
SELECT tc.table_name, kcu.column_name, tc.constraint_type, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
LEFT JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_type = 'FOREIGN KEY'
 AND ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.table_schema = ` + s.dialect.Placeholder(1) + `
  AND tc.constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY')`
	rows, err := s.db.QueryContext(ctx, query, s.namespace)
	if err != nil {
		return fmt.Errorf("list key constraints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName, constraintType string
		var refTable, refColumn sql.NullString
		if err := rows.Scan(&tableName, &columnName, &constraintType, &refTable, &refColumn); err != nil {
			return fmt.Errorf("scan key constraint: %w", err)
		}
		i, ok := index[tableName]
		if !ok {
			continue
		}
		for j := range tables[i].Columns {
			column := &tables[i].Columns[j]
			if column.Name != columnName {
				continue
			}
			switch constraintType {
			case "PRIMARY KEY":
				column.PrimaryKey = true
				column.Nullable = false
			case "FOREIGN KEY":
				if refTable.Valid {
					column.ForeignKey = &schema.ForeignKeyRef{Table: refTable.String, Column: refColumn.String}
				}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}
