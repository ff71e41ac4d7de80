package introspect

import (
	"database/sql"
	"fmt"

	"github.com/askdb/askdb/internal/dbconn"
	"github.com/askdb/askdb/internal/schema"
)

// New returns the metadata reader for dialect. namespace selects the
// schema for information_schema based dialects and defaults per dialect.
func New(db *sql.DB, dialect dbconn.Dialect, namespace string) (schema.Introspector, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	switch dialect {
	case dbconn.SQLite:
		return NewSQLite(db), nil
	case dbconn.Postgres:
		if namespace == "" {
			namespace = "public"
		}
		return NewInformationSchema(db, dialect, namespace, true), nil
	case dbconn.DuckDB:
		if namespace == "" {
			namespace = "main"
		}
		return NewInformationSchema(db, dialect, namespace, false), nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}
