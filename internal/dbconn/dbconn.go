package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	DuckDB   Dialect = "duckdb"
)

func ParseDialect(raw string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(raw))) {
	case SQLite:
		return SQLite, nil
	case Postgres:
		return Postgres, nil
	case DuckDB:
		return DuckDB, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", raw)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case DuckDB:
		return "duckdb"
	default:
		return "sqlite"
	}
}

// Placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

type Config struct {
	Dialect         Dialect
	DSN             string
	ReadOnly        bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.DSN == "" && cfg.Dialect != DuckDB {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Dialect == "" {
		return nil, fmt.Errorf("database dialect is required")
	}

	dsn := cfg.DSN
	if cfg.ReadOnly {
		dsn = ReadOnlyDSN(cfg.Dialect, dsn)
	}
	db, err := sql.Open(cfg.Dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Dialect, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", cfg.Dialect, err)
	}

	return db, nil
}

// ReadOnlyDSN asks the driver itself to refuse writes where the DSN format
// supports it. Postgres is guarded per transaction instead.
func ReadOnlyDSN(dialect Dialect, dsn string) string {
	switch dialect {
	case DuckDB:
		if dsn == "" || strings.Contains(dsn, "access_mode=") {
			return dsn
		}
		return appendQueryParam(dsn, "access_mode=READ_ONLY")
	case SQLite:
		if !strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, "mode=") {
			return dsn
		}
		return appendQueryParam(dsn, "mode=ro")
	default:
		return dsn
	}
}

func appendQueryParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}
