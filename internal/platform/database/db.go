package database

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"suemybrother/internal/platform/config"
)

const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "pgx"
)

// DB is the shared durable store. Queries are written with ? placeholders
// and passed through Rebind before execution.
type DB struct {
	*sql.DB
	Dialect string
}

// Wrap adopts an already opened handle, e.g. a sqlmock connection in tests.
func Wrap(db *sql.DB, dialect string) *DB {
	return &DB{DB: db, Dialect: dialect}
}

func Open(cfg config.DatabaseConfig) (*DB, error) {
	driver, dsn := driverFor(cfg.URL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConnections
	if driver == DialectSQLite && strings.Contains(dsn, ":memory:") {
		// every new connection to :memory: is a fresh, empty database
		maxConns = 1
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return Wrap(db, driver), nil
}

func driverFor(url string) (string, string) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DialectPostgres, url
	}

	dsn := strings.TrimPrefix(url, "file:")
	if dsn == "" {
		dsn = ":memory:"
	}
	switch {
	case dsn == ":memory:":
		dsn += "?_foreign_keys=on"
	case !strings.Contains(dsn, "?"):
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}
	return DialectSQLite, dsn
}

// Rebind rewrites ? placeholders to $n for postgres.
func (db *DB) Rebind(query string) string {
	if db.Dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
