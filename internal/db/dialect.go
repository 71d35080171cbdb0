package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect struct {
	Name   string
	Driver string

	// Numbered placeholders ($1, $2, ...) instead of "?".
	Numbered bool
}

var (
	Postgres = Dialect{Name: "postgres", Driver: "pgx", Numbered: true}
	SQLite   = Dialect{Name: "sqlite", Driver: "sqlite"}
)

func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database dialect: %q", name)
	}
}

// Rebind rewrites "?" placeholders for dialects that number them.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
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

func Open(dialect Dialect, dsn string) (*sql.DB, error) {
	database, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect.Name, err)
	}
	if dialect == SQLite {
		// One writer at a time; avoids SQLITE_BUSY under concurrent requests.
		database.SetMaxOpenConns(1)
	}
	return database, nil
}
