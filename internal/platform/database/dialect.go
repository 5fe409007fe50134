package database

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavour spoken by a pool.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// DialectFor maps a configured driver name to a Dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return 0, fmt.Errorf("database: unsupported driver %q", driver)
	}
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "postgres"
}

// String implements fmt.Stringer.
func (d Dialect) String() string {
	return d.DriverName()
}

// Rebind rewrites ? placeholders into the dialect's positional form. Question
// marks inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
