package query

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

// Dialect renders the parts of a statement that differ between databases
type Dialect interface {
	// Name returns the dialect name
	Name() string
	// Placeholder returns the bind parameter marker for the n-th argument (1-based)
	Placeholder(n int) string
	// In renders a membership test of expr against values
	In(expr string, values []any, negate bool, bind func(any) string) string
	// LikeOperator returns the pattern match operator
	LikeOperator(caseInsensitive bool) string
	// LimitOffset renders the pagination clause. A limit <= 0 means unbounded.
	LimitOffset(limit, offset int, bind func(any) string) string
}

// QuoteIdentifier quotes a table or column name
func QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// DialectFor returns the dialect for a database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return SQLite, nil
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	default:
		return nil, errors.Newf("unsupported database driver: %s", driver)
	}
}

var (
	// SQLite uses positional '?' parameters and expanded IN lists
	SQLite Dialect = sqliteDialect{}
	// Postgres uses numbered '$n' parameters and array membership tests
	Postgres Dialect = postgresDialect{}
)

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite3" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) In(expr string, values []any, negate bool, bind func(any) string) string {
	if len(values) == 0 {
		if negate {
			return "TRUE"
		}
		return "FALSE"
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = bind(v)
	}
	op := "IN"
	if negate {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", expr, op, strings.Join(placeholders, ", "))
}

func (sqliteDialect) LikeOperator(bool) string {
	// LIKE is case-insensitive for ASCII in SQLite
	return "LIKE"
}

func (sqliteDialect) LimitOffset(limit, offset int, bind func(any) string) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if limit <= 0 {
		limit = -1
	}
	return fmt.Sprintf(" LIMIT %s OFFSET %s", bind(limit), bind(offset))
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) In(expr string, values []any, negate bool, bind func(any) string) string {
	if len(values) == 0 {
		if negate {
			return "TRUE"
		}
		return "FALSE"
	}
	if negate {
		return fmt.Sprintf("NOT (%s = ANY(%s))", expr, bind(arrayParam(values)))
	}
	return fmt.Sprintf("%s = ANY(%s)", expr, bind(arrayParam(values)))
}

func (postgresDialect) LikeOperator(caseInsensitive bool) string {
	if caseInsensitive {
		return "ILIKE"
	}
	return "LIKE"
}

func (postgresDialect) LimitOffset(limit, offset int, bind func(any) string) string {
	var b strings.Builder
	if limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(bind(limit))
	}
	if offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(bind(offset))
	}
	return b.String()
}

// arrayParam converts a list of values into a PostgreSQL array parameter
func arrayParam(values []any) any {
	ints := make(pq.Int64Array, 0, len(values))
	strs := make(pq.StringArray, 0, len(values))
	for _, v := range values {
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			ints = append(ints, rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
			ints = append(ints, int64(rv.Uint()))
		case reflect.String:
			strs = append(strs, rv.String())
		default:
			if s, ok := v.(fmt.Stringer); ok {
				strs = append(strs, s.String())
				continue
			}
			return pq.GenericArray{A: values}
		}
	}
	switch {
	case len(ints) == len(values):
		return ints
	case len(strs) == len(values):
		return strs
	default:
		return pq.GenericArray{A: values}
	}
}
