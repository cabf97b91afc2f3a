package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect isolates the SQL that differs between Postgres JSONB and SQLite JSON1.
type Dialect struct {
	Name       string // goose dialect name
	migrations string // directory inside migrationsFS

	placeholder func(n int) string
	jsonParam   func(n int) string
	forUpdate   string

	equals   func(field, arg string) string
	contains func(field, arg string) (expr string, value func(any) (any, error))
	like     func(field, arg string) string
	sortExpr func(field string) string

	isUniqueViolation func(error) bool
}

var postgresDialect = Dialect{
	Name:        "postgres",
	migrations:  "migrations/postgres",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	jsonParam:   func(n int) string { return fmt.Sprintf("$%d::jsonb", n) },
	forUpdate:   " FOR UPDATE",
	equals: func(field, arg string) string {
		return fmt.Sprintf("data->>'%s' = %s", field, arg)
	},
	contains: func(field, arg string) (string, func(any) (any, error)) {
		// array @> [value] also matches when the field holds the bare value
		return fmt.Sprintf("data->'%s' @> %s::jsonb", field, arg), func(value any) (any, error) {
			raw, err := json.Marshal([]any{containsValue(value)})
			if err != nil {
				return nil, fmt.Errorf("encode contains value: %w", err)
			}
			return string(raw), nil
		}
	},
	like: func(field, arg string) string {
		return fmt.Sprintf("data->>'%s' ILIKE %s", field, arg)
	},
	sortExpr: func(field string) string {
		return fmt.Sprintf("data->>'%s'", field)
	},
	isUniqueViolation: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	},
}

var sqliteDialect = Dialect{
	Name:        "sqlite3",
	migrations:  "migrations/sqlite",
	placeholder: func(int) string { return "?" },
	jsonParam:   func(int) string { return "?" },
	equals: func(field, arg string) string {
		return fmt.Sprintf("CAST(json_extract(data, '$.%s') AS TEXT) = %s", field, arg)
	},
	contains: func(field, arg string) (string, func(any) (any, error)) {
		expr := fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(records.data, '$.%s') WHERE json_each.value = %s)", field, arg)
		return expr, func(value any) (any, error) { return containsValue(value), nil }
	},
	like: func(field, arg string) string {
		return fmt.Sprintf("json_extract(data, '$.%s') LIKE %s ESCAPE '\\'", field, arg)
	},
	sortExpr: func(field string) string {
		return fmt.Sprintf("json_extract(data, '$.%s')", field)
	},
	isUniqueViolation: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

// columnFor maps the record-level fields onto real columns.
func columnFor(field string) (string, bool) {
	switch field {
	case "id":
		return "id", true
	case "createdAt":
		return "created_at", true
	case "updatedAt":
		return "updated_at", true
	default:
		return "", false
	}
}

func likePattern(value any) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(scalarText(value)) + "%"
}
