package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLStore keeps every collection in a single records table with a JSON data
// column. Postgres and SQLite share the code and differ only in Dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Find(ctx context.Context, collection string, id int64) (Record, error) {
	p := s.dialect.placeholder
	query := fmt.Sprintf(`SELECT id, data, created_at, updated_at FROM records WHERE collection = %s AND id = %s`, p(1), p(2))
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, collection, id), collection)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s %d: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("find %s %d: %w", collection, id, err)
	}
	return rec, nil
}

func (s *SQLStore) Query(ctx context.Context, collection string, q Query) ([]Record, error) {
	where, args, err := s.buildWhere(collection, q)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, data, created_at, updated_at FROM records WHERE ")
	sb.WriteString(where)
	sb.WriteString(" ORDER BY ")
	sb.WriteString(s.orderBy(q.Sort))
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sb.WriteString(" LIMIT " + s.dialect.placeholder(len(args)))
	}
	if q.Offset > 0 {
		if q.Limit <= 0 && s.dialect.Name == sqliteDialect.Name {
			// sqlite only accepts OFFSET after a LIMIT
			sb.WriteString(" LIMIT -1")
		}
		args = append(args, q.Offset)
		sb.WriteString(" OFFSET " + s.dialect.placeholder(len(args)))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	items := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows, collection)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return items, nil
}

func (s *SQLStore) Count(ctx context.Context, collection string, q Query) (int, error) {
	where, args, err := s.buildWhere(collection, q)
	if err != nil {
		return 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE "+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return total, nil
}

func (s *SQLStore) Create(ctx context.Context, collection string, data map[string]any) (Record, error) {
	raw, err := encodeData(data)
	if err != nil {
		return Record{}, err
	}
	now := s.now()
	p := s.dialect.placeholder
	query := fmt.Sprintf(`
		INSERT INTO records (collection, data, created_at, updated_at)
		VALUES (%s, %s, %s, %s)
		RETURNING id
	`, p(1), s.dialect.jsonParam(2), p(3), p(4))

	var id int64
	if err := s.db.QueryRowContext(ctx, query, collection, string(raw), now, now).Scan(&id); err != nil {
		if s.dialect.isUniqueViolation(err) {
			return Record{}, fmt.Errorf("create %s: %w", collection, ErrConflict)
		}
		return Record{}, fmt.Errorf("create %s: %w", collection, err)
	}

	stored, err := decodeData(raw)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Collection: collection, Data: stored, CreatedAt: now, UpdatedAt: now}, nil
}

// Update merges fields into the stored data inside a transaction. Concurrent
// writers to the same record are serialized by the row lock on Postgres and
// by the single connection on SQLite; the last write wins.
func (s *SQLStore) Update(ctx context.Context, collection string, id int64, fields map[string]any) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin update %s %d: %w", collection, id, err)
	}
	defer func() { _ = tx.Rollback() }()

	p := s.dialect.placeholder
	selectQuery := fmt.Sprintf(`SELECT id, data, created_at, updated_at FROM records WHERE collection = %s AND id = %s%s`, p(1), p(2), s.dialect.forUpdate)
	current, err := scanRecord(tx.QueryRowContext(ctx, selectQuery, collection, id), collection)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s %d: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("load %s %d: %w", collection, id, err)
	}

	raw, err := encodeData(merge(current.Data, fields))
	if err != nil {
		return Record{}, err
	}
	now := s.now()
	updateQuery := fmt.Sprintf(`UPDATE records SET data = %s, updated_at = %s WHERE collection = %s AND id = %s`,
		s.dialect.jsonParam(1), p(2), p(3), p(4))
	if _, err := tx.ExecContext(ctx, updateQuery, string(raw), now, collection, id); err != nil {
		if s.dialect.isUniqueViolation(err) {
			return Record{}, fmt.Errorf("update %s %d: %w", collection, id, ErrConflict)
		}
		return Record{}, fmt.Errorf("update %s %d: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit update %s %d: %w", collection, id, err)
	}

	stored, err := decodeData(raw)
	if err != nil {
		return Record{}, err
	}
	current.Data = stored
	current.UpdatedAt = now
	return current, nil
}

func (s *SQLStore) Delete(ctx context.Context, collection string, id int64) error {
	p := s.dialect.placeholder
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM records WHERE collection = %s AND id = %s`, p(1), p(2)), collection, id)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", collection, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", collection, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %d: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) buildWhere(collection string, q Query) (string, []any, error) {
	if err := validateQuery(q); err != nil {
		return "", nil, err
	}
	p := s.dialect.placeholder
	args := []any{collection}
	clauses := []string{"collection = " + p(1)}

	for _, cond := range q.Where {
		if column, ok := columnFor(cond.Field); ok {
			if cond.Op != OpEquals {
				return "", nil, fmt.Errorf("%w: %s only supports equals", ErrInvalidField, cond.Field)
			}
			args = append(args, containsValue(cond.Value))
			clauses = append(clauses, fmt.Sprintf("%s = %s", column, p(len(args))))
			continue
		}
		switch cond.Op {
		case OpEquals:
			args = append(args, scalarText(cond.Value))
			clauses = append(clauses, s.dialect.equals(cond.Field, p(len(args))))
		case OpContains:
			expr, convert := s.dialect.contains(cond.Field, p(len(args)+1))
			value, err := convert(cond.Value)
			if err != nil {
				return "", nil, err
			}
			args = append(args, value)
			clauses = append(clauses, expr)
		case OpLike:
			args = append(args, likePattern(cond.Value))
			clauses = append(clauses, s.dialect.like(cond.Field, p(len(args))))
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

func (s *SQLStore) orderBy(sortSpec string) string {
	field := strings.TrimPrefix(sortSpec, "-")
	direction := "ASC"
	if strings.HasPrefix(sortSpec, "-") {
		direction = "DESC"
	}
	if field == "" {
		return "id ASC"
	}
	expr, ok := columnFor(field)
	if !ok {
		expr = s.dialect.sortExpr(field)
	}
	return fmt.Sprintf("%s %s, id %s", expr, direction, direction)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, collection string) (Record, error) {
	var (
		rec       Record
		raw       []byte
		createdAt any
		updatedAt any
	)
	if err := row.Scan(&rec.ID, &raw, &createdAt, &updatedAt); err != nil {
		return Record{}, err
	}
	data, err := decodeData(raw)
	if err != nil {
		return Record{}, err
	}
	rec.Collection = collection
	rec.Data = data
	if rec.CreatedAt, err = asTime(createdAt); err != nil {
		return Record{}, err
	}
	if rec.UpdatedAt, err = asTime(updatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// asTime accepts the timestamp shapes the two drivers hand back.
func asTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case nil:
		return time.Time{}, nil
	case int64:
		return time.Unix(0, v).UTC(), nil
	case []byte:
		return asTime(string(v))
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, v); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("parse timestamp %q", v)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", value)
	}
}
