package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the record does not exist in the collection.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a unique field already holds the submitted value.
	ErrConflict = errors.New("record conflict")
	// ErrInvalidField indicates a field name that cannot be used in a query.
	ErrInvalidField = errors.New("invalid field")
)

// Collection slugs.
const (
	Users    = "users"
	Media    = "media"
	Kids     = "kids"
	Sponsors = "sponsors"
	Updates  = "updates"
)

// uniqueFields mirrors the unique indexes declared in the migrations.
var uniqueFields = map[string][]string{
	Updates: {"slug"},
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Record is a document in a collection. Data holds the authored fields as
// decoded JSON; ID and timestamps are owned by the store.
type Record struct {
	ID         int64
	Collection string
	Data       map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Get returns a data field, or nil.
func (r Record) Get(field string) any {
	if r.Data == nil {
		return nil
	}
	return r.Data[field]
}

// String returns a data field when it holds a string.
func (r Record) String(field string) string {
	value, _ := r.Get(field).(string)
	return value
}

// Clone copies the record with a fresh top-level data map.
func (r Record) Clone() Record {
	out := r
	out.Data = make(map[string]any, len(r.Data))
	for key, value := range r.Data {
		out.Data[key] = value
	}
	return out
}

// MarshalJSON flattens the record the way the REST API returns documents.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Data)+3)
	for key, value := range r.Data {
		flat[key] = value
	}
	flat["id"] = r.ID
	if !r.CreatedAt.IsZero() {
		flat["createdAt"] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !r.UpdatedAt.IsZero() {
		flat["updatedAt"] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(flat)
}

type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpLike     Operator = "like"
)

// Condition filters records on a single field. Contains matches array
// fields holding Value; Like is a case-insensitive substring match.
type Condition struct {
	Field string
	Op    Operator
	Value any
}

type Query struct {
	Where  []Condition
	Sort   string // "field" ascending, "-field" descending
	Limit  int
	Offset int
}

// RecordStore is the persistence contract the rest of the backend consumes.
type RecordStore interface {
	Find(ctx context.Context, collection string, id int64) (Record, error)
	Query(ctx context.Context, collection string, q Query) ([]Record, error)
	Count(ctx context.Context, collection string, q Query) (int, error)
	Create(ctx context.Context, collection string, data map[string]any) (Record, error)
	Update(ctx context.Context, collection string, id int64, fields map[string]any) (Record, error)
	Delete(ctx context.Context, collection string, id int64) error
	Ping(ctx context.Context) error
}

func validateQuery(q Query) error {
	for _, cond := range q.Where {
		if !fieldPattern.MatchString(cond.Field) {
			return fmt.Errorf("%w: %q", ErrInvalidField, cond.Field)
		}
		switch cond.Op {
		case OpEquals, OpContains, OpLike:
		default:
			return fmt.Errorf("%w: unsupported operator %q on %q", ErrInvalidField, cond.Op, cond.Field)
		}
	}
	if field := strings.TrimPrefix(q.Sort, "-"); field != "" && !fieldPattern.MatchString(field) {
		return fmt.Errorf("%w: sort %q", ErrInvalidField, q.Sort)
	}
	return nil
}

func encodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode record data: %w", err)
	}
	return raw, nil
}

func decodeData(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode record data: %w", err)
	}
	return data, nil
}

// merge applies a shallow patch. Keys set to nil are removed.
func merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range patch {
		if value == nil {
			delete(out, key)
			continue
		}
		out[key] = value
	}
	return out
}

// scalarText renders a condition value the way JSON text extraction does.
func scalarText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// containsValue coerces numeric strings so a query-string id matches the
// integer ids stored in relationship arrays.
func containsValue(value any) any {
	if s, ok := value.(string); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n
		}
	}
	return value
}
