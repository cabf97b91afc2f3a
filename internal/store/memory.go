package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a RecordStore held in process memory. Data is round-tripped
// through JSON on every write so callers observe the same value shapes the
// SQL store returns.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[string]map[int64]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]map[int64]Record{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Find(_ context.Context, collection string, id int64) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[collection][id]
	if !ok {
		return Record{}, fmt.Errorf("%s %d: %w", collection, id, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Query(_ context.Context, collection string, q Query) ([]Record, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	m.mu.RLock()
	matched := m.filter(collection, q.Where)
	m.mu.RUnlock()

	sortRecords(matched, q.Sort)
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []Record{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (m *MemoryStore) Count(_ context.Context, collection string, q Query) (int, error) {
	if err := validateQuery(q); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filter(collection, q.Where)), nil
}

func (m *MemoryStore) Create(_ context.Context, collection string, data map[string]any) (Record, error) {
	stored, err := roundTrip(data)
	if err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(collection, 0, stored); err != nil {
		return Record{}, fmt.Errorf("create %s: %w", collection, err)
	}
	m.nextID++
	now := m.now()
	rec := Record{ID: m.nextID, Collection: collection, Data: stored, CreatedAt: now, UpdatedAt: now}
	if m.records[collection] == nil {
		m.records[collection] = map[int64]Record{}
	}
	m.records[collection][rec.ID] = rec
	return rec.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, collection string, id int64, fields map[string]any) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[collection][id]
	if !ok {
		return Record{}, fmt.Errorf("%s %d: %w", collection, id, ErrNotFound)
	}
	stored, err := roundTrip(merge(current.Data, fields))
	if err != nil {
		return Record{}, err
	}
	if err := m.checkUnique(collection, id, stored); err != nil {
		return Record{}, fmt.Errorf("update %s %d: %w", collection, id, err)
	}
	current.Data = stored
	current.UpdatedAt = m.now()
	m.records[collection][id] = current
	return current.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, collection string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[collection][id]; !ok {
		return fmt.Errorf("%s %d: %w", collection, id, ErrNotFound)
	}
	delete(m.records[collection], id)
	return nil
}

func (m *MemoryStore) filter(collection string, where []Condition) []Record {
	out := make([]Record, 0)
	for _, rec := range m.records[collection] {
		if matchesAll(rec, where) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

func (m *MemoryStore) checkUnique(collection string, id int64, data map[string]any) error {
	for _, field := range uniqueFields[collection] {
		value, ok := data[field]
		if !ok || value == nil || value == "" {
			continue
		}
		for otherID, other := range m.records[collection] {
			if otherID != id && other.Data[field] == value {
				return fmt.Errorf("%s %q: %w", field, scalarText(value), ErrConflict)
			}
		}
	}
	return nil
}

func roundTrip(data map[string]any) (map[string]any, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	return decodeData(raw)
}

func matchesAll(rec Record, where []Condition) bool {
	for _, cond := range where {
		if !matches(rec, cond) {
			return false
		}
	}
	return true
}

func matches(rec Record, cond Condition) bool {
	actual := fieldValue(rec, cond.Field)
	switch cond.Op {
	case OpEquals:
		if actual == nil {
			return false
		}
		if t, ok := actual.(time.Time); ok {
			return t.Format(time.RFC3339Nano) == scalarText(cond.Value)
		}
		return scalarText(actual) == scalarText(cond.Value)
	case OpContains:
		want := containsValue(cond.Value)
		if items, ok := actual.([]any); ok {
			for _, item := range items {
				if sameValue(item, want) {
					return true
				}
			}
			return false
		}
		return sameValue(actual, want)
	case OpLike:
		text, ok := actual.(string)
		return ok && strings.Contains(strings.ToLower(text), strings.ToLower(scalarText(cond.Value)))
	}
	return false
}

func fieldValue(rec Record, field string) any {
	switch field {
	case "id":
		return float64(rec.ID)
	case "createdAt":
		return rec.CreatedAt
	case "updatedAt":
		return rec.UpdatedAt
	default:
		return rec.Get(field)
	}
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	if af, ok := numeric(a); ok {
		bf, ok := numeric(b)
		return ok && af == bf
	}
	return scalarText(a) == scalarText(b)
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func sortRecords(items []Record, sortSpec string) {
	field := strings.TrimPrefix(sortSpec, "-")
	desc := strings.HasPrefix(sortSpec, "-")
	if field == "" {
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		cmp := compareValues(fieldValue(items[i], field), fieldValue(items[j], field))
		if cmp == 0 {
			cmp = compareValues(float64(items[i].ID), float64(items[j].ID))
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// compareValues orders nil first, then numbers, times, and text.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(scalarText(a), scalarText(b))
}
