// Package relsync keeps two inverse relationship fields consistent across
// collections: identifier normalization, set diffs, the update-time sync
// batch, read-time projection of derived fields, and drift repair.
package relsync

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// NormalizeIDs coerces a relationship payload into canonical identifiers.
// Only arrays are accepted. Elements may be integers, integral floats,
// numeric strings, or objects carrying an "id"; anything else is dropped.
// Order is preserved and duplicates are kept.
func NormalizeIDs(value any) []int64 {
	if value == nil {
		return []int64{}
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []int64{}
	}
	// []byte is a string payload, not a list
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return []int64{}
	}

	out := make([]int64, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		if id, ok := elementID(rv.Index(i).Interface(), true); ok {
			out = append(out, id)
		}
	}
	return out
}

func elementID(value any, allowObject bool) (int64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case map[string]any:
		if !allowObject {
			return 0, false
		}
		return elementID(v["id"], false)
	case string:
		return parseID(v)
	case json.Number:
		return parseID(v.String())
	case float64:
		return floatID(v)
	case float32:
		return floatID(float64(v))
	case bool:
		return 0, false
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt64 {
			return 0, false
		}
		return int64(rv.Uint()), true
	case reflect.Map:
		if !allowObject || rv.Type().Key().Kind() != reflect.String {
			return 0, false
		}
		id := rv.MapIndex(reflect.ValueOf("id"))
		if !id.IsValid() {
			return 0, false
		}
		return elementID(id.Interface(), false)
	}
	return 0, false
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func floatID(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
