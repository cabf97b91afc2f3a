package relsync

// Delta is the pair of disjoint identifier sets a relationship edit implies.
type Delta struct {
	ToAdd    []int64
	ToRemove []int64
}

func (d Delta) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// Diff compares two identifier sequences with set semantics. Output order
// follows first appearance in next (adds) and previous (removes).
func Diff(previous, next []int64) Delta {
	before := toSet(previous)
	after := toSet(next)

	delta := Delta{ToAdd: []int64{}, ToRemove: []int64{}}
	for _, id := range Unique(next) {
		if _, ok := before[id]; !ok {
			delta.ToAdd = append(delta.ToAdd, id)
		}
	}
	for _, id := range Unique(previous) {
		if _, ok := after[id]; !ok {
			delta.ToRemove = append(delta.ToRemove, id)
		}
	}
	return delta
}

// Unique drops repeated identifiers, keeping the first occurrence.
func Unique(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SameSet reports whether a and b hold the same identifiers, ignoring order
// and duplicates.
func SameSet(a, b []int64) bool {
	left := toSet(a)
	right := toSet(b)
	if len(left) != len(right) {
		return false
	}
	for id := range left {
		if _, ok := right[id]; !ok {
			return false
		}
	}
	return true
}

func withID(ids []int64, id int64) []int64 {
	out := Unique(ids)
	for _, existing := range out {
		if existing == id {
			return out
		}
	}
	return append(out, id)
}

func withoutID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, existing := range Unique(ids) {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
