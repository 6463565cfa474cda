package memory

import "sort"

// layer buffers writes over a committed map until the transaction ends.
type layer[K comparable, V any] struct {
	base    map[K]V
	writes  map[K]V
	deletes map[K]struct{}
}

func newLayer[K comparable, V any](base map[K]V) *layer[K, V] {
	return &layer[K, V]{base: base, writes: map[K]V{}, deletes: map[K]struct{}{}}
}

func (l *layer[K, V]) get(k K) (V, bool) {
	if v, ok := l.writes[k]; ok {
		return v, true
	}
	if _, gone := l.deletes[k]; gone {
		var zero V
		return zero, false
	}
	v, ok := l.base[k]
	return v, ok
}

func (l *layer[K, V]) put(k K, v V) {
	delete(l.deletes, k)
	l.writes[k] = v
}

func (l *layer[K, V]) del(k K) {
	delete(l.writes, k)
	l.deletes[k] = struct{}{}
}

// values returns the merged view ordered by less.
func (l *layer[K, V]) values(less func(a, b V) bool) []V {
	out := make([]V, 0, len(l.base)+len(l.writes))
	for k, v := range l.base {
		if _, ok := l.writes[k]; ok {
			continue
		}
		if _, gone := l.deletes[k]; gone {
			continue
		}
		out = append(out, v)
	}
	for _, v := range l.writes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (l *layer[K, V]) commit() {
	for k := range l.deletes {
		delete(l.base, k)
	}
	for k, v := range l.writes {
		l.base[k] = v
	}
}
