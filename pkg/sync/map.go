package sync

import "sync"

// TypedSyncMap is a thin generic wrapper around sync.Map which
// removes the need for type assertions at every call site.
type TypedSyncMap[K comparable, V any] struct {
	m sync.Map
}

// LoadOrStore returns the existing value for the key if present. Otherwise,
// it stores and returns the given value. The loaded result is true if the
// value was loaded, false if stored.
func (m *TypedSyncMap[K, V]) LoadOrStore(key K, value V) (V, bool) {
	a, loaded := m.m.LoadOrStore(key, value)
	if av, ok := a.(V); ok {
		return av, loaded
	}

	return *new(V), loaded
}

// CompareAndDelete deletes the entry for key only if it is
// currently mapped to old.
func (m *TypedSyncMap[K, V]) CompareAndDelete(key K, old V) bool {
	return m.m.CompareAndDelete(key, old)
}
