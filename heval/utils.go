package heval

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// sortedKeys returns the keys of a map in ascending order.
func sortedKeys[K constraints.Ordered, V any](m map[K]V) (keys []K) {
	keys = make([]K, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	return
}
