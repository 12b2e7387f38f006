package util

import "math/rand"

// PickRandom returns a random element of items, or the zero value when empty.
func PickRandom[T any](items []T) T {
	var zero T
	if len(items) == 0 {
		return zero
	}
	return items[rand.Intn(len(items))]
}
