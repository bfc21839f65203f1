// Package internal holds tiny generic helpers shared by the data structures
// in lib/ds.
package internal

// Zero returns the zero value of T.
func Zero[T any]() T {
	var v T
	return v
}
