//go:build !unix

package memory

// Heap fallback for platforms without mmap. Slices of 8 bytes or more come
// from size classes that are at least 8-byte aligned.
func mapMemory(size int) ([]byte, func([]byte) error, error) {
	return make([]byte, size), nil, nil
}
