package stockpile

import "unsafe"

// addrOf returns the starting address of a byte slice for tracker keys.
func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// ArenaAlloc returns a zeroed *T stored inside the arena, or nil when the
// arena is exhausted. The pointer is valid until the arena is reset or
// restored past it.
func ArenaAlloc[T any](a *ArenaAllocator) *T {
	var zero T
	b := a.AllocBytes(int(unsafe.Sizeof(zero)), int(unsafe.Alignof(zero)))
	if b == nil {
		return nil
	}
	clear(b)
	return (*T)(unsafe.Pointer(&b[0]))
}

// ArenaAllocSlice allocates a zeroed slice of n elements of type T inside
// the arena. Returns nil when n <= 0 or the arena is exhausted.
func ArenaAllocSlice[T any](a *ArenaAllocator, n int) []T {
	if n <= 0 {
		return nil
	}
	var zero T
	b := a.AllocBytes(n*int(unsafe.Sizeof(zero)), int(unsafe.Alignof(zero)))
	if b == nil {
		return nil
	}
	clear(b)
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}
