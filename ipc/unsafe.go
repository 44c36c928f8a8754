package ipc

import "unsafe"

// ptrOf returns a pointer to the first byte of a mapped region, for
// reinterpreting it as the *uint64 backing an Endpoint's pending mask.
// The memfd regions backing it are always allocated in 8-byte
// multiples (region.Create rounds nothing - callers always pass 8),
// and mmap returns page-aligned addresses, so the alignment atomic
// operations require is guaranteed.
func ptrOf(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}
