package shm

import (
	"sync/atomic"
	"unsafe"
)

// Atomic accessors over the mapped region. All 8-byte fields in the layout
// are 8-byte aligned (header offsets and slot strides are multiples of 64),
// which the sync/atomic package requires.

func loadUint64(b []byte, off int) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&b[off])))
}

func storeUint64(b []byte, off int, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&b[off])), v)
}
