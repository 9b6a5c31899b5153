package mempool

import (
	"sync"
)

// Sized pools for the hot-path buffers of a detection call: float32 input
// tensors, byte pixel canvases and bool suppression masks.

var (
	float32Pools sync.Map // key: size class (int), value: *sync.Pool
	bytePools    sync.Map
	boolPools    sync.Map
)

const classStep = 1024

// sizeClass rounds n up to the next multiple of 1024 (minimum 1024).
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

func poolFor[T any](pools *sync.Map, cls int) *sync.Pool {
	pAny, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]T, cls) }})
	p, _ := pAny.(*sync.Pool)
	return p
}

func get[T any](pools *sync.Map, n int) []T {
	cls := sizeClass(n)
	p := poolFor[T](pools, cls)
	if p == nil {
		return make([]T, cls)[:n]
	}
	buf, ok := p.Get().([]T)
	if !ok || cap(buf) < cls {
		buf = make([]T, cls)
	}
	return buf[:n]
}

func put[T any](pools *sync.Map, buf []T) {
	if buf == nil {
		return
	}
	p := poolFor[T](pools, sizeClass(cap(buf)))
	if p == nil {
		return
	}
	p.Put(buf[:cap(buf)]) //nolint:staticcheck
}

// GetFloat32 retrieves a []float32 buffer of length n. Contents are not
// zeroed. The caller must return it via PutFloat32 when done.
func GetFloat32(n int) []float32 { return get[float32](&float32Pools, n) }

// PutFloat32 returns a buffer to the pool. It is safe to pass a nil slice.
func PutFloat32(buf []float32) { put(&float32Pools, buf) }

// GetZeroedBytes retrieves a zero-filled []byte buffer of length n.
func GetZeroedBytes(n int) []byte {
	buf := get[byte](&bytePools, n)
	clear(buf)
	return buf
}

// PutBytes returns a byte buffer to the pool. It is safe to pass a nil slice.
func PutBytes(buf []byte) { put(&bytePools, buf) }

// GetBool retrieves a zeroed []bool buffer of length n.
func GetBool(n int) []bool {
	buf := get[bool](&boolPools, n)
	clear(buf)
	return buf
}

// PutBool returns a buffer to the pool. It is safe to pass a nil slice.
func PutBool(buf []bool) { put(&boolPools, buf) }
