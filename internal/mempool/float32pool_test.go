package mempool

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{-1, 1024},
		{0, 1024},
		{1, 1024},
		{1024, 1024},
		{1025, 2048},
		{2048, 2048},
		{10000, 10240},
		// 416x416x3 network input
		{519168, 519168},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n_%d", tt.input), func(t *testing.T) {
			assert.Equal(t, tt.expected, sizeClass(tt.input))
		})
	}
}

func TestGetFloat32(t *testing.T) {
	for _, n := range []int{0, 100, 1024, 5000} {
		buf := GetFloat32(n)
		assert.Len(t, buf, n)
		assert.GreaterOrEqual(t, cap(buf), sizeClass(n))
		PutFloat32(buf)
	}
}

func TestPut_NilAndEmpty(t *testing.T) {
	assert.NotPanics(t, func() {
		PutFloat32(nil)
		PutFloat32([]float32{})
		PutBytes(nil)
		PutBool(nil)
	})
}

func TestGetZeroedBytes_ClearsReusedBuffers(t *testing.T) {
	buf := GetZeroedBytes(3000)
	for i := range buf {
		buf[i] = 0xff
	}
	PutBytes(buf)

	again := GetZeroedBytes(3000)
	require.Len(t, again, 3000)
	for _, b := range again {
		require.Zero(t, b)
	}
	PutBytes(again)
}

func TestGetBool_ClearsReusedBuffers(t *testing.T) {
	buf := GetBool(50)
	for i := range buf {
		buf[i] = true
	}
	PutBool(buf)

	again := GetBool(50)
	for _, v := range again {
		require.False(t, v)
	}
	PutBool(again)
}

func TestConcurrentAccess(t *testing.T) {
	const workers = 32
	const iterations = 100

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range iterations {
				n := 1000 + (w*iterations+i)%4000
				f := GetFloat32(n)
				b := GetZeroedBytes(n)
				assert.Len(t, f, n)
				assert.Len(t, b, n)
				for k := range f {
					f[k] = float32(k)
				}
				PutFloat32(f)
				PutBytes(b)
			}
		}()
	}
	wg.Wait()
}
