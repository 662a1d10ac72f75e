// Package alloctest exercises the universal invariants shared by every
// allocator strategy against the common api.Allocator interface. The
// concrete seed scenarios live in each strategy package's own tests. It
// is a test helper, not part of the allocator core.
package alloctest

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/prataprc/gomalloc/api"
)

// Factory builds a fresh, initialized api.Allocator over a region of at
// least size bytes, for use by UniversalInvariants against every
// strategy in turn.
type Factory func(t *testing.T, size int64) api.Allocator

// UniversalInvariants runs the properties that must hold for every
// strategy: null-returning edge cases, distinct live pointers, and a
// successful reallocation after a free. reqSize is the allocation size
// exercised throughout; fixed-size strategies require it to equal their
// slot size, so callers wire it consistently with their Factory.
func UniversalInvariants(t *testing.T, name string, reqSize int64, newAllocator Factory) {
	t.Run(name+"/AllocateZeroReturnsNil", func(t *testing.T) {
		a := newAllocator(t, 4096)
		require.Nil(t, a.Allocate(0))
	})

	t.Run(name+"/FreeNilIsNoop", func(t *testing.T) {
		a := newAllocator(t, 4096)
		require.True(t, a.Free(nil))
	})

	t.Run(name+"/NoOverlapAmongLivePointers", func(t *testing.T) {
		a := newAllocator(t, 4096)
		live := make(map[unsafe.Pointer]bool)
		for i := 0; i < 8; i++ {
			p := a.Allocate(reqSize)
			if p == nil {
				continue
			}
			require.False(t, live[p], "allocate returned a pointer already live")
			live[p] = true
		}
	})

	t.Run(name+"/FreeThenReallocateSucceeds", func(t *testing.T) {
		a := newAllocator(t, 4096)
		p := a.Allocate(reqSize)
		require.NotNil(t, p)
		require.True(t, a.Free(p))
		require.NotNil(t, a.Allocate(reqSize))
	})
}
