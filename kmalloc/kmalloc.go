// Package kmalloc is an optional thin facade that installs a single
// api.Allocator instance as the process-wide allocator and exposes it
// through Alloc/Free, package-level functions in the style of a kernel's
// kmalloc/kfree. It is not part of the allocator core: the core stays
// instantiable multiple times with no shared global state, and nothing
// in the strategy packages depends on this package.
package kmalloc

import (
	"sync"
	"unsafe"

	"github.com/prataprc/gomalloc/api"
)

var (
	mu        sync.Mutex
	installed api.Allocator
)

// Install sets a as the process-wide allocator. Passing nil uninstalls
// whatever was there before. Not for use alongside direct, per-instance
// use of a itself from multiple goroutines: like every strategy in this
// module, the installed allocator is single-threaded, so Alloc/Free
// serialize access with a lock rather than pretending to be lock-free.
func Install(a api.Allocator) {
	mu.Lock()
	defer mu.Unlock()
	installed = a
}

// Alloc reserves size bytes from the installed allocator. Returns nil
// when no allocator is installed or the request cannot be satisfied.
func Alloc(size int64) unsafe.Pointer {
	mu.Lock()
	defer mu.Unlock()
	if installed == nil {
		return nil
	}
	return installed.Allocate(size)
}

// Free releases a pointer previously returned by Alloc. Returns false
// when no allocator is installed.
func Free(ptr unsafe.Pointer) bool {
	mu.Lock()
	defer mu.Unlock()
	if installed == nil {
		return false
	}
	return installed.Free(ptr)
}
