// Package freelist implements a general purpose, variable-size allocator
// over a caller-supplied byte region. Free space is tracked with an
// address-ordered doubly linked list of inline headers; allocation is
// first-fit with tail-carving, release coalesces with both neighbours.
package freelist

import (
	"unsafe"

	"github.com/prataprc/gomalloc/align"
	"github.com/prataprc/gomalloc/errors"
	"github.com/prataprc/gomalloc/lib"
	"github.com/prataprc/gomalloc/log"
)

// magic tags, four ASCII tetragrams read as 32-bit words. USED and FREE
// mark a header's state; sentinelA/sentinelB overwrite the free-list
// prev/next fields of a USED header and are checked back on Free as a
// cheap integrity canary. Not a security boundary.
const (
	magicFree = uint32(0x45455246) // "FREE"
	magicUsed = uint32(0x44455355) // "USED"
	sentinelA = int64(0x45524946)  // "FIRE"
	sentinelB = int64(0x464c4f57)  // "WOLF"
)

const nilOffset = int64(-1)

// header sits at the start of every block, allocated and free alike.
// Field order is part of the contract: prev, next, size, magic.
type header struct {
	prev  int64
	next  int64
	size  int64
	magic uint32
}

var headerSize = int64(unsafe.Sizeof(header{}))

// Allocator manages one region with the free-list strategy. Not safe for
// concurrent use; the caller serializes calls.
type Allocator struct {
	region  []byte
	limit   int64
	aligner align.Aligner
	log     log.Logger

	head      int64 // offset of the first free header, nilOffset if none
	allocated int64 // live bytes handed to callers, header excluded
	numused   int64 // count of live blocks, for overhead accounting
}

// Init configures an Allocator over region. aligner defaults to
// align.Identity when nil. Fails with errors.ErrBadInit when the region
// is not larger than a single header, or when the aligner does not satisfy
// aligner(sizeof(header)) == sizeof(header).
func Init(region []byte, aligner align.Aligner, logger log.Logger) (*Allocator, error) {
	if aligner == nil {
		aligner = align.Identity
	}
	if aligner(headerSize) != headerSize {
		return nil, errors.ErrBadInit
	}
	if int64(len(region)) <= headerSize {
		return nil, errors.ErrBadInit
	}
	if logger == nil {
		logger = log.SetLogger(nil, map[string]interface{}{"log.level": "info", "log.file": ""})
	}

	a := &Allocator{
		region:  region,
		limit:   int64(len(region)),
		aligner: aligner,
		log:     logger,
		head:    0,
	}
	h := a.headerAt(0)
	h.size = a.limit - headerSize
	h.magic = magicFree
	h.prev, h.next = nilOffset, nilOffset
	return a, nil
}

// InitFromSettings builds the Aligner from a lib.Settings map before
// delegating to Init, for callers that assemble configuration
// dynamically rather than at compile time. Recognized keys: "aligner"
// ("identity", "constant" or "pow2", default "identity") and
// "aligner.constant" (int64, default 8, used only when aligner is
// "constant").
func InitFromSettings(region []byte, settings lib.Settings, logger log.Logger) (*Allocator, error) {
	return Init(region, alignerFromSettings(settings), logger)
}

func alignerFromSettings(settings lib.Settings) align.Aligner {
	switch settings.Stringdefault("aligner", "identity") {
	case "constant":
		return align.Constant(settings.Int64default("aligner.constant", 8))
	case "pow2":
		return align.PowerOfTwo
	default:
		return align.Identity
	}
}

// Allocate implements api.Allocator.
func (a *Allocator) Allocate(size int64) unsafe.Pointer {
	if size <= 0 {
		return nil
	}
	aligned := a.aligner(size)

	off := a.head
	for off != nilOffset {
		h := a.headerAt(off)
		if h.size >= aligned {
			return a.reserve(off, aligned)
		}
		off = h.next
	}
	a.log.Debugf("freelist: %v: no free block holds %d bytes\n", errors.ErrInsufficient, aligned)
	return nil
}

// reserve implements get_free_block followed by mark_used: unlink the
// candidate, carve a free tail when it is worth a header, stamp the
// remainder USED.
func (a *Allocator) reserve(off, aligned int64) unsafe.Pointer {
	h := a.headerAt(off)
	remaining := h.size - aligned
	a.unlink(off)

	if remaining > headerSize {
		tailOff := off + headerSize + aligned
		tail := a.headerAt(tailOff)
		tail.size = remaining - headerSize
		tail.magic = magicFree
		tail.prev, tail.next = nilOffset, nilOffset
		a.insertSorted(tailOff)
		h.size = aligned
	}

	h.magic = magicUsed
	h.prev = sentinelA
	h.next = sentinelB
	a.allocated += h.size
	a.numused++
	return a.payload(off)
}

// Free implements api.Allocator.
func (a *Allocator) Free(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return true
	}
	off, ok := a.pointerToOffset(ptr)
	if !ok {
		a.log.Errorf("freelist: %v: pointer outside managed region\n", errors.ErrBadPointer)
		return false
	}
	h := a.headerAt(off)
	if h.magic == magicFree {
		a.log.Errorf("freelist: %v: pointer already free\n", errors.ErrBadPointer)
		return false
	}
	if h.magic != magicUsed || h.prev != sentinelA || h.next != sentinelB {
		a.log.Errorf("freelist: %v: corrupted header at offset %d\n", errors.ErrBadPointer, off)
		return false
	}

	h.magic = magicFree
	h.prev, h.next = nilOffset, nilOffset
	a.allocated -= h.size
	a.numused--

	a.insertSorted(off)
	off = a.coalesceLeft(off)
	a.coalesceRight(off)
	return true
}

// Info implements api.Allocator. Overhead counts one header per live
// block; free-list headers are not overhead, they are the free space's
// own bookkeeping and are already excluded from `allocated`.
func (a *Allocator) Info() (capacity, allocated, overhead int64) {
	return a.limit, a.allocated, a.numused * headerSize
}

// Walk visits every block in address order, free or used, calling fn
// with the block's payload offset, its size and whether it is free.
// A debugging aid, not part of the allocation hot path.
func (a *Allocator) Walk(fn func(offset, size int64, free bool)) {
	off := int64(0)
	for off < a.limit {
		h := a.headerAt(off)
		fn(off+headerSize, h.size, h.magic == magicFree)
		off += headerSize + h.size
	}
}

//---- local functions

func (a *Allocator) headerAt(off int64) *header {
	return (*header)(unsafe.Pointer(&a.region[off]))
}

func (a *Allocator) payload(off int64) unsafe.Pointer {
	return unsafe.Pointer(&a.region[off+headerSize])
}

func (a *Allocator) pointerToOffset(ptr unsafe.Pointer) (int64, bool) {
	base := uintptr(unsafe.Pointer(&a.region[0]))
	p := uintptr(ptr)
	if p < base {
		return 0, false
	}
	off := int64(p-base) - headerSize
	if off < 0 || off >= a.limit {
		return 0, false
	}
	return off, true
}

// unlink removes the free header at off from the free list.
func (a *Allocator) unlink(off int64) {
	h := a.headerAt(off)
	prev, next := h.prev, h.next
	if prev != nilOffset {
		a.headerAt(prev).next = next
	} else {
		a.head = next
	}
	if next != nilOffset {
		a.headerAt(next).prev = prev
	}
}

// insertSorted inserts the free header at off into the list keeping
// ascending address order.
func (a *Allocator) insertSorted(off int64) {
	h := a.headerAt(off)
	if a.head == nilOffset || off < a.head {
		h.prev, h.next = nilOffset, a.head
		if a.head != nilOffset {
			a.headerAt(a.head).prev = off
		}
		a.head = off
		return
	}
	cur := a.head
	for {
		curH := a.headerAt(cur)
		if curH.next == nilOffset || off < curH.next {
			h.prev, h.next = cur, curH.next
			if curH.next != nilOffset {
				a.headerAt(curH.next).prev = off
			}
			curH.next = off
			return
		}
		cur = curH.next
	}
}

// coalesceLeft merges off into its immediate address-order predecessor
// in the free list when the two are physically adjacent, returning the
// offset that now represents the merged block.
func (a *Allocator) coalesceLeft(off int64) int64 {
	h := a.headerAt(off)
	leftOff := h.prev
	if leftOff == nilOffset {
		return off
	}
	left := a.headerAt(leftOff)
	if leftOff+headerSize+left.size != off {
		return off
	}
	a.unlink(off)
	left.size += headerSize + h.size
	return leftOff
}

// coalesceRight merges the block immediately following off into off
// when that neighbour is free.
func (a *Allocator) coalesceRight(off int64) {
	h := a.headerAt(off)
	rightOff := off + headerSize + h.size
	if rightOff >= a.limit {
		return
	}
	right := a.headerAt(rightOff)
	if right.magic != magicFree {
		return
	}
	a.unlink(rightOff)
	h.size += headerSize + right.size
}
