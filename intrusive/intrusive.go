// Package intrusive implements the fixed-size intrusive-list pool: the
// same equal-slot shape as bitmap, but free slots are threaded into a
// doubly linked list using their own bytes as prev/next storage. Both
// allocate and free are O(1); no integrity check is possible since a
// double-free simply corrupts the list. The backward links are not on
// the allocate/free hot path (which only ever touches head and tail) but
// let Walk retrace the free list from the tail.
package intrusive

import (
	"unsafe"

	"github.com/prataprc/gomalloc/errors"
	"github.com/prataprc/gomalloc/lib"
	"github.com/prataprc/gomalloc/log"
)

const nilOffset = int64(-1)

var pointerWidth = int64(unsafe.Sizeof(int64(0)))

// Allocator manages one region sliced into equal slots, free ones
// linked head-to-tail through their own bytes. Not safe for concurrent
// use. A double-free is undefined behaviour: nothing detects it.
type Allocator struct {
	region   []byte
	slotSize int64
	numSlots int64
	head     int64
	tail     int64
	log      log.Logger

	allocated int64
}

// Init configures an Allocator of numSlots slots, each slotSize bytes,
// over region. slotSize must be at least two pointer-widths to hold the
// in-place prev/next fields. Every slot starts on the free list, in
// address order.
func Init(region []byte, slotSize, numSlots int64, logger log.Logger) (*Allocator, error) {
	if slotSize < 2*pointerWidth || numSlots <= 0 {
		return nil, errors.ErrBadInit
	}
	need := slotSize * numSlots
	if int64(len(region)) < need {
		return nil, errors.ErrBadInit
	}
	if logger == nil {
		logger = log.SetLogger(nil, map[string]interface{}{"log.level": "info", "log.file": ""})
	}
	if int64(len(region)) > need {
		logger.Warnf("intrusive: region of %d bytes exceeds %d slots of %d bytes, surplus unmanaged\n",
			len(region), numSlots, slotSize)
		region = region[:need]
	}

	a := &Allocator{
		region:   region,
		slotSize: slotSize,
		numSlots: numSlots,
		head:     0,
		tail:     (numSlots - 1) * slotSize,
		log:      logger,
	}
	for i := int64(0); i < numSlots; i++ {
		off := i * slotSize
		next, prev := nilOffset, nilOffset
		if i+1 < numSlots {
			next = off + slotSize
		}
		if i > 0 {
			prev = off - slotSize
		}
		a.setNext(off, next)
		a.setPrev(off, prev)
	}
	return a, nil
}

// InitFromSettings reads "resourcesize" and "nslots" from a lib.Settings
// map before delegating to Init, for callers that assemble
// configuration dynamically rather than at compile time.
func InitFromSettings(region []byte, settings lib.Settings, logger log.Logger) (*Allocator, error) {
	slotSize := settings.Int64default("resourcesize", 0)
	numSlots := settings.Int64default("nslots", 0)
	if slotSize <= 0 || numSlots <= 0 {
		return nil, errors.ErrBadInit
	}
	return Init(region, slotSize, numSlots, logger)
}

// Allocate implements api.Allocator. size must equal the pool's slot
// size; any other request, including zero, fails.
func (a *Allocator) Allocate(size int64) unsafe.Pointer {
	if size != a.slotSize {
		return nil
	}
	return a.AllocateSlot()
}

// AllocateSlot dequeues the head of the free list, the fixed-size
// convenience entry point that takes no size argument.
func (a *Allocator) AllocateSlot() unsafe.Pointer {
	if a.head == nilOffset {
		a.log.Debugf("intrusive: %v: pool exhausted\n", errors.ErrInsufficient)
		return nil
	}
	off := a.head
	a.head = a.nextOf(off)
	if a.head != nilOffset {
		a.setPrev(a.head, nilOffset)
	} else {
		a.tail = nilOffset
	}
	a.allocated += a.slotSize
	return unsafe.Pointer(&a.region[off])
}

// Free implements api.Allocator. Enqueues the slot at the tail; a
// pointer outside the pool or misaligned to a slot boundary is
// rejected, but a pointer to a slot already on the free list is not
// detected and will corrupt the list.
func (a *Allocator) Free(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return true
	}
	off, ok := a.slotOffset(ptr)
	if !ok {
		a.log.Errorf("intrusive: %v: pointer outside managed region or misaligned\n", errors.ErrBadPointer)
		return false
	}
	a.setNext(off, nilOffset)
	a.setPrev(off, a.tail)
	if a.tail != nilOffset {
		a.setNext(a.tail, off)
	} else {
		a.head = off
	}
	a.tail = off
	a.allocated -= a.slotSize
	return true
}

// Info implements api.Allocator. The free list lives entirely inside
// the slot bytes, so there is no out-of-band bookkeeping overhead.
func (a *Allocator) Info() (capacity, allocated, overhead int64) {
	return int64(len(a.region)), a.allocated, 0
}

// Walk retraces the free list from tail to head via the backward links,
// calling fn with each free slot's offset. A debugging aid, not part of
// the allocation hot path, which never needs backward traversal.
func (a *Allocator) Walk(fn func(offset int64)) {
	for off := a.tail; off != nilOffset; off = a.prevOf(off) {
		fn(off)
	}
}

//---- local functions

func (a *Allocator) nextOf(off int64) int64 {
	return *(*int64)(unsafe.Pointer(&a.region[off]))
}

func (a *Allocator) setNext(off, v int64) {
	*(*int64)(unsafe.Pointer(&a.region[off])) = v
}

func (a *Allocator) prevOf(off int64) int64 {
	return *(*int64)(unsafe.Pointer(&a.region[off+pointerWidth]))
}

func (a *Allocator) setPrev(off, v int64) {
	*(*int64)(unsafe.Pointer(&a.region[off+pointerWidth])) = v
}

func (a *Allocator) slotOffset(ptr unsafe.Pointer) (int64, bool) {
	base := uintptr(unsafe.Pointer(&a.region[0]))
	p := uintptr(ptr)
	if p < base {
		return 0, false
	}
	diff := int64(p - base)
	if diff%a.slotSize != 0 {
		return 0, false
	}
	idx := diff / a.slotSize
	if idx < 0 || idx >= a.numSlots {
		return 0, false
	}
	return diff, true
}
