// Package bitmap implements the fixed-size bitmap pool: the region is
// divided into N equal slots and a bit-vector tracks which are free.
// Allocation scans for the least-significant set bit (O(n)); release is
// a direct index computation (O(1)).
package bitmap

import (
	"unsafe"

	"github.com/prataprc/gomalloc/errors"
	"github.com/prataprc/gomalloc/lib"
	"github.com/prataprc/gomalloc/log"
)

// Allocator manages one region sliced into equal slots, a set bit
// meaning the corresponding slot is free. Not safe for concurrent use.
type Allocator struct {
	region   []byte
	slotSize int64
	numSlots int64
	bits     []byte
	log      log.Logger

	allocated int64
}

// Init configures an Allocator of numSlots slots, each slotSize bytes,
// over region. The region must be at least numSlots*slotSize bytes;
// surplus is left unmanaged and logged as a warning, not a failure.
func Init(region []byte, slotSize, numSlots int64, logger log.Logger) (*Allocator, error) {
	if slotSize <= 0 || numSlots <= 0 {
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
		logger.Warnf("bitmap: region of %d bytes exceeds %d slots of %d bytes, surplus unmanaged\n",
			len(region), numSlots, slotSize)
		region = region[:need]
	}

	a := &Allocator{
		region:   region,
		slotSize: slotSize,
		numSlots: numSlots,
		bits:     make([]byte, lib.Ceil(numSlots, 8)),
		log:      logger,
	}
	full := numSlots / 8
	for i := int64(0); i < full; i++ {
		a.bits[i] = 0xff
	}
	if rem := numSlots % 8; rem > 0 {
		var b byte
		for i := int64(0); i < rem; i++ {
			b = lib.Bit8(b).Setbit(uint8(i))
		}
		a.bits[full] = b
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
// size; any other request fails, including zero.
func (a *Allocator) Allocate(size int64) unsafe.Pointer {
	if size != a.slotSize {
		return nil
	}
	return a.AllocateSlot()
}

// AllocateSlot is the fixed-size convenience entry point that takes no
// size argument, since every slot is the same size by construction.
func (a *Allocator) AllocateSlot() unsafe.Pointer {
	idx, ok := a.findFree()
	if !ok {
		a.log.Debugf("bitmap: %v: pool exhausted\n", errors.ErrInsufficient)
		return nil
	}
	a.bits[idx>>3] = lib.Bit8(a.bits[idx>>3]).Clearbit(uint8(idx & 7))
	a.allocated += a.slotSize
	return unsafe.Pointer(&a.region[idx*a.slotSize])
}

// Free implements api.Allocator.
func (a *Allocator) Free(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return true
	}
	idx, ok := a.slotIndex(ptr)
	if !ok {
		a.log.Errorf("bitmap: %v: pointer outside managed region or misaligned\n", errors.ErrBadPointer)
		return false
	}
	byteIdx, bit := idx>>3, uint8(idx&7)
	a.bits[byteIdx] = lib.Bit8(a.bits[byteIdx]).Setbit(bit)
	a.allocated -= a.slotSize
	return true
}

// Info implements api.Allocator.
func (a *Allocator) Info() (capacity, allocated, overhead int64) {
	return int64(len(a.region)), a.allocated, int64(len(a.bits))
}

//---- local functions

// findFree scans for the least-significant set bit across the whole
// bit-vector, byte by byte.
func (a *Allocator) findFree() (int64, bool) {
	for i, byt := range a.bits {
		if byt == 0 {
			continue
		}
		n := lib.Bit8(byt).Findfirstset()
		idx := int64(i)*8 + int64(n)
		if idx >= a.numSlots {
			continue
		}
		return idx, true
	}
	return -1, false
}

func (a *Allocator) slotIndex(ptr unsafe.Pointer) (int64, bool) {
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
	return idx, true
}
