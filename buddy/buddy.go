// Package buddy implements the binary-buddy allocator: power-of-two
// block sizes managed by an implicit perfect binary tree packed into a
// bit-vector, one bit per node, with recursive split-on-demand and
// pairwise coalesce-on-release.
package buddy

import (
	"unsafe"

	"github.com/prataprc/gomalloc/errors"
	"github.com/prataprc/gomalloc/lib"
	"github.com/prataprc/gomalloc/log"
)

// Allocator manages one region with the binary-buddy strategy. Not safe
// for concurrent use.
type Allocator struct {
	region         []byte
	maxOrder       int
	basicBlockSize int64
	numNodes       int64
	bits           []byte // one bit per tree node
	log            log.Logger
	allocated      int64
}

// Init configures an Allocator of MAX_ORDER maxOrder and BASIC_BLOCK_SIZE
// basicBlockSize over region. basicBlockSize must be a power of two.
// Fails with errors.ErrBadInit when the region is smaller than the
// tree's total coverage; a region larger than the tree's coverage is
// accepted with the surplus left unmanaged, logged as a warning.
func Init(region []byte, maxOrder int, basicBlockSize int64, logger log.Logger) (*Allocator, error) {
	if maxOrder < 0 || basicBlockSize <= 0 || basicBlockSize&(basicBlockSize-1) != 0 {
		return nil, errors.ErrBadInit
	}
	maxBlockSize := basicBlockSize << uint(maxOrder)
	if int64(len(region)) < maxBlockSize {
		return nil, errors.ErrBadInit
	}
	if logger == nil {
		logger = log.SetLogger(nil, map[string]interface{}{"log.level": "info", "log.file": ""})
	}
	if int64(len(region)) > maxBlockSize {
		logger.Warnf("buddy: region of %d bytes exceeds tree coverage of %d bytes, surplus unmanaged\n",
			len(region), maxBlockSize)
		region = region[:maxBlockSize]
	}

	numNodes := (int64(1) << uint(maxOrder+1)) - 1
	a := &Allocator{
		region:         region,
		maxOrder:       maxOrder,
		basicBlockSize: basicBlockSize,
		numNodes:       numNodes,
		bits:           make([]byte, lib.Ceil(numNodes, 8)),
		log:            logger,
	}
	a.setBit(0) // root starts FREE
	return a, nil
}

// InitFromSettings reads "maxorder" and "basicblocksize" from a
// lib.Settings map before delegating to Init, for callers that
// assemble configuration dynamically rather than at compile time.
func InitFromSettings(region []byte, settings lib.Settings, logger log.Logger) (*Allocator, error) {
	maxOrder := int(settings.Int64default("maxorder", -1))
	basicBlockSize := settings.Int64default("basicblocksize", 0)
	if maxOrder < 0 || basicBlockSize <= 0 {
		return nil, errors.ErrBadInit
	}
	return Init(region, maxOrder, basicBlockSize, logger)
}

// Allocate implements api.Allocator.
func (a *Allocator) Allocate(size int64) unsafe.Pointer {
	if size <= 0 {
		return nil
	}
	order := a.requiredOrder(size)
	if order > a.maxOrder {
		a.log.Debugf("buddy: %v: %d bytes exceeds MAX_ORDER\n", errors.ErrInsufficient, size)
		return nil
	}
	idx, ok := a.findFree(order)
	if !ok {
		a.log.Debugf("buddy: %v: no free block of order %d\n", errors.ErrInsufficient, order)
		return nil
	}
	a.markAllocated(idx)
	a.allocated += a.blockSize(idx)
	return unsafe.Pointer(&a.region[a.blockOffset(idx)])
}

// Free implements api.Allocator.
func (a *Allocator) Free(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return true
	}
	off, ok := a.pointerOffset(ptr)
	if !ok {
		a.log.Errorf("buddy: %v: pointer outside managed region\n", errors.ErrBadPointer)
		return false
	}
	idx, ok := a.locate(off)
	if !ok {
		a.log.Errorf("buddy: %v: pointer does not match an allocated block\n", errors.ErrBadPointer)
		return false
	}
	a.allocated -= a.blockSize(idx)
	a.markFree(idx)
	a.coalesce(idx)
	return true
}

// Info implements api.Allocator. The bit-vector is the strategy's entire
// bookkeeping overhead; it lives outside the region.
func (a *Allocator) Info() (capacity, allocated, overhead int64) {
	return int64(len(a.region)), a.allocated, int64(len(a.bits))
}

//---- order/depth/index arithmetic, exported since callers reason about
//---- block sizing independently of any particular Allocator instance.

// OrderToSize returns the size in bytes of a block of the given order.
func OrderToSize(basicBlockSize int64, order int) int64 {
	return basicBlockSize << uint(order)
}

// SizeToOrder returns the smallest order whose block can hold size
// bytes, and whether that order exists at all (size positive).
func SizeToOrder(basicBlockSize, size int64) (order int, ok bool) {
	if size <= 0 {
		return 0, false
	}
	blocks := lib.Ceil(size, basicBlockSize)
	if blocks <= 1 {
		return 0, true
	}
	k, cap := 0, int64(1)
	for cap < blocks {
		cap <<= 1
		k++
	}
	return k, true
}

// OrderToDepth converts a block order to its tree depth given the
// tree's MAX_ORDER.
func OrderToDepth(maxOrder, order int) int {
	return maxOrder - order
}

// DepthToOrder converts a tree depth back to a block order given the
// tree's MAX_ORDER.
func DepthToOrder(maxOrder, depth int) int {
	return maxOrder - depth
}

// IndexToDepth returns the depth of node index i, root at depth 0.
func IndexToDepth(i int64) int {
	depth := 0
	for (int64(1)<<uint(depth+1))-1 <= i {
		depth++
	}
	return depth
}

// Buddy returns the sibling index of a non-root node. Buddy(0) returns
// -1: the root has no sibling.
func Buddy(i int64) int64 {
	if i == 0 {
		return -1
	}
	if i%2 == 1 {
		return i + 1
	}
	return i - 1
}

func left(i int64) int64   { return 2*i + 1 }
func right(i int64) int64  { return 2*i + 2 }
func parent(i int64) int64 { return (i - 1) / 2 }

//---- local functions

func (a *Allocator) isLeaf(i int64) bool {
	return IndexToDepth(i) == a.maxOrder
}

func (a *Allocator) requiredOrder(size int64) int {
	order, _ := SizeToOrder(a.basicBlockSize, size)
	return order
}

func (a *Allocator) blockSize(i int64) int64 {
	order := DepthToOrder(a.maxOrder, IndexToDepth(i))
	return OrderToSize(a.basicBlockSize, order)
}

func (a *Allocator) blockOffset(i int64) int64 {
	depth := IndexToDepth(i)
	start := (int64(1) << uint(depth)) - 1
	return (i - start) * a.blockSize(i)
}

func (a *Allocator) getBit(i int64) bool {
	return a.bits[i>>3]&(1<<uint(i&7)) != 0
}

func (a *Allocator) setBit(i int64) {
	a.bits[i>>3] = lib.Bit8(a.bits[i>>3]).Setbit(uint8(i & 7))
}

func (a *Allocator) clearBit(i int64) {
	a.bits[i>>3] = lib.Bit8(a.bits[i>>3]).Clearbit(uint8(i & 7))
}

// nodeIsAllocated distinguishes ALLOCATED from SPLIT for a node whose
// own bit is clear, per the encoding table: a leaf is ALLOCATED whenever
// its bit is clear; an internal node is ALLOCATED only when both
// children are set, otherwise it is SPLIT.
func (a *Allocator) nodeIsAllocated(i int64) bool {
	if a.getBit(i) {
		return false
	}
	if a.isLeaf(i) {
		return true
	}
	return a.getBit(left(i)) && a.getBit(right(i))
}

// hasAllocatedAncestor reports whether any ancestor of i is ALLOCATED.
// A node's own bit can read as "free" purely as a side effect of an
// ancestor's ALLOCATED encoding (allocating an internal node sets both
// child bits); such nodes are not real allocation candidates.
func (a *Allocator) hasAllocatedAncestor(i int64) bool {
	for i != 0 {
		i = parent(i)
		if a.nodeIsAllocated(i) {
			return true
		}
	}
	return false
}

// findFree returns the index of a genuinely free block of the given
// order, splitting a larger free block when none exists at this order.
// Search prefers the lowest index at the target order.
func (a *Allocator) findFree(order int) (int64, bool) {
	depth := OrderToDepth(a.maxOrder, order)
	start := (int64(1) << uint(depth)) - 1
	count := int64(1) << uint(depth)
	for i := start; i < start+count; i++ {
		if a.getBit(i) && !a.hasAllocatedAncestor(i) {
			return i, true
		}
	}
	if order+1 > a.maxOrder {
		return -1, false
	}
	parentBlock, ok := a.findFree(order + 1)
	if !ok {
		return -1, false
	}
	a.split(parentBlock)
	return left(parentBlock), true
}

func (a *Allocator) split(i int64) {
	a.clearBit(i)
	a.setBit(left(i))
	a.setBit(right(i))
}

func (a *Allocator) markAllocated(i int64) {
	a.clearBit(i)
	if !a.isLeaf(i) {
		a.setBit(left(i))
		a.setBit(right(i))
	}
}

func (a *Allocator) markFree(i int64) {
	a.setBit(i)
	if !a.isLeaf(i) {
		a.clearBit(left(i))
		a.clearBit(right(i))
	}
}

func (a *Allocator) coalesce(i int64) {
	for i != 0 {
		b := Buddy(i)
		if !a.getBit(b) {
			return
		}
		p := parent(i)
		a.clearBit(i)
		a.clearBit(b)
		a.setBit(p)
		i = p
	}
}

func (a *Allocator) pointerOffset(ptr unsafe.Pointer) (int64, bool) {
	base := uintptr(unsafe.Pointer(&a.region[0]))
	p := uintptr(ptr)
	if p < base {
		return 0, false
	}
	off := int64(p - base)
	if off >= int64(len(a.region)) {
		return 0, false
	}
	return off, true
}

// locate descends the tree from the root comparing off against each
// candidate's right-child boundary, halting at the first ALLOCATED node.
func (a *Allocator) locate(off int64) (int64, bool) {
	i := int64(0)
	nodeOffset := int64(0)
	size := a.blockSize(0)
	for {
		if a.nodeIsAllocated(i) {
			return i, true
		}
		if a.isLeaf(i) {
			return -1, false
		}
		half := size / 2
		mid := nodeOffset + half
		if off < mid {
			i = left(i)
		} else {
			i = right(i)
			nodeOffset = mid
		}
		size = half
	}
}
