package buddy

import (
	"testing"
	"unsafe"

	"github.com/prataprc/gomalloc/lib"
)

func newTestAllocator(t *testing.T, maxOrder int, basicBlockSize int64) (*Allocator, []byte) {
	region := make([]byte, basicBlockSize<<uint(maxOrder))
	a, err := Init(region, maxOrder, basicBlockSize, nil)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return a, region
}

func offsetOf(t *testing.T, region []byte, p unsafe.Pointer) int64 {
	t.Helper()
	if p == nil {
		t.Fatalf("unexpected nil pointer")
	}
	return int64(uintptr(p) - uintptr(unsafe.Pointer(&region[0])))
}

// TestBuddyCoalescing mirrors the coalescing scenario: MAX_ORDER=3,
// BASIC_BLOCK_SIZE=16, 128-byte region.
func TestBuddyCoalescing(t *testing.T) {
	a, region := newTestAllocator(t, 3, 16)

	pa := a.Allocate(10)
	pb := a.Allocate(12)
	pc := a.Allocate(24)
	pd := a.Allocate(13)
	if got := a.Allocate(64); got != nil {
		t.Fatalf("Allocate(64) = %v, want nil", got)
	}
	pe := a.Allocate(16)

	cases := []struct {
		name string
		p    unsafe.Pointer
		want int64
	}{
		{"a", pa, 0}, {"b", pb, 16}, {"c", pc, 32}, {"d", pd, 64}, {"e", pe, 80},
	}
	for _, c := range cases {
		if got := offsetOf(t, region, c.p); got != c.want {
			t.Errorf("%s offset = %d, want %d", c.name, got, c.want)
		}
	}

	if ok := a.Free(pd); !ok {
		t.Fatalf("Free(d) failed")
	}
	if ok := a.Free(pe); !ok {
		t.Fatalf("Free(e) failed")
	}
	if ok := a.Free(pa); !ok {
		t.Fatalf("Free(a) failed")
	}
	if ok := a.Free(pb); !ok {
		t.Fatalf("Free(b) failed")
	}
	if ok := a.Free(pc); !ok {
		t.Fatalf("Free(c) failed")
	}

	if !a.getBit(0) {
		t.Errorf("expected root to be FREE after freeing every block")
	}
}

// TestBuddyExhaustion allocates eight order-0 blocks to exhaustion, then
// exercises the free/realloc cycle.
func TestBuddyExhaustion(t *testing.T) {
	a, _ := newTestAllocator(t, 3, 16)

	ptrs := make([]unsafe.Pointer, 8)
	for i := range ptrs {
		p := a.Allocate(16)
		if p == nil {
			t.Fatalf("allocation %d unexpectedly failed", i)
		}
		ptrs[i] = p
	}
	if got := a.Allocate(16); got != nil {
		t.Fatalf("ninth Allocate(16) = %v, want nil", got)
	}

	if ok := a.Free(ptrs[0]); !ok {
		t.Fatalf("Free(ptrs[0]) failed")
	}
	next := a.Allocate(16)
	if next != ptrs[0] {
		t.Errorf("reallocation returned %v, want the freed address %v", next, ptrs[0])
	}
}

func TestOrderToSize(t *testing.T) {
	const basic = int64(16)
	for k := 0; k <= 3; k++ {
		want := basic << uint(k)
		if got := OrderToSize(basic, k); got != want {
			t.Errorf("OrderToSize(%d) = %d, want %d", k, got, want)
		}
	}
}

func TestDepthOrderRoundTrip(t *testing.T) {
	const maxOrder = 3
	for k := 0; k <= maxOrder; k++ {
		if got := DepthToOrder(maxOrder, OrderToDepth(maxOrder, k)); got != k {
			t.Errorf("DepthToOrder(OrderToDepth(%d)) = %d, want %d", k, got, k)
		}
	}
	if IndexToDepth(0) != 0 {
		t.Errorf("IndexToDepth(0) = %d, want 0", IndexToDepth(0))
	}
}

func TestBuddyInvolution(t *testing.T) {
	for i := int64(1); i < 15; i++ {
		if got := Buddy(Buddy(i)); got != i {
			t.Errorf("Buddy(Buddy(%d)) = %d, want %d", i, got, i)
		}
	}
}

func TestAllocateZeroReturnsNil(t *testing.T) {
	a, _ := newTestAllocator(t, 3, 16)
	if p := a.Allocate(0); p != nil {
		t.Errorf("Allocate(0) = %v, want nil", p)
	}
}

func TestFreeNilIsNoop(t *testing.T) {
	a, _ := newTestAllocator(t, 3, 16)
	if !a.Free(nil) {
		t.Errorf("Free(nil) = false, want true")
	}
}

func TestRoundTripNoFragmentation(t *testing.T) {
	a, _ := newTestAllocator(t, 3, 16)
	p := a.Allocate(64)
	if p == nil {
		t.Fatalf("allocation failed")
	}
	if !a.Free(p) {
		t.Fatalf("free failed")
	}
	if !a.getBit(0) {
		t.Errorf("expected root FREE after a single allocate/free round-trip")
	}
	for i := int64(1); i < a.numNodes; i++ {
		if a.getBit(i) {
			t.Errorf("expected node %d clear post round-trip", i)
		}
	}
}

func TestInitFromSettings(t *testing.T) {
	settings := lib.Settings{"maxorder": int64(3), "basicblocksize": int64(16)}
	a, err := InitFromSettings(make([]byte, 128), settings, nil)
	if err != nil {
		t.Fatalf("InitFromSettings failed: %v", err)
	}
	if a.maxOrder != 3 || a.basicBlockSize != 16 {
		t.Errorf("unexpected params maxOrder=%d basicBlockSize=%d", a.maxOrder, a.basicBlockSize)
	}
}

func TestInitFromSettingsRejectsMissingKeys(t *testing.T) {
	if _, err := InitFromSettings(make([]byte, 128), nil, nil); err == nil {
		t.Errorf("expected InitFromSettings to fail without maxorder/basicblocksize")
	}
}

func TestInitRejectsUndersizedRegion(t *testing.T) {
	region := make([]byte, 32)
	if _, err := Init(region, 3, 16, nil); err == nil {
		t.Errorf("expected Init to reject a region smaller than the tree's coverage")
	}
}

func TestInitAcceptsOversizedRegionWithSurplus(t *testing.T) {
	region := make([]byte, 200)
	a, err := Init(region, 3, 16, nil)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if len(a.region) != 128 {
		t.Errorf("expected the managed region to be truncated to 128 bytes, got %d", len(a.region))
	}
}
