package kmalloc

import (
	"testing"

	"github.com/prataprc/gomalloc/align"
	"github.com/prataprc/gomalloc/freelist"
)

func TestInstallAndAllocFree(t *testing.T) {
	a, err := freelist.Init(make([]byte, 1024), align.Constant(8), nil)
	if err != nil {
		t.Fatalf("freelist.Init failed: %v", err)
	}
	Install(a)
	defer Install(nil)

	p := Alloc(64)
	if p == nil {
		t.Fatalf("Alloc(64) failed")
	}
	if ok := Free(p); !ok {
		t.Fatalf("Free failed")
	}
}

func TestUninstalledFacadeFails(t *testing.T) {
	Install(nil)
	if p := Alloc(64); p != nil {
		t.Errorf("Alloc with no installed allocator = %v, want nil", p)
	}
	if Free(nil) != false {
		t.Errorf("Free with no installed allocator should report false")
	}
}
