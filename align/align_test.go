package align

import "testing"

func TestIdentity(t *testing.T) {
	sizes := []int64{0, 1, 7, 8, 4096}
	for _, size := range sizes {
		if got := Identity(size); got != size {
			t.Errorf("Identity(%d) = %d, expected %d", size, got, size)
		}
	}
}

func TestConstant(t *testing.T) {
	aligner := Constant(8)
	cases := []struct{ size, expect int64 }{
		{0, 0}, {1, 8}, {7, 8}, {8, 8}, {9, 16}, {16, 16}, {17, 24},
	}
	for _, c := range cases {
		if got := aligner(c.size); got != c.expect {
			t.Errorf("Constant(8)(%d) = %d, expected %d", c.size, got, c.expect)
		}
	}
}

func TestConstantHeaderInvariant(t *testing.T) {
	// the free-list allocator requires aligner(sizeof(header)) == sizeof(header).
	const headerSize = int64(32)
	aligner := Constant(headerSize)
	if got := aligner(headerSize); got != headerSize {
		t.Errorf("Constant(%d)(%d) = %d, want %d", headerSize, headerSize, got, headerSize)
	}
}

func TestConstantPanicsOnNonPositive(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected Constant(0) to panic")
		}
	}()
	Constant(0)
}

func TestPowerOfTwo(t *testing.T) {
	cases := []struct{ size, expect int64 }{
		{0, 0}, {1, 1}, {2, 2}, {3, 4}, {4, 4}, {5, 8}, {16, 16}, {17, 32}, {1000, 1024},
	}
	for _, c := range cases {
		if got := PowerOfTwo(c.size); got != c.expect {
			t.Errorf("PowerOfTwo(%d) = %d, expected %d", c.size, got, c.expect)
		}
	}
}
