package lib

import "unsafe"
import "reflect"
import "fmt"

// panicerr signals a programmer-error abort: a condition that is not
// recoverable and is not reported through a return value.
func panicerr(fmsg string, args ...interface{}) {
	panic(fmt.Errorf(fmsg, args...))
}

// Memcpy copy memory block of length `ln` from `src` to `dst`. Useful when
// either pointer refers to a slot inside a caller-supplied byte region
// rather than a Go-managed slice.
func Memcpy(dst, src unsafe.Pointer, ln int) int {
	var srcnd, dstnd []byte
	srcsl := (*reflect.SliceHeader)(unsafe.Pointer(&srcnd))
	srcsl.Len, srcsl.Cap = ln, ln
	srcsl.Data = (uintptr)(unsafe.Pointer(src))
	dstsl := (*reflect.SliceHeader)(unsafe.Pointer(&dstnd))
	dstsl.Len, dstsl.Cap = ln, ln
	dstsl.Data = (uintptr)(unsafe.Pointer(dst))
	return copy(dstnd, srcnd)
}

// Ceil divides two positive int64s rounding up, used throughout the
// allocator's slot and bit-vector sizing arithmetic.
func Ceil(dividend, divisor int64) int64 {
	if dividend%divisor == 0 {
		return dividend / divisor
	}
	return (dividend / divisor) + 1
}
