//go:build amd64

package bytesrange

import (
	"reflect"
	"unsafe"
)

// IsZeroFilled returns true if b consists of zeros only. It checks
// word-aligned data eight bytes at a time.
func IsZeroFilled(b []byte) bool {
	hdr := (*reflect.SliceHeader)((unsafe.Pointer)(&b))
	data := hdr.Data
	length := hdr.Len
	if data&0x07 != 0 {
		return isZeroFilledSimple(b)
	}
	dataEnd := hdr.Data + uintptr(length)
	dataWordsEnd := dataEnd & ^uintptr(0x07)
	for ; data < dataWordsEnd; data += 8 {
		if *(*uint64)(unsafe.Pointer(data)) != 0 {
			return false
		}
	}
	for ; data < dataEnd; data++ {
		if *(*uint8)(unsafe.Pointer(data)) != 0 {
			return false
		}
	}
	return true
}
