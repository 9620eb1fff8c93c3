// Package bytesrange provides byte-range bookkeeping used by the ELF loader
// (segment overlap detection, §4.4) and the handover builder (module and
// kernel overlap checks), plus a zero-content check for byte slices.
package bytesrange

//go:nosplit
func isZeroFilledSimple(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
