package ffi

import "unsafe"

// terminated returns a NUL-terminated copy of b, suitable for passing as
// a C string argument.
func terminated(b []byte) []byte {
	out := make([]byte, len(b)+1)
	copy(out, b)
	return out
}

// terminatedString is terminated for string input.
func terminatedString(s string) []byte {
	out := make([]byte, len(s)+1)
	copy(out, s)
	return out
}

// optTerminated preserves nil: a nil argument crosses the boundary as a
// NULL pointer, which the engine reads as "not provided".
func optTerminated(b []byte) []byte {
	if b == nil {
		return nil
	}
	return terminated(b)
}

// bufPtr returns the address of the first byte, or nil for empty input.
func bufPtr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

// cstrLen walks to the NUL terminator.
func cstrLen(p uintptr) int {
	n := 0
	for *(*byte)(unsafe.Pointer(p + uintptr(n))) != 0 {
		n++
	}
	return n
}

// GoString copies a NUL-terminated C string into a Go string. It is the
// read-side counterpart of the terminated helpers and is exported for
// stub engines that receive C string arguments.
func GoString(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	addr := uintptr(p)
	n := cstrLen(addr)
	if n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), n))
}

// GoBytes copies n bytes from p into fresh Go storage.
func GoBytes(p unsafe.Pointer, n int) []byte {
	if p == nil || n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(p), n))
	return out
}
