package ffi

import "github.com/ebitengine/purego"

// registerFunc binds a C function address to a typed Go function pointer.
func registerFunc(fptr any, addr uintptr) {
	purego.RegisterFunc(fptr, addr)
}
