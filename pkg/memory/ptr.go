package memory

import "unsafe"

// Pointer-arithmetic helpers shared by the Type Registry, the tracing
// allocator, and the reference counter. Isolated in one file since they are
// the only places in the package that touch unsafe.Pointer directly —
// everything else works in terms of these primitives.

// pointerSize is the byte width of a single managed pointer on this
// platform; field tables built with PointerField use it for Size.
const pointerSize = unsafe.Sizeof(uintptr(0))

// readPointer reads a *unsafe.Pointer-sized word at base+offset and returns
// it as an unsafe.Pointer.
func readPointer(base unsafe.Pointer, offset uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(addOffset(base, offset))
}

// writePointer stores val at base+offset.
func writePointer(base unsafe.Pointer, offset uintptr, val unsafe.Pointer) {
	*(*unsafe.Pointer)(addOffset(base, offset)) = val
}

// addOffset returns base shifted forward by offset bytes.
func addOffset(base unsafe.Pointer, offset uintptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(base) + offset)
}

// WritePointerField stores val in the pointer-sized field at base+offset of
// a host-owned aggregate. Exported for hosts building object graphs whose
// layout is described by a PointerField/ArrayField/EmbeddedField entry but
// whose field values the host itself must populate (the registry only
// describes layout; it never writes instance data).
func WritePointerField(base unsafe.Pointer, offset uintptr, val unsafe.Pointer) {
	writePointer(base, offset, val)
}

// ReadPointerField is the read-side counterpart of WritePointerField.
func ReadPointerField(base unsafe.Pointer, offset uintptr) unsafe.Pointer {
	return readPointer(base, offset)
}
