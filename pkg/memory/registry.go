package memory

import (
	"fmt"
	"unsafe"
)

// Type Registry — the shared metadata both the tracing allocator and the
// reference counter use to walk a user-defined aggregate's outgoing managed
// pointers. The registry itself never allocates or frees anything; it is
// passive data, populated once during runtime boot and read for the rest of
// the process lifetime. Never torn down while any typed object exists
// (spec.md §4.1 "Contract notes").

// FieldKind enumerates how one field of a registered type should be treated
// during traversal.
type FieldKind int

const (
	// FieldPrimitive is opaque payload bytes. Never traversed.
	FieldPrimitive FieldKind = iota
	// FieldPointer is a single managed reference to another object.
	FieldPointer
	// FieldArray is a fixed-count array of pointer elements. A zero Count
	// means the array is dynamically sized and is not traversed.
	FieldArray
	// FieldString is an opaque owned byte pointer. Never traversed as a
	// managed reference.
	FieldString
	// FieldEmbedded is an inline sub-aggregate, traversed recursively.
	FieldEmbedded
)

func (k FieldKind) String() string {
	switch k {
	case FieldPrimitive:
		return "primitive"
	case FieldPointer:
		return "pointer"
	case FieldArray:
		return "array"
	case FieldString:
		return "string"
	case FieldEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// FieldDescriptor describes one field of an aggregate type.
type FieldDescriptor struct {
	Name   string // debug name
	Kind   FieldKind
	Offset uintptr // byte offset from the object base
	Size   uintptr // byte size of the field
	Count  int     // element count for FieldArray; unused otherwise

	// Target is the descriptor for the referenced/element/embedded type.
	// Unused for FieldPrimitive and FieldString. May be self-referential
	// (the common case for recursive aggregates) — build the descriptor,
	// then back-patch the self-referential field's Target.
	Target *TypeDescriptor
}

func (f FieldDescriptor) hasPointers() bool {
	switch f.Kind {
	case FieldPointer:
		return true
	case FieldArray:
		return f.Count > 0
	case FieldEmbedded:
		return f.Target != nil && f.Target.HasPointers()
	default:
		return false
	}
}

func (f FieldDescriptor) pointerCount() int {
	switch f.Kind {
	case FieldPointer:
		return 1
	case FieldArray:
		if f.Count <= 0 {
			return 0
		}
		return f.Count
	case FieldEmbedded:
		if f.Target == nil {
			return 0
		}
		return f.Target.CountPointers()
	default:
		return 0
	}
}

// PrimitiveField builds a primitive (opaque, untraversed) field descriptor.
func PrimitiveField(name string, offset, size uintptr) FieldDescriptor {
	return FieldDescriptor{Name: name, Kind: FieldPrimitive, Offset: offset, Size: size}
}

// PointerField builds a single managed-pointer field descriptor.
func PointerField(name string, offset uintptr, target *TypeDescriptor) FieldDescriptor {
	return FieldDescriptor{Name: name, Kind: FieldPointer, Offset: offset, Size: pointerSize, Target: target}
}

// ArrayField builds a fixed-count array of pointer elements (spec.md §4.1
// "array with pointer element type"): each slot holds one managed pointer,
// read and visited directly, not an inline sub-aggregate — use
// EmbeddedField (or a field table with repeated EmbeddedField entries) for
// an array of inline structs. A count of zero marks the array as
// dynamically sized (not traversed). target, like PointerField's, is the
// pointee's descriptor for documentation only; it plays no part in
// traversal.
func ArrayField(name string, offset, elemSize uintptr, count int, target *TypeDescriptor) FieldDescriptor {
	return FieldDescriptor{Name: name, Kind: FieldArray, Offset: offset, Size: elemSize * uintptr(count), Count: count, Target: target}
}

// StringField builds an opaque owned-string field descriptor (not
// traversed as a managed reference).
func StringField(name string, offset, size uintptr) FieldDescriptor {
	return FieldDescriptor{Name: name, Kind: FieldString, Offset: offset, Size: size}
}

// EmbeddedField builds an inline sub-aggregate field descriptor, traversed
// recursively through its own target descriptor.
func EmbeddedField(name string, offset uintptr, target *TypeDescriptor) FieldDescriptor {
	size := uintptr(0)
	if target != nil {
		size = target.Size
	}
	return FieldDescriptor{Name: name, Kind: FieldEmbedded, Offset: offset, Size: size, Target: target}
}

// TypeDescriptor describes one aggregate type: a name, its total byte size,
// its field table, and an optional destructor invoked when an RC object of
// this type is destroyed. Descriptors are registered once; there is no
// uniqueness check (spec.md §4.1) and no deregistration API (spec.md §9,
// "type descriptor lifecycle" open question — descriptors live as long as
// the registry).
type TypeDescriptor struct {
	Name       string
	Size       uintptr
	Fields     []FieldDescriptor
	Destructor func(payload unsafe.Pointer)

	hasPointersCache  *bool
	pointerCountCache *int
}

// HasPointers reports whether any field is pointer-bearing: FieldPointer, a
// FieldArray with a non-zero count, or a FieldEmbedded whose target is
// pointer-bearing.
func (t *TypeDescriptor) HasPointers() bool {
	if t == nil {
		return false
	}
	if t.hasPointersCache != nil {
		return *t.hasPointersCache
	}
	// Seed the cache optimistically before recursing so a self-referential
	// or mutually recursive descriptor can't loop forever.
	optimistic := false
	t.hasPointersCache = &optimistic
	result := false
	for _, f := range t.Fields {
		if f.hasPointers() {
			result = true
			break
		}
	}
	t.hasPointersCache = &result
	return result
}

// CountPointers returns the number of outgoing managed references one
// instance of this type produces.
func (t *TypeDescriptor) CountPointers() int {
	if t == nil {
		return 0
	}
	if t.pointerCountCache != nil {
		return *t.pointerCountCache
	}
	zero := 0
	t.pointerCountCache = &zero
	total := 0
	for _, f := range t.Fields {
		total += f.pointerCount()
	}
	t.pointerCountCache = &total
	return total
}

// PointerVisitor is invoked once per outgoing managed reference a Traverse
// call discovers. objectBase is the base address of the aggregate owning
// the field, pointerValue is the managed pointer read from that field, and
// ctx is the caller-supplied opaque context threaded through unchanged.
type PointerVisitor func(objectBase, pointerValue unsafe.Pointer, ctx interface{})

// Traverse invokes visit once per outgoing managed reference of the object
// at base, per t's field table:
//   - primitive, string: skipped.
//   - pointer: read from base+offset; if non-nil, visit once.
//   - array with pointer element type and length N: visit N times over
//     base+offset+i*elemSize.
//   - embedded: recurse into the embedded descriptor at base+offset.
func (t *TypeDescriptor) Traverse(base unsafe.Pointer, visit PointerVisitor, ctx interface{}) {
	if t == nil || base == nil {
		return
	}
	for _, f := range t.Fields {
		traverseField(base, f, visit, ctx)
	}
}

func traverseField(base unsafe.Pointer, f FieldDescriptor, visit PointerVisitor, ctx interface{}) {
	switch f.Kind {
	case FieldPrimitive, FieldString:
		return
	case FieldPointer:
		p := readPointer(base, f.Offset)
		if p != nil {
			visit(base, p, ctx)
		}
	case FieldArray:
		if f.Count <= 0 {
			return
		}
		elemSize := f.Size / uintptr(f.Count)
		for i := 0; i < f.Count; i++ {
			p := readPointer(base, f.Offset+uintptr(i)*elemSize)
			if p != nil {
				visit(base, p, ctx)
			}
		}
	case FieldEmbedded:
		if f.Target == nil {
			return
		}
		f.Target.Traverse(addOffset(base, f.Offset), visit, ctx)
	}
}

// Registry is a head-insertion singly-linked list of registered type
// descriptors, consumed identically by the tracing allocator and the
// reference-counting cycle collector. Lookup is a linear scan — spec.md
// §4.1/§9 mandates this as the contractual baseline and explicitly
// anticipates, without requiring, upgrading to a hash set for large heaps
// without changing the contract.
type Registry struct {
	head *registryNode
}

type registryNode struct {
	descriptor *TypeDescriptor
	next       *registryNode
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register inserts a descriptor at the head of the registry. There is no
// uniqueness check — registering the same name twice is a caller bug, not
// a detected error (spec.md §4.1).
func (r *Registry) Register(d *TypeDescriptor) {
	if d == nil {
		return
	}
	r.head = &registryNode{descriptor: d, next: r.head}
}

// Lookup returns the first descriptor whose name exactly matches name, or
// (nil, false) if none is registered.
func (r *Registry) Lookup(name string) (*TypeDescriptor, bool) {
	for n := r.head; n != nil; n = n.next {
		if n.descriptor.Name == name {
			return n.descriptor, true
		}
	}
	return nil, false
}

// MustLookup is Lookup for internal callers that already know the type must
// be registered; it panics otherwise. Not part of the host-facing API.
func (r *Registry) MustLookup(name string) *TypeDescriptor {
	d, ok := r.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("memory: type %q not registered", name))
	}
	return d
}
