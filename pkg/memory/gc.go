package memory

import "unsafe"

// Tracing Allocator (GC) — size-segregated pooled allocation plus a
// threshold-driven mark-and-sweep collector over a single live-object list.
// Grounded on other_examples' MarkSweepGC (root list, mark/sweep phase
// split, a dedicated stats struct) completed with the Type Registry where
// that prototype left child traversal as TODO stubs.

// Size classes are fixed, including the header, per spec.md §4.2.
var sizeClasses = [...]uintptr{8, 16, 32, 64, 128, 256}

const (
	poolBlockBytes = 4096     // bytes per arena block in a size-class pool
	gcMinThreshold = 1 << 20  // 1 MiB, spec.md §4.2 "typical values"
	gcGrowthFactor = 2.0
	// gcHeaderOverhead is the fixed per-object header cost counted toward
	// a size class's "including header" budget (spec.md §3, §4.2). One
	// word — the smallest class exists to hold nothing but a header.
	gcHeaderOverhead = 8
)

// gcHeader is the header of a GC-owned object (spec.md §3 "GC-owned
// object"). It is a separate Go value, not stored in front of the payload
// bytes; headerOf maps a payload address to it.
type gcHeader struct {
	next       *gcHeader
	descriptor *TypeDescriptor
	size       uintptr // payload byte length
	marked     bool
	pooled     bool
	class      int // index into sizeClasses, valid only if pooled
	payload    unsafe.Pointer
}

// poolBlock is a bump-allocated arena block serving one size class
// (spec.md §3 "GC pool block").
type poolBlock struct {
	bytes []byte
	used  uintptr
	next  *poolBlock
}

// freeSlot is an entry in a size class's free-list. The list is not
// intrusive: each freed slot gets its own Go-side node holding its address,
// and the slot's backing bytes are left untouched, so no pointer is ever
// stored inside a Go-GC'd byte array.
type freeSlot struct {
	ptr  unsafe.Pointer
	next *freeSlot
}

type sizeClassPool struct {
	blocks   *poolBlock
	freeList *freeSlot
}

// GCHeap is the tracing allocator: live-object list, size-class pools, a
// general-heap fallback, the root set, byte accounting, and the collection
// threshold. Ownership: allocated memory belongs to the GC until either a
// collection proves it unreachable or the caller explicitly Frees it
// (spec.md §4.2).
type GCHeap struct {
	registry *Registry

	live  *gcHeader
	pools [len(sizeClasses)]sizeClassPool

	roots []unsafe.Pointer

	enabled   bool
	threshold uint64
	allocated uint64

	// headerOf maps a payload address back to its header without requiring
	// raw pointer arithmetic over host-language-opaque payload bytes; the
	// payload itself is a Go-allocated byte slice, so this indirection
	// keeps the allocator honest under Go's own moving-free GC.
	headerOf map[unsafe.Pointer]*gcHeader
}

// NewGCHeap creates a tracing allocator backed by the given type registry.
// GC runs enabled by default with the standard minimum threshold.
func NewGCHeap(registry *Registry) *GCHeap {
	return &GCHeap{
		registry:  registry,
		enabled:   true,
		threshold: gcMinThreshold,
		headerOf:  make(map[unsafe.Pointer]*gcHeader),
	}
}

// Shutdown releases every pool block and clears the live list. It is the
// caller's responsibility not to dereference any previously-returned
// payload pointer afterward.
func (h *GCHeap) Shutdown() {
	h.live = nil
	h.headerOf = make(map[unsafe.Pointer]*gcHeader)
	for i := range h.pools {
		h.pools[i] = sizeClassPool{}
	}
	h.roots = nil
	h.allocated = 0
}

// classFor returns the size-class index that fits header+payload size n
// (n already includes gcHeaderOverhead), or -1 if n requires the general
// heap. An allocation exactly at a class boundary selects that class, not
// the next (spec.md §8 boundary behavior).
func classFor(n uintptr) int {
	for i, c := range sizeClasses {
		if n <= c {
			return i
		}
	}
	return -1
}

// Allocate reserves n payload bytes and returns a pointer to them,
// uninitialized. Size 0 returns nil (spec.md §8 boundary behavior).
func (h *GCHeap) Allocate(n uintptr) unsafe.Pointer {
	return h.allocate(n, nil, false)
}

// AllocateZeroed reserves n zeroed payload bytes.
func (h *GCHeap) AllocateZeroed(n uintptr) unsafe.Pointer {
	return h.allocate(n, nil, true)
}

// AllocateTyped reserves n payload bytes and stamps the header with t, so
// the collector can traverse this object's outgoing pointers.
func (h *GCHeap) AllocateTyped(n uintptr, t *TypeDescriptor) unsafe.Pointer {
	return h.allocate(n, t, true)
}

func (h *GCHeap) allocate(n uintptr, t *TypeDescriptor, zero bool) unsafe.Pointer {
	if n == 0 {
		return nil
	}

	h.maybeCollect()

	class := classFor(n + gcHeaderOverhead)

	var payload unsafe.Pointer
	pooled := class >= 0
	if pooled {
		payload = h.poolAlloc(class)
	} else {
		buf := make([]byte, n)
		payload = unsafe.Pointer(&buf[0])
	}
	if payload == nil {
		return nil
	}
	if zero {
		zeroBytes(payload, n)
	}

	hdr := &gcHeader{
		next:       h.live,
		descriptor: t,
		size:       n,
		marked:     false,
		pooled:     pooled,
		class:      class,
		payload:    payload,
	}
	h.live = hdr
	h.headerOf[payload] = hdr
	h.allocated += uint64(n)

	return payload
}

// poolAlloc services an allocation from size class idx: pop the free-list
// first, otherwise bump within the current block, otherwise allocate a
// fresh block (spec.md §4.2 "Allocation protocol"). Every slot handed out
// is a full class-size chunk regardless of the requested payload size —
// the gap is pool slack, which spec.md §8's accounting invariant
// explicitly allows.
func (h *GCHeap) poolAlloc(idx int) unsafe.Pointer {
	pool := &h.pools[idx]
	slotSize := sizeClasses[idx]

	if pool.freeList != nil {
		slot := pool.freeList
		pool.freeList = slot.next
		return slot.ptr
	}

	block := pool.blocks
	if block == nil || block.used+slotSize > uintptr(len(block.bytes)) {
		block = &poolBlock{bytes: make([]byte, poolBlockBytes), next: pool.blocks}
		pool.blocks = block
	}
	ptr := unsafe.Pointer(&block.bytes[block.used])
	block.used += slotSize
	return ptr
}

// Reallocate resizes the allocation at ptr to n bytes, copying
// min(old,new) bytes and freeing the old slot. n==0 with a non-nil ptr
// behaves as Free; a nil ptr behaves as Allocate (spec.md §4.2, §8).
func (h *GCHeap) Reallocate(ptr unsafe.Pointer, n uintptr) unsafe.Pointer {
	if ptr == nil {
		return h.Allocate(n)
	}
	if n == 0 {
		h.Free(ptr)
		return nil
	}
	old, ok := h.headerOf[ptr]
	if !ok {
		return nil
	}
	newPtr := h.allocate(n, old.descriptor, false)
	if newPtr == nil {
		return ptr // leave the old pointer valid on OOM, spec.md §7
	}
	copyBytes(newPtr, ptr, minUintptr(old.size, n))
	h.Free(ptr)
	return newPtr
}

// Free releases ptr immediately, outside of a collection cycle. Freeing
// nil is a no-op (spec.md §8).
func (h *GCHeap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	hdr, ok := h.headerOf[ptr]
	if !ok {
		return
	}
	h.unlink(hdr)
	h.reclaim(hdr)
}

func (h *GCHeap) unlink(hdr *gcHeader) {
	if h.live == hdr {
		h.live = hdr.next
		delete(h.headerOf, hdr.payload)
		return
	}
	for cur := h.live; cur != nil; cur = cur.next {
		if cur.next == hdr {
			cur.next = hdr.next
			delete(h.headerOf, hdr.payload)
			return
		}
	}
}

func (h *GCHeap) reclaim(hdr *gcHeader) {
	if h.allocated >= uint64(hdr.size) {
		h.allocated -= uint64(hdr.size)
	} else {
		h.allocated = 0
	}
	if hdr.pooled {
		pool := &h.pools[hdr.class]
		pool.freeList = &freeSlot{ptr: hdr.payload, next: pool.freeList}
	}
}

// AddRoot registers ptr as a GC root. Duplicates are allowed and harmless
// (spec.md §4.2 "Root management").
func (h *GCHeap) AddRoot(ptr unsafe.Pointer) {
	h.roots = append(h.roots, ptr)
}

// RemoveRoot removes the first occurrence of ptr from the root set, if
// present.
func (h *GCHeap) RemoveRoot(ptr unsafe.Pointer) {
	for i, r := range h.roots {
		if r == ptr {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// Enable turns on the implicit threshold-driven collection trigger.
func (h *GCHeap) Enable() { h.enabled = true }

// Disable turns off the implicit threshold-driven collection trigger;
// Collect and ForceCollect still run explicitly (spec.md §4.2).
func (h *GCHeap) Disable() { h.enabled = false }

// maybeCollect runs a collection before an allocation if the GC is enabled
// and the running byte total is at or above the current threshold — the
// only implicit collection trigger (spec.md §4.2 "Allocation protocol").
func (h *GCHeap) maybeCollect() {
	if !h.enabled {
		return
	}
	if h.allocated >= h.threshold {
		h.Collect()
	}
}

// Collect runs one mark-and-sweep cycle synchronously.
func (h *GCHeap) Collect() {
	h.mark()
	h.sweep()
	h.threshold = nextThreshold(h.allocated)
}

func nextThreshold(liveBytes uint64) uint64 {
	grown := uint64(float64(liveBytes) * gcGrowthFactor)
	if grown < gcMinThreshold {
		return gcMinThreshold
	}
	return grown
}

// ForceCollect temporarily enables the GC, collects, and restores the
// previous enabled state (spec.md §4.2).
func (h *GCHeap) ForceCollect() {
	prev := h.enabled
	h.enabled = true
	h.Collect()
	h.enabled = prev
}

func (h *GCHeap) mark() {
	for _, r := range h.roots {
		h.markPointer(r)
	}
}

// markPointer marks the object at ptr, recursing into its outgoing
// managed pointers via the Type Registry (spec.md §4.2 "Mark phase").
// Recursion depth equals the longest pointer chain; bounded depth is
// assumed for the target workloads, matching spec.md §5.
func (h *GCHeap) markPointer(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	hdr, ok := h.headerOf[ptr]
	if !ok || hdr.marked {
		return
	}
	hdr.marked = true
	if hdr.descriptor != nil && hdr.descriptor.HasPointers() {
		hdr.descriptor.Traverse(hdr.payload, h.markVisitor, nil)
	}
}

func (h *GCHeap) markVisitor(_ unsafe.Pointer, pointerValue unsafe.Pointer, _ interface{}) {
	h.markPointer(pointerValue)
}

func (h *GCHeap) sweep() {
	var survivors *gcHeader
	cur := h.live
	for cur != nil {
		next := cur.next
		if cur.marked {
			cur.marked = false
			cur.next = survivors
			survivors = cur
		} else {
			delete(h.headerOf, cur.payload)
			h.reclaim(cur)
		}
		cur = next
	}
	h.live = survivors
}

// GetStats reports the allocator's current state (spec.md §4.2
// "Statistics").
func (h *GCHeap) GetStats() GCStats {
	stats := GCStats{
		BytesAllocated: h.allocated,
		NextThreshold:  h.threshold,
	}
	stats.PoolBytesByClass = make([]uint64, len(sizeClasses))
	for i, pool := range h.pools {
		for b := pool.blocks; b != nil; b = b.next {
			stats.PoolBytesByClass[i] += uint64(b.used)
		}
	}
	for cur := h.live; cur != nil; cur = cur.next {
		stats.LiveObjects++
		if cur.descriptor != nil {
			stats.PointersTraversable += cur.descriptor.CountPointers()
		}
	}
	return stats
}

func zeroBytes(p unsafe.Pointer, n uintptr) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = 0
	}
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}

func minUintptr(a, b uintptr) uintptr {
	if a < b {
		return a
	}
	return b
}
