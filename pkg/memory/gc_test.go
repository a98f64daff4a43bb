package memory

import (
	"testing"
	"unsafe"
)

func selfLinkedNodeType(name string) *TypeDescriptor {
	t := &TypeDescriptor{Name: name, Size: pointerSize}
	t.Fields = []FieldDescriptor{PointerField("next", 0, t)}
	return t
}

func TestAllocateZeroSizeReturnsNil(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	if p := h.Allocate(0); p != nil {
		t.Fatalf("Allocate(0) = %v, want nil", p)
	}
}

func TestFreeNilIsNoop(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	h.Free(nil) // must not panic
}

func TestClassBoundarySelection(t *testing.T) {
	cases := []struct {
		n    uintptr
		want int
	}{
		{1, 0}, {8, 0}, {9, 1}, {16, 1}, {17, 2}, {32, 2}, {33, 3}, {256, 5}, {257, -1},
	}
	for _, c := range cases {
		if got := classFor(c.n); got != c.want {
			t.Errorf("classFor(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestAllocateZeroedZerosPayload(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	p := h.AllocateZeroed(32)
	b := unsafe.Slice((*byte)(p), 32)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %d, want 0", i, v)
		}
	}
}

func TestReallocateNilBehavesAsAllocate(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	p := h.Reallocate(nil, 16)
	if p == nil {
		t.Fatalf("Reallocate(nil, 16) = nil")
	}
}

func TestReallocateZeroBehavesAsFree(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	p := h.Allocate(16)
	if got := h.Reallocate(p, 0); got != nil {
		t.Fatalf("Reallocate(p, 0) = %v, want nil", got)
	}
	if _, ok := h.headerOf[p]; ok {
		t.Fatalf("Reallocate(p, 0) left p in headerOf")
	}
}

func TestReallocatePreservesLeadingBytes(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	p := h.Allocate(16)
	b := unsafe.Slice((*byte)(p), 16)
	for i := range b {
		b[i] = byte(i + 1)
	}

	smaller := h.Reallocate(p, 8)
	got := unsafe.Slice((*byte)(smaller), 8)
	for i := 0; i < 8; i++ {
		if got[i] != byte(i+1) {
			t.Fatalf("byte %d = %d, want %d", i, got[i], i+1)
		}
	}
}

func TestReallocatePreservesTraversability(t *testing.T) {
	node := selfLinkedNodeType("realloc_node")
	registry := NewRegistry()
	registry.Register(node)
	h := NewGCHeap(registry)

	a := h.AllocateTyped(node.Size, node)
	b := h.AllocateTyped(node.Size, node)
	writePointer(a, 0, b)

	grown := h.Reallocate(a, node.Size*2)
	h.AddRoot(grown)
	h.ForceCollect()

	stats := h.GetStats()
	if stats.LiveObjects != 2 {
		t.Fatalf("live objects after collecting through a reallocated pointer = %d, want 2 (b must survive via grown's preserved descriptor)", stats.LiveObjects)
	}
}

func TestSimpleTracingKeepsReachableObjects(t *testing.T) {
	node := selfLinkedNodeType("node")
	registry := NewRegistry()
	registry.Register(node)
	h := NewGCHeap(registry)

	a := h.AllocateTyped(node.Size, node)
	b := h.AllocateTyped(node.Size, node)
	writePointer(a, 0, b)

	h.AddRoot(a)
	h.ForceCollect()

	stats := h.GetStats()
	if stats.LiveObjects != 2 {
		t.Fatalf("LiveObjects = %d, want 2", stats.LiveObjects)
	}
	if stats.PointersTraversable < 1 {
		t.Fatalf("PointersTraversable = %d, want >= 1", stats.PointersTraversable)
	}
}

func TestUnreachableChainIsSwept(t *testing.T) {
	node := selfLinkedNodeType("node2")
	registry := NewRegistry()
	registry.Register(node)
	h := NewGCHeap(registry)

	a := h.AllocateTyped(node.Size, node)
	b := h.AllocateTyped(node.Size, node)
	writePointer(a, 0, b)

	h.ForceCollect()

	if stats := h.GetStats(); stats.LiveObjects != 0 {
		t.Fatalf("LiveObjects = %d, want 0", stats.LiveObjects)
	}
}

func TestMarkBitClearedAfterCollect(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	p := h.Allocate(8)
	h.AddRoot(p)
	h.ForceCollect()

	hdr := h.headerOf[p]
	if hdr == nil {
		t.Fatalf("survivor missing from headerOf")
	}
	if hdr.marked {
		t.Fatalf("mark bit left set after collect")
	}
}

func TestPooledAllocationReusesFreeList(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	h.Disable()

	const n = 100
	const payload = 24
	const class32 = 2

	ptrs := make([]unsafe.Pointer, n)
	for i := range ptrs {
		ptrs[i] = h.Allocate(payload)
	}

	stats := h.GetStats()
	if stats.PoolBytesByClass[class32] < n*32 {
		t.Fatalf("pool class 32 bytes = %d, want >= %d", stats.PoolBytesByClass[class32], n*32)
	}
	for _, c := range stats.PoolBytesByClass {
		_ = c
	}
	if stats.BytesAllocated == 0 {
		t.Fatalf("BytesAllocated = 0 after 100 allocations")
	}

	for _, p := range ptrs {
		h.Free(p)
	}
	before := h.GetStats().PoolBytesByClass[class32]

	for i := range ptrs {
		ptrs[i] = h.Allocate(payload)
	}
	after := h.GetStats().PoolBytesByClass[class32]

	if before != after {
		t.Fatalf("pool class 32 bytes grew on reuse: before=%d after=%d", before, after)
	}
}

func TestGeneralHeapUsedForOversizedPayload(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	h.Disable()
	p := h.Allocate(1024)
	hdr := h.headerOf[p]
	if hdr.pooled {
		t.Fatalf("a 1024-byte allocation was served from a pool")
	}
}

func TestCollectIsIdempotent(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	p := h.Allocate(8)
	h.AddRoot(p)

	h.Collect()
	before := h.GetStats().LiveObjects

	h.Collect()
	after := h.GetStats().LiveObjects

	if before != after {
		t.Fatalf("second collect changed live count: before=%d after=%d", before, after)
	}
}

func TestAddRootRemoveRootRestoresSet(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	r1 := unsafe.Pointer(new(int))
	r2 := unsafe.Pointer(new(int))

	h.AddRoot(r1)
	h.AddRoot(r2)
	h.AddRoot(r1) // duplicate

	h.RemoveRoot(r1)

	count := 0
	for _, r := range h.roots {
		if r == r1 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("removing one duplicate left %d copies of r1, want 1", count)
	}
}

func TestForceCollectRestoresEnabledState(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	h.Disable()
	h.ForceCollect()
	if h.enabled {
		t.Fatalf("ForceCollect left GC enabled after starting disabled")
	}
}

func TestDisableSkipsImplicitCollection(t *testing.T) {
	h := NewGCHeap(NewRegistry())
	h.Disable()
	h.threshold = 1 // tiny threshold, would normally trigger

	p := h.Allocate(64)
	h.AddRoot(p)
	unreachable := h.Allocate(64) // would be collected if GC ran
	h.AddRoot(unreachable)
	h.RemoveRoot(unreachable)

	if stats := h.GetStats(); stats.LiveObjects != 2 {
		t.Fatalf("LiveObjects = %d, want 2 (disabled GC must not sweep)", stats.LiveObjects)
	}
}

func TestNextThresholdRespectsMinimum(t *testing.T) {
	if got := nextThreshold(0); got != gcMinThreshold {
		t.Fatalf("nextThreshold(0) = %d, want %d", got, gcMinThreshold)
	}
	big := uint64(10 * gcMinThreshold)
	if got := nextThreshold(big); got != uint64(float64(big)*gcGrowthFactor) {
		t.Fatalf("nextThreshold(%d) = %d, want %d", big, got, uint64(float64(big)*gcGrowthFactor))
	}
}
