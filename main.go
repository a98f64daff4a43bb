package main

import (
	"flag"
	"fmt"
	"os"
	"unsafe"

	"rubolt/pkg/memory"
)

var (
	scenarioFlag = flag.String("scenario", "all", "end-to-end scenario to run (simple-trace, unreachable, pooled, rc-release, cycle, cycle-external, invalid-pointer, all)")
	verboseFlag  = flag.Bool("v", false, "print subsystem statistics after each scenario")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "rubolt-memcore - demo driver for the Rubolt memory management core\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                           # run every scenario\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -scenario cycle -v        # run one scenario, verbose\n", os.Args[0])
	}
	flag.Parse()

	scenarios := map[string]func(bool){
		"simple-trace":    scenarioSimpleTrace,
		"unreachable":     scenarioUnreachableChain,
		"pooled":          scenarioPooledAllocation,
		"rc-release":      scenarioDeterministicRelease,
		"cycle":           scenarioCycleCollection,
		"cycle-external":  scenarioCycleKeptAlive,
		"invalid-pointer": scenarioInvalidPointer,
	}
	order := []string{
		"simple-trace", "unreachable", "pooled", "rc-release",
		"cycle", "cycle-external", "invalid-pointer",
	}

	if *scenarioFlag == "all" {
		for _, name := range order {
			fmt.Printf("=== %s ===\n", name)
			scenarios[name](*verboseFlag)
			fmt.Println()
		}
		return
	}

	fn, ok := scenarios[*scenarioFlag]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", *scenarioFlag)
		flag.Usage()
		os.Exit(1)
	}
	fn(*verboseFlag)
}

// nodeType models a singly-linked object with one outgoing pointer field,
// shared by the tracing-allocator scenarios (spec.md §8 scenarios 1-2).
// Self-referential: its one pointer field targets its own descriptor
// (spec.md §4.1 "back-patching").
var nodeType = newSelfLinkedType("node")

// cycleNodeType is the RC-side counterpart used to build the A->B->C->A
// cycles of spec.md §8 scenarios 5-6.
var cycleNodeType = newSelfLinkedType("cycle_node")

func newSelfLinkedType(name string) *memory.TypeDescriptor {
	t := &memory.TypeDescriptor{
		Name:   name,
		Size:   unsafe.Sizeof(unsafe.Pointer(nil)),
		Fields: []memory.FieldDescriptor{memory.PointerField("next", 0, nil)},
	}
	t.Fields[0].Target = t
	return t
}

func scenarioSimpleTrace(v bool) {
	registry := memory.NewRegistry()
	registry.Register(nodeType)
	heap := memory.NewGCHeap(registry)

	a := heap.AllocateTyped(nodeType.Size, nodeType)
	b := heap.AllocateTyped(nodeType.Size, nodeType)
	memory.WritePointerField(a, 0, b)

	scope := heap.EnterRootScope(nil)
	scope.Add(a)
	defer scope.Close()

	heap.ForceCollect()
	stats := heap.GetStats()
	fmt.Printf("live objects: %d (expect 2)\n", stats.LiveObjects)
	if v {
		dumpGCStats(stats)
	}
}

func scenarioUnreachableChain(v bool) {
	registry := memory.NewRegistry()
	registry.Register(nodeType)
	heap := memory.NewGCHeap(registry)

	a := heap.AllocateTyped(nodeType.Size, nodeType)
	b := heap.AllocateTyped(nodeType.Size, nodeType)
	memory.WritePointerField(a, 0, b)

	heap.ForceCollect()
	stats := heap.GetStats()
	fmt.Printf("live objects: %d (expect 0)\n", stats.LiveObjects)
	if v {
		dumpGCStats(stats)
	}
}

func scenarioPooledAllocation(v bool) {
	heap := memory.NewGCHeap(memory.NewRegistry())
	heap.Disable()

	const payload = 24
	const class32 = 2 // sizeClasses index for 32 bytes
	ptrs := make([]unsafe.Pointer, 100)
	for i := range ptrs {
		ptrs[i] = heap.Allocate(payload)
	}
	stats := heap.GetStats()
	fmt.Printf("pool class 32 bytes: %d (expect >= 3200)\n", stats.PoolBytesByClass[class32])

	before := stats.PoolBytesByClass[class32]
	for _, p := range ptrs {
		heap.Free(p)
	}
	for i := range ptrs {
		ptrs[i] = heap.Allocate(payload)
	}
	after := heap.GetStats().PoolBytesByClass[class32]
	fmt.Printf("pool class 32 bytes unchanged after reuse: %v (before=%d after=%d)\n", before == after, before, after)
	if v {
		dumpGCStats(heap.GetStats())
	}
}

func scenarioDeterministicRelease(v bool) {
	rcm := memory.NewRCManager(memory.NewRegistry())
	var log []int

	mkDestructor := func(id int) func(unsafe.Pointer) {
		return func(unsafe.Pointer) { log = append(log, id) }
	}

	o1 := rcm.New(0, mkDestructor(1))
	o2 := rcm.New(0, mkDestructor(2))
	o3 := rcm.New(0, mkDestructor(3))

	rcm.Release(o3)
	rcm.Release(o2)
	rcm.Release(o1)

	fmt.Printf("destruction order: %v (expect [3 2 1])\n", log)
	if v {
		dumpRCStats(rcm.GetStats(), rcm.GetCycleStats())
	}
}

func buildCycle(rcm *memory.RCManager) (a, b, c *memory.RCObject) {
	a = rcm.NewTyped(cycleNodeType.Size, cycleNodeType, nil)
	b = rcm.NewTyped(cycleNodeType.Size, cycleNodeType, nil)
	c = rcm.NewTyped(cycleNodeType.Size, cycleNodeType, nil)

	memory.WritePointerField(a.Payload(), 0, b.Handle())
	memory.WritePointerField(b.Payload(), 0, c.Handle())
	memory.WritePointerField(c.Payload(), 0, a.Handle())

	rcm.Retain(a)
	rcm.Retain(b)
	rcm.Retain(c)
	return a, b, c
}

func scenarioCycleCollection(v bool) {
	rcm := memory.NewRCManager(memory.NewRegistry())
	a, b, c := buildCycle(rcm)

	// Drop the external reference each member started with; only the
	// cycle's own internal refs keep strong counts positive now.
	rcm.Release(a)
	rcm.Release(b)
	rcm.Release(c)

	freed := rcm.CollectCycles()
	cstats := rcm.GetCycleStats()
	fmt.Printf("objects freed: %d (expect 3); cycles_detected=%d cycles_collected=%d\n", freed, cstats.CyclesDetected, cstats.CyclesCollected)
	if v {
		dumpRCStats(rcm.GetStats(), cstats)
	}
}

func scenarioCycleKeptAlive(v bool) {
	rcm := memory.NewRCManager(memory.NewRegistry())
	a, b, c := buildCycle(rcm)

	rcm.Retain(a) // kept alive externally
	rcm.Release(a)
	rcm.Release(b)
	rcm.Release(c)

	freed := rcm.CollectCycles()
	fmt.Printf("objects freed: %d (expect 0)\n", freed)
	if v {
		dumpRCStats(rcm.GetStats(), rcm.GetCycleStats())
	}
}

func scenarioInvalidPointer(v bool) {
	registry := memory.NewRegistry()
	registry.Register(nodeType)
	heap := memory.NewGCHeap(registry)
	rcm := memory.NewRCManager(registry)

	gcPtr := heap.AllocateTyped(nodeType.Size, nodeType)
	_, ok := rcm.IsValidObject(gcPtr)
	fmt.Printf("is_valid_object(gc pointer): %v (expect false)\n", ok)
	if v {
		dumpRCStats(rcm.GetStats(), rcm.GetCycleStats())
	}
}

func dumpGCStats(s memory.GCStats) {
	fmt.Printf("  bytes_allocated=%d live_objects=%d next_threshold=%d pointers_traversable=%d\n",
		s.BytesAllocated, s.LiveObjects, s.NextThreshold, s.PointersTraversable)
	fmt.Printf("  pool_bytes_by_class=%v\n", s.PoolBytesByClass)
}

func dumpRCStats(s memory.RCStats, c memory.CycleStats) {
	fmt.Printf("  total_objects=%d total_strong=%d\n", s.TotalObjects, s.TotalStrong)
	fmt.Printf("  buffer_size=%d cycles_detected=%d cycles_collected=%d typed_candidates=%d\n",
		c.BufferSize, c.CyclesDetected, c.CyclesCollected, c.TypedCandidates)
}
