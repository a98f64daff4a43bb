package memory

// Per-subsystem statistics structs, one per subsystem rather than one
// shared struct — following the teacher's own convention of a dedicated,
// independently testable stats type per memory strategy
// (MarkSweepGCStats/SymmetricStats/ConstraintStats/GenRefStats).

// GCStats reports the tracing allocator's current state (spec.md §4.2
// "Statistics").
type GCStats struct {
	BytesAllocated       uint64   // total bytes across pools and general heap
	LiveObjects          int      // number of live objects
	NextThreshold        uint64   // bytes_allocated level that triggers the next collection
	PoolBytesByClass     []uint64 // bytes carved from each size class's pool blocks (slots on the free-list included), indexed the same as the class list
	PointersTraversable  int      // sum of pointer-field counts over all typed live objects
}

// RCStats reports the reference counter's current state (spec.md §4.3
// "Statistics").
type RCStats struct {
	TotalObjects int // live RC objects
	TotalStrong  int // sum of strong counts across live objects
}

// CycleStats reports the cycle collector's cumulative and current state
// (spec.md §4.3 "Statistics"). CyclesDetected and CyclesCollected are
// object-level counters (incremented once per candidate found to be cyclic
// garbage, then once per candidate actually reclaimed) rather than
// per-call counters — this matches spec.md §8 scenario 5, where a single
// collect_cycles call over a 3-member cycle is expected to bring both
// counters to at least 3.
type CycleStats struct {
	BufferSize      int   // objects currently in the cycle-candidate buffer
	CyclesDetected  int64 // cumulative count of candidates found to be cyclic garbage
	CyclesCollected int64 // cumulative count of candidates actually reclaimed
	TypedCandidates int   // candidates currently in the buffer with a pointer-bearing type descriptor
}
