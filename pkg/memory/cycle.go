package memory

import "unsafe"

// Tri-color cycle collector over the RC candidate buffer (spec.md §4.3
// "Cycle detection (tri-color)").
//
// Grounded on two teacher files at once: symmetric.go supplies the
// external/internal reference-count split this phase is built on
// (ExternalRC/InternalRC, symmetricCheckFree's "orphaned when external
// hits zero" rule) — here strong-internalRef plays the role of that
// prototype's ExternalRC, computed once per collection pass rather than
// maintained incrementally, since spec.md §4.3 computes it once per
// collect_cycles call. scc.go supplies the graph-traversal shape (a
// Tarjan-flavored DFS over a candidate set) — reimplemented directly as
// the white→gray→black walk spec.md §4.3 specifies, rather than through
// scc.go's C-code-generation indirection; there is no code generation
// anywhere in this spec's contract.

// CollectCycles runs one cycle-collection pass over the candidate buffer
// and returns the number of objects reclaimed. Returns 0 immediately if
// cycle detection is disabled or the buffer is empty (spec.md §4.3, §8
// boundary behavior).
func (m *RCManager) CollectCycles() int {
	if !m.cycleDetection {
		return 0
	}

	candidates := m.snapshotBuffer()
	if len(candidates) == 0 {
		return 0
	}

	m.resetCandidates(candidates)
	m.countInternalRefs(candidates)
	m.markExternallyReachable(candidates)
	freed := m.scanAndCollect(candidates)

	// Phase 2 may have counted into any live object a candidate points at;
	// clear the scratch counts so they are zero between passes.
	m.mu.Lock()
	for cur := m.regHead; cur != nil; cur = cur.regNext {
		cur.internalRef = 0
	}
	m.mu.Unlock()
	return freed
}

// snapshotBuffer copies the current candidate buffer into a slice so the
// three analysis phases iterate over a stable set even though
// scanAndCollect will mutate the live buffer.
func (m *RCManager) snapshotBuffer() []*RCObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RCObject, 0, m.bufferCount)
	for cur := m.bufferHead; cur != nil; cur = cur.bufferNext {
		out = append(out, cur)
	}
	return out
}

// Phase 1: reset (spec.md §4.3 step 1).
func (m *RCManager) resetCandidates(candidates []*RCObject) {
	for _, c := range candidates {
		c.internalRef = 0
		c.color = colorWhite
		c.scanned = false
	}
}

// Phase 2: count internal references (spec.md §4.3 step 2). For every
// candidate carrying a pointer-bearing type descriptor, traverse its
// pointer fields; for each pointer that validates as a genuine RC object
// other than the current one, increment that target's internal-ref-count.
// After this pass, strong−internalRef is the number of references to a
// candidate coming from outside the candidate set.
func (m *RCManager) countInternalRefs(candidates []*RCObject) {
	for _, c := range candidates {
		if c.descriptor == nil || !c.descriptor.HasPointers() {
			continue
		}
		c.descriptor.Traverse(c.payload, func(_ unsafe.Pointer, pointerValue unsafe.Pointer, _ interface{}) {
			target, ok := m.IsValidObject(pointerValue)
			if !ok || target == c {
				return
			}
			target.internalRef++
		}, nil)
	}
}

// Phase 3: mark externally-reachable (spec.md §4.3 step 3). Every
// candidate whose strong count exceeds its internal-reference count has at
// least one reference from outside the candidate set (a root, the host
// stack, a non-candidate live RC object, or a GC-heap reference) and is
// therefore kept alive; a depth-first walk over its validated pointer
// fields marks everything transitively reachable from it black.
func (m *RCManager) markExternallyReachable(candidates []*RCObject) {
	for _, c := range candidates {
		if c.strong-c.internalRef > 0 {
			m.markBlack(c)
		}
	}
}

func (m *RCManager) markBlack(obj *RCObject) {
	if obj.color == colorBlack {
		return
	}
	obj.color = colorBlack
	obj.scanned = true
	if obj.descriptor == nil || !obj.descriptor.HasPointers() {
		return
	}
	obj.descriptor.Traverse(obj.payload, func(_ unsafe.Pointer, pointerValue unsafe.Pointer, _ interface{}) {
		target, ok := m.IsValidObject(pointerValue)
		if !ok || target == obj || target.color != colorWhite {
			return
		}
		target.color = colorGray
		m.markBlack(target)
	}, nil)
}

// Phase 4: scan and collect (spec.md §4.3 step 4). Any candidate still
// white with a positive strong count is unreachable except from its own
// cycle peers: unlink it from the candidate buffer and the global
// registry, destroy its payload, and free its record. Survivors (marked
// black or gray) stay in the buffer — spec.md §4.3's conservative policy —
// to be re-scanned on a future collection rather than speculatively
// removed now.
func (m *RCManager) scanAndCollect(candidates []*RCObject) int {
	var garbage []*RCObject
	for _, c := range candidates {
		if c.color == colorWhite && c.strong > 0 {
			garbage = append(garbage, c)
		}
	}

	for range garbage {
		m.cycleStats.CyclesDetected++
	}

	m.mu.Lock()
	for _, c := range garbage {
		m.removeCandidateLocked(c)
		m.unlinkRegistryLocked(c)
		m.stats.TotalObjects--
		if m.stats.TotalStrong >= c.strong {
			m.stats.TotalStrong -= c.strong
		} else {
			m.stats.TotalStrong = 0
		}
	}
	m.mu.Unlock()

	for _, c := range garbage {
		if c.destructor != nil {
			c.destructor(c.payload)
		}
		c.payload = nil
		c.sentinel = rcMagicDead
		m.cycleStats.CyclesCollected++
	}

	return len(garbage)
}

// GetCycleStats reports the cycle collector's cumulative and current state
// (spec.md §4.3 "Statistics").
func (m *RCManager) GetCycleStats() CycleStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.cycleStats
	stats.BufferSize = m.bufferCount
	for cur := m.bufferHead; cur != nil; cur = cur.bufferNext {
		if cur.descriptor != nil && cur.descriptor.HasPointers() {
			stats.TypedCandidates++
		}
	}
	return stats
}
