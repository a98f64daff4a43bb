package memory

import (
	"fmt"
	"sync"
	"unsafe"
)

// Reference Counter (RC) — independently-allocated objects with strong/weak
// counts and deterministic destruction, plus the tri-color cycle collector
// in cycle.go. The core is single-threaded (spec.md §5); the canonical
// RCObject fields below are plain, unsynchronized integers, resolving the
// atomic-vs-plain open question of spec.md §9 in favor of plain. A
// sync.Mutex guards only the RCManager-wide bookkeeping slices (the global
// registry and the candidate buffer), matching the teacher's own use of
// sync around registry-wide state in constraint.go.

// rcSentinel distinguishes a live RC object record from arbitrary memory.
// Grounded on the teacher's genref.go: a live value stamped at
// construction, overwritten with a dead value at destruction, checked
// before any cast of a raw pointer to *RCObject. spec.md §9 resolves the
// historical random-per-object-generation variant in genref.go in favor of
// one fixed live/dead pair of constants.
type rcSentinel uint64

const (
	rcMagicLive rcSentinel = 0xC0FFEE00C0FFEE01
	rcMagicDead rcSentinel = 0
)

// rcColor is the tri-color marking state used only during cycle
// collection (spec.md §3, §4.3).
type rcColor int

const (
	colorWhite rcColor = iota
	colorGray
	colorBlack
)

// RCObject is a stand-alone, independently-allocated record (spec.md §3
// "RC-owned object").
type RCObject struct {
	sentinel rcSentinel

	strong int
	weak   int

	// internalRef is scratch space used only during cycle collection
	// (spec.md §3); it is zero outside of a collect_cycles call.
	internalRef int

	descriptor *TypeDescriptor

	color     rcColor
	scanned   bool
	inBuffer  bool

	bufferNext *RCObject // candidate-buffer intrusive link
	regNext    *RCObject // global-registry intrusive link

	destructor func(payload unsafe.Pointer)
	payload    unsafe.Pointer
}

// Handle returns the address identifying this object to the rest of the
// system: the value a pointer field inside another RC payload must store
// to reference this object, and the value IsValidObject expects. It is
// the RCObject record's own address, not its payload's — unlike the GC
// side (where the host only ever sees a malloc-style payload pointer), the
// RC side's "object" handle the host retains/releases/validates against
// is the record itself, since that is where the sentinel lives.
func (o *RCObject) Handle() unsafe.Pointer {
	return unsafe.Pointer(o)
}

// Payload returns the object's payload pointer.
func (o *RCObject) Payload() unsafe.Pointer {
	return o.payload
}

// WeakRef is a non-owning handle to an RCObject (spec.md §3 "RC weak
// reference").
type WeakRef struct {
	target *RCObject
}

// RCManager owns the global RC object registry and the cycle-candidate
// buffer, and implements the strong/weak protocol of spec.md §4.3.
type RCManager struct {
	registry *Registry

	mu          sync.Mutex
	regHead     *RCObject
	bufferHead  *RCObject
	bufferCount int

	cycleDetection bool

	// DebugMode turns on the contract-violation log (spec.md §7,
	// "fail fast where cheap"). Grounded on the teacher's constraint.go
	// AssertOnError/DebugMode pattern. Off by default. The only violation
	// recorded is a Release of an object whose sentinel is no longer live;
	// with DebugMode off such a Release is ignored silently.
	DebugMode  bool
	violations []string

	stats      RCStats
	cycleStats CycleStats
}

// NewRCManager creates a reference counter sharing the given type
// registry with the tracing allocator. Cycle detection starts enabled.
func NewRCManager(registry *Registry) *RCManager {
	return &RCManager{registry: registry, cycleDetection: true}
}

// Shutdown clears the manager's bookkeeping. It does not invoke
// destructors on any still-live object — that is a host bug the spec
// leaves undefined (spec.md §7).
func (m *RCManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regHead = nil
	m.bufferHead = nil
	m.bufferCount = 0
	m.violations = nil
	m.stats = RCStats{}
	m.cycleStats = CycleStats{}
}

// New creates an untyped RC object with a freshly allocated, zeroed n-byte
// payload (nil when n is 0). Strong count starts at 1, weak at 0 (spec.md
// §4.3 "Create").
func (m *RCManager) New(n uintptr, destructor func(unsafe.Pointer)) *RCObject {
	buf := make([]byte, n)
	var payload unsafe.Pointer
	if n > 0 {
		payload = unsafe.Pointer(&buf[0])
	}
	return m.newObject(payload, nil, destructor)
}

// NewTyped is New plus a type descriptor, so the cycle collector can
// traverse this object's outgoing pointers. A nil destructor falls back to
// t's Destructor.
func (m *RCManager) NewTyped(n uintptr, t *TypeDescriptor, destructor func(unsafe.Pointer)) *RCObject {
	if destructor == nil && t != nil {
		destructor = t.Destructor
	}
	buf := make([]byte, n)
	var payload unsafe.Pointer
	if n > 0 {
		payload = unsafe.Pointer(&buf[0])
	}
	return m.newObject(payload, t, destructor)
}

func (m *RCManager) newObject(payload unsafe.Pointer, t *TypeDescriptor, destructor func(unsafe.Pointer)) *RCObject {
	obj := &RCObject{
		sentinel:   rcMagicLive,
		strong:     1,
		descriptor: t,
		color:      colorWhite,
		destructor: destructor,
		payload:    payload,
	}

	m.mu.Lock()
	obj.regNext = m.regHead
	m.regHead = obj
	m.stats.TotalObjects++
	m.stats.TotalStrong++
	m.mu.Unlock()

	return obj
}

// Retain increments obj's strong count. If cycle detection is enabled and
// the count just became >= 2, obj enters the cycle-candidate buffer unless
// already there — objects with only one referrer cannot participate in a
// cycle unreachable from the outside (spec.md §4.3 "Retain").
func (m *RCManager) Retain(obj *RCObject) {
	if obj == nil {
		return
	}
	obj.strong++

	m.mu.Lock()
	m.stats.TotalStrong++
	m.mu.Unlock()

	if m.cycleDetection && obj.strong >= 2 && !obj.inBuffer {
		m.addCandidate(obj)
	}
}

// Release decrements obj's strong count. On reaching zero: remove obj from
// the cycle-candidate buffer if present, invoke its destructor, stamp the
// dead sentinel, and unlink it from the global registry (spec.md §4.3
// "Release").
//
// A destructor must not itself Retain or Release any RC object — spec.md
// §9 resolves the reentrancy open question by forbidding it. This is a
// documented contract, not dynamically enforced (spec.md §5).
func (m *RCManager) Release(obj *RCObject) {
	if obj == nil {
		return
	}
	if obj.sentinel != rcMagicLive {
		m.violate(fmt.Sprintf("release of already-destroyed object %p", obj))
		return
	}

	obj.strong--

	m.mu.Lock()
	if m.stats.TotalStrong > 0 {
		m.stats.TotalStrong--
	}
	m.mu.Unlock()

	if obj.strong > 0 {
		return
	}

	m.destroy(obj)
}

func (m *RCManager) destroy(obj *RCObject) {
	m.mu.Lock()
	if obj.inBuffer {
		m.removeCandidateLocked(obj)
	}
	m.unlinkRegistryLocked(obj)
	m.stats.TotalObjects--
	m.mu.Unlock()

	if obj.destructor != nil {
		obj.destructor(obj.payload)
	}
	obj.payload = nil
	obj.sentinel = rcMagicDead
}

func (m *RCManager) unlinkRegistryLocked(obj *RCObject) {
	if m.regHead == obj {
		m.regHead = obj.regNext
		obj.regNext = nil
		return
	}
	for cur := m.regHead; cur != nil; cur = cur.regNext {
		if cur.regNext == obj {
			cur.regNext = obj.regNext
			obj.regNext = nil
			return
		}
	}
}

// GetCount returns obj's current strong count.
func (m *RCManager) GetCount(obj *RCObject) int {
	if obj == nil {
		return 0
	}
	return obj.strong
}

// WeakNew allocates a weak handle to obj and increments its weak count
// (spec.md §4.3 "Create weak").
func (m *RCManager) WeakNew(obj *RCObject) *WeakRef {
	if obj == nil {
		return &WeakRef{}
	}
	obj.weak++
	return &WeakRef{target: obj}
}

// WeakLock returns a borrowed pointer to the target if its strong count is
// still positive, or (nil, false) otherwise. Locking does not itself
// retain — the caller must Retain for a persistent strong reference
// (spec.md §4.3 "Lock"). A dead object is detected via the sentinel, not a
// nulled handle — spec.md §4.3 selects this simpler variant explicitly.
func (w *WeakRef) WeakLock() (*RCObject, bool) {
	if w == nil || w.target == nil {
		return nil, false
	}
	if w.target.sentinel != rcMagicLive || w.target.strong <= 0 {
		return nil, false
	}
	return w.target, true
}

// WeakRelease decrements the target's weak count and frees the handle. The
// target object may already be destroyed; that is safe because WeakLock
// checks the sentinel rather than dereferencing payload state (spec.md
// §4.3 "Release weak").
func (m *RCManager) WeakRelease(w *WeakRef) {
	if w == nil || w.target == nil {
		return
	}
	if w.target.weak > 0 {
		w.target.weak--
	}
	w.target = nil
}

// SetCycleDetection enables or disables the cycle-candidate buffer. When
// disabled, Retain never enqueues candidates and CollectCycles is a no-op
// (spec.md §4.3 "Enable/disable cycle detection").
func (m *RCManager) SetCycleDetection(on bool) {
	m.cycleDetection = on
}

// MarkForCycleDetection explicitly adds obj to the cycle-candidate buffer,
// for hosts that want to seed candidates outside the Retain-driven
// heuristic.
func (m *RCManager) MarkForCycleDetection(obj *RCObject) {
	if obj == nil || !m.cycleDetection {
		return
	}
	m.addCandidate(obj)
}

func (m *RCManager) addCandidate(obj *RCObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj.inBuffer {
		return
	}
	obj.inBuffer = true
	obj.bufferNext = m.bufferHead
	m.bufferHead = obj
	m.bufferCount++
}

func (m *RCManager) removeCandidateLocked(obj *RCObject) {
	if !obj.inBuffer {
		return
	}
	obj.inBuffer = false
	if m.bufferHead == obj {
		m.bufferHead = obj.bufferNext
		obj.bufferNext = nil
		m.bufferCount--
		return
	}
	for cur := m.bufferHead; cur != nil; cur = cur.bufferNext {
		if cur.bufferNext == obj {
			cur.bufferNext = obj.bufferNext
			obj.bufferNext = nil
			m.bufferCount--
			return
		}
	}
}

// IsValidObject implements the three-step pointer-validation protocol of
// spec.md §4.3: non-null and word-aligned, live sentinel, and registry
// membership. Only a
// pointer passing all three is treated as a genuine RC object — this
// defeats false positives from uninitialized memory, GC-heap pointers
// whose first word happens to collide with the sentinel, and stale
// addresses. spec.md §9 requires this validation; the unvalidated
// direct-cast variant observed in one teacher-era source is not
// implemented.
func (m *RCManager) IsValidObject(ptr unsafe.Pointer) (*RCObject, bool) {
	if ptr == nil || uintptr(ptr)%unsafe.Alignof(rcSentinel(0)) != 0 {
		return nil, false
	}
	obj := (*RCObject)(ptr)
	if obj.sentinel != rcMagicLive {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for cur := m.regHead; cur != nil; cur = cur.regNext {
		if cur == obj {
			return obj, true
		}
	}
	return nil, false
}

// Violations returns the contract-violation log recorded while DebugMode
// is on (spec.md §7). Empty when DebugMode has never been enabled.
func (m *RCManager) Violations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.violations))
	copy(out, m.violations)
	return out
}

func (m *RCManager) violate(msg string) {
	if !m.DebugMode {
		return
	}
	m.mu.Lock()
	m.violations = append(m.violations, msg)
	m.mu.Unlock()
}

// GetStats reports the reference counter's current state (spec.md §4.3
// "Statistics", the non-cycle portion; see GetCycleStats for the rest).
func (m *RCManager) GetStats() RCStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
