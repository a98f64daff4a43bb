package memory

import (
	"testing"
	"unsafe"
)

func TestNewObjectStartsWithStrongOneWeakZero(t *testing.T) {
	m := NewRCManager(NewRegistry())
	o := m.New(0, nil)
	if got := m.GetCount(o); got != 1 {
		t.Fatalf("GetCount = %d, want 1", got)
	}
	if o.weak != 0 {
		t.Fatalf("weak = %d, want 0", o.weak)
	}
	if o.sentinel != rcMagicLive {
		t.Fatalf("sentinel not stamped live at construction")
	}
}

func TestRetainReleaseRoundTripIsNoop(t *testing.T) {
	m := NewRCManager(NewRegistry())
	o := m.New(0, nil)

	before := m.GetStats()
	m.Retain(o)
	m.Release(o)
	after := m.GetStats()

	if before != after {
		t.Fatalf("retain;release changed stats: before=%+v after=%+v", before, after)
	}
	if got := m.GetCount(o); got != 1 {
		t.Fatalf("GetCount after retain;release = %d, want 1", got)
	}
}

func TestDeterministicReleaseOrder(t *testing.T) {
	m := NewRCManager(NewRegistry())
	var log []int
	mk := func(id int) func(unsafe.Pointer) {
		return func(unsafe.Pointer) { log = append(log, id) }
	}

	o1 := m.New(0, mk(1))
	o2 := m.New(0, mk(2))
	o3 := m.New(0, mk(3))

	m.Release(o3)
	m.Release(o2)
	m.Release(o1)

	want := []int{3, 2, 1}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
	if m.GetStats().TotalObjects != 0 {
		t.Fatalf("TotalObjects = %d, want 0", m.GetStats().TotalObjects)
	}
}

func TestIsValidObjectAfterDestructionIsFalse(t *testing.T) {
	m := NewRCManager(NewRegistry())
	o := m.New(0, nil)
	handle := o.Handle()

	m.Release(o)

	if _, ok := m.IsValidObject(handle); ok {
		t.Fatalf("IsValidObject true for a destroyed object")
	}
}

func TestIsValidObjectRejectsNil(t *testing.T) {
	m := NewRCManager(NewRegistry())
	if _, ok := m.IsValidObject(nil); ok {
		t.Fatalf("IsValidObject(nil) = true")
	}
}

func TestIsValidObjectRejectsNonMemberWithLiveSentinel(t *testing.T) {
	m1 := NewRCManager(NewRegistry())
	m2 := NewRCManager(NewRegistry())
	o := m1.New(0, nil)

	// o carries a live sentinel but was never registered with m2.
	if _, ok := m2.IsValidObject(o.Handle()); ok {
		t.Fatalf("IsValidObject true for an object from a different manager's registry")
	}
}

func TestWeakLockFailsAfterDestruction(t *testing.T) {
	m := NewRCManager(NewRegistry())
	o := m.New(0, nil)
	w := m.WeakNew(o)

	m.Release(o)

	if _, ok := w.WeakLock(); ok {
		t.Fatalf("WeakLock succeeded after destruction")
	}
}

func TestWeakLockSucceedsWhileStrongPositive(t *testing.T) {
	m := NewRCManager(NewRegistry())
	o := m.New(0, nil)
	w := m.WeakNew(o)

	got, ok := w.WeakLock()
	if !ok || got != o {
		t.Fatalf("WeakLock = %v, %v; want %v, true", got, ok, o)
	}
}

func TestWeakReleaseSafeAfterDestruction(t *testing.T) {
	m := NewRCManager(NewRegistry())
	o := m.New(0, nil)
	w := m.WeakNew(o)

	m.Release(o)
	m.WeakRelease(w) // must not panic or touch freed payload

	if w.target != nil {
		t.Fatalf("WeakRelease left target non-nil")
	}
}

func TestRetainEnqueuesCandidateAtTwo(t *testing.T) {
	m := NewRCManager(NewRegistry())
	o := m.New(0, nil)
	if o.inBuffer {
		t.Fatalf("a freshly created object is already a cycle candidate")
	}
	m.Retain(o)
	if !o.inBuffer {
		t.Fatalf("Retain to strong=2 did not enqueue the object as a cycle candidate")
	}
	m.Release(o)
	m.Release(o)
}

func TestSetCycleDetectionOffSkipsBuffering(t *testing.T) {
	m := NewRCManager(NewRegistry())
	m.SetCycleDetection(false)
	o := m.New(0, nil)
	m.Retain(o)
	if o.inBuffer {
		t.Fatalf("Retain enqueued a candidate while cycle detection is disabled")
	}
	if freed := m.CollectCycles(); freed != 0 {
		t.Fatalf("CollectCycles with detection disabled = %d, want 0", freed)
	}
	m.Release(o)
	m.Release(o)
}

func TestCollectCyclesOnEmptyBufferReturnsZero(t *testing.T) {
	m := NewRCManager(NewRegistry())
	if freed := m.CollectCycles(); freed != 0 {
		t.Fatalf("CollectCycles on empty buffer = %d, want 0", freed)
	}
}

func TestDebugModeRecordsViolation(t *testing.T) {
	m := NewRCManager(NewRegistry())
	m.DebugMode = true
	o := m.New(0, nil)
	m.Release(o)
	m.Release(o) // double release

	if len(m.Violations()) == 0 {
		t.Fatalf("double-release of a destroyed object recorded no violation in debug mode")
	}
}

func TestViolationsEmptyWithoutDebugMode(t *testing.T) {
	m := NewRCManager(NewRegistry())
	o := m.New(0, nil)
	m.Release(o)
	m.Release(o)

	if len(m.Violations()) != 0 {
		t.Fatalf("Violations() non-empty with DebugMode off")
	}
}
