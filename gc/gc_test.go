package gc

import (
	"testing"
	"unsafe"

	"github.com/pmlopes/gogc/diagnostics"
)

// resetHeap reinitializes the heap for one test. Tests in this package
// share the process-wide heap, so they cannot run in parallel.
func resetHeap(t *testing.T, cfg Config) {
	t.Helper()
	Teardown()
	if err := Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(Teardown)
}

func testConfig() Config {
	return Config{
		ArenaBytes:    1 << 20,
		MaxBlocks:     4096,
		MaxRoots:      4096,
		Multithreaded: true,
	}
}

func mustCheckHeap(t *testing.T) {
	t.Helper()
	lock()
	defer unlock()
	if err := checkHeap(); err != nil {
		t.Fatalf("heap invariants violated: %v", err)
	}
}

func TestSingleLiveRoot(t *testing.T) {
	resetHeap(t, testConfig())

	p := Alloc(64)
	if p == nil {
		t.Fatal("Alloc returned nil")
	}
	*(*uint64)(p) = 0xfeedface
	root := NewRoot()
	root.Set(p)

	if freed := Collect(); freed != 0 {
		t.Errorf("Collect freed %d bytes, want 0", freed)
	}
	got := root.Get()
	if got == nil {
		t.Fatal("handle is nil after collection")
	}
	if v := *(*uint64)(got); v != 0xfeedface {
		t.Errorf("payload = %#x, want 0xfeedface", v)
	}
	mustCheckHeap(t)
}

func TestOrphanSweep(t *testing.T) {
	resetHeap(t, testConfig())

	finalized := 0
	p := Alloc(64)
	SetFinalizer(p, func(unsafe.Pointer) { finalized++ })
	root := NewRoot()
	root.Set(p)
	root.Release()

	freed := Collect()
	if want := align8(64 + wordSize); freed != want {
		t.Errorf("Collect freed %d bytes, want %d", freed, want)
	}
	if finalized != 1 {
		t.Errorf("finalizer ran %d times, want 1", finalized)
	}
	if freed := Collect(); freed != 0 {
		t.Errorf("second Collect freed %d bytes, want 0", freed)
	}
	if finalized != 1 {
		t.Errorf("finalizer ran %d times after second collection, want 1", finalized)
	}
	mustCheckHeap(t)
}

var cycleFinalized int

type cyclic struct {
	peer Ref[cyclic]
	id   int64
}

func (c *cyclic) Finalize() { cycleFinalized++ }

func TestCycleReclaimed(t *testing.T) {
	resetHeap(t, testConfig())
	cycleFinalized = 0

	a := New[cyclic]()
	b := New[cyclic]()
	a.peer.Set(b)
	b.peer.Set(a)

	root := NewRef[cyclic]()
	root.Set(a)
	root.Set(nil)

	// Both objects are now unlocked (adopted at least once) and only
	// reference each other.
	freed := Collect()
	want := 2 * align8(unsafe.Sizeof(cyclic{})+wordSize)
	if freed != want {
		t.Errorf("Collect freed %d bytes, want %d", freed, want)
	}
	if cycleFinalized != 2 {
		t.Errorf("finalized %d objects, want 2", cycleFinalized)
	}
	root.Release()
	mustCheckHeap(t)
}

func TestCompaction(t *testing.T) {
	resetHeap(t, Config{
		ArenaBytes:    4 << 20,
		MaxBlocks:     4096,
		MaxRoots:      4096,
		Multithreaded: true,
	})

	const objects = 1000
	const payload = 1024
	asize := align8(payload + wordSize)

	handles := make([]*Ptr, objects)
	for i := 0; i < objects; i++ {
		p := Alloc(payload)
		if p == nil {
			t.Fatalf("Alloc %d returned nil", i)
		}
		*(*uint64)(p) = uint64(i)
		handles[i] = NewRoot()
		handles[i].Set(p)
	}

	// Drop every other object.
	for i := 1; i < objects; i += 2 {
		handles[i].Release()
		handles[i] = nil
	}

	freed := Collect()
	if want := uintptr(objects/2) * asize; freed != want {
		t.Errorf("Collect freed %d bytes, want %d", freed, want)
	}

	// Survivors must be packed at the low end, in order, with contents
	// intact and handles rewritten.
	for k, i := 0, 0; i < objects; i += 2 {
		p := handles[i].Get()
		if p == nil {
			t.Fatalf("survivor %d lost its referent", i)
		}
		wantAddr := arenaStart + uintptr(k)*asize + wordSize
		if uintptr(p) != wantAddr {
			t.Errorf("survivor %d at %#x, want %#x", i, uintptr(p), wantAddr)
		}
		if v := *(*uint64)(p); v != uint64(i) {
			t.Errorf("survivor %d payload = %d, want %d", i, v, i)
		}
		k++
	}

	if freed := Collect(); freed != 0 {
		t.Errorf("second Collect freed %d bytes, want 0", freed)
	}

	var m MemStats
	ReadMemStats(&m)
	if want := uint64(objects/2) * uint64(asize); m.Alloc != want {
		t.Errorf("Alloc stat = %d, want %d", m.Alloc, want)
	}
	if want := m.HeapSys - m.Alloc; m.HeapIdle != want {
		t.Errorf("HeapIdle = %d, want %d (cursor must equal live bytes)", m.HeapIdle, want)
	}
	mustCheckHeap(t)
}

func TestLockedSurvival(t *testing.T) {
	resetHeap(t, testConfig())

	p := Alloc(64)
	if p == nil {
		t.Fatal("Alloc returned nil")
	}
	*(*uint64)(p) = 0xabcd

	// No handle ever adopts the object; the allocation pin keeps it
	// alive and in place.
	if freed := Collect(); freed != 0 {
		t.Errorf("Collect freed %d bytes, want 0", freed)
	}
	if v := *(*uint64)(p); v != 0xabcd {
		t.Errorf("pinned payload = %#x, want 0xabcd", v)
	}

	// The bump cursor must not recycle the pinned block's storage.
	q := Alloc(64)
	if q == nil {
		t.Fatal("Alloc after collection returned nil")
	}
	if q == p {
		t.Error("fresh allocation reused a pinned block's storage")
	}
	mustCheckHeap(t)
}

func TestRootOverflow(t *testing.T) {
	resetHeap(t, Config{
		ArenaBytes:    1 << 16,
		MaxBlocks:     16,
		MaxRoots:      5,
		Multithreaded: true,
	})

	// Four pool nodes past the sentinel. Taking the last free node
	// requires something on the recycle list, so release one handle
	// before the fourth registration.
	r1 := NewRoot()
	r2 := NewRoot()
	r3 := NewRoot()
	_, _ = r1, r3

	r2.Release()
	r4 := NewRoot()
	_ = r4

	// One more with nothing left to recycle must hit the fatal path.
	var got diagnostics.Diagnostic
	oldHook := fatalHook
	fatalHook = func(d diagnostics.Diagnostic) { got = d }
	defer func() {
		fatalHook = oldHook
		if r := recover(); r == nil {
			t.Fatal("registration beyond pool capacity did not abort")
		}
		if got.Kind != diagnostics.KindOutOfRoots {
			t.Errorf("diagnostic kind = %v, want %v", got.Kind, diagnostics.KindOutOfRoots)
		}
	}()
	NewRoot()
}

func TestCollectIdempotent(t *testing.T) {
	resetHeap(t, testConfig())

	root := NewRoot()
	for i := 0; i < 100; i++ {
		root.Set(Alloc(128))
	}
	if freed := Collect(); freed == 0 {
		t.Error("first Collect freed nothing despite garbage")
	}
	if freed := Collect(); freed != 0 {
		t.Errorf("back-to-back Collect freed %d bytes, want 0", freed)
	}
	mustCheckHeap(t)
}

type listNode struct {
	next Ref[listNode]
	val  int64
}

func TestStabilityUnderMotion(t *testing.T) {
	resetHeap(t, testConfig())

	// Build a list, then churn garbage and collect repeatedly; the list
	// must stay intact through every relocation.
	const length = 50
	root := NewRef[listNode]()
	for i := length - 1; i >= 0; i-- {
		n := New[listNode]()
		if n == nil {
			t.Fatal("New returned nil")
		}
		n.val = int64(i)
		n.next.Set(root.Get())
		root.Set(n)
	}

	junk := NewRoot()
	for round := 0; round < 10; round++ {
		for i := 0; i < 200; i++ {
			junk.Set(Alloc(64))
		}
		junk.Set(nil)
		Collect()

		n := root.Get()
		for i := 0; i < length; i++ {
			if n == nil {
				t.Fatalf("round %d: list truncated at %d", round, i)
			}
			if n.val != int64(i) {
				t.Fatalf("round %d: node %d has value %d", round, i, n.val)
			}
			n = n.next.Get()
		}
		if n != nil {
			t.Fatalf("round %d: list longer than %d", round, length)
		}
	}
	mustCheckHeap(t)
}
