package gc

import (
	"reflect"
	"testing"
	"unsafe"
)

type inner struct {
	ref Ref[listNode]
	pad int64
}

type outer struct {
	a    Ptr
	n    int64
	in   inner
	refs [3]Ref[listNode]
}

func TestLayoutOffsets(t *testing.T) {
	l := layoutOf(reflect.TypeOf(outer{}))

	var o outer
	base := uintptr(unsafe.Pointer(&o))
	want := []uintptr{
		uintptr(unsafe.Pointer(&o.a)) - base,
		uintptr(unsafe.Pointer(&o.in.ref)) - base,
		uintptr(unsafe.Pointer(&o.refs[0])) - base,
		uintptr(unsafe.Pointer(&o.refs[1])) - base,
		uintptr(unsafe.Pointer(&o.refs[2])) - base,
	}
	if len(l.ptrOffs) != len(want) {
		t.Fatalf("found %d handle offsets %v, want %d", len(l.ptrOffs), l.ptrOffs, len(want))
	}
	for i, off := range want {
		if l.ptrOffs[i] != off {
			t.Errorf("offset %d = %d, want %d", i, l.ptrOffs[i], off)
		}
	}
	if l.size != unsafe.Sizeof(outer{}) {
		t.Errorf("layout size = %d, want %d", l.size, unsafe.Sizeof(outer{}))
	}
}

func TestLayoutRejectsNativeReferences(t *testing.T) {
	for _, tc := range []struct {
		name string
		fn   func()
	}{
		{"pointer", func() { layoutOf(reflect.TypeOf(struct{ p *int }{})) }},
		{"string", func() { layoutOf(reflect.TypeOf(struct{ s string }{})) }},
		{"slice", func() { layoutOf(reflect.TypeOf(struct{ s []byte }{})) }},
		{"map", func() { layoutOf(reflect.TypeOf(struct{ m map[int]int }{})) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("no panic for a native reference field")
				}
			}()
			tc.fn()
		})
	}
}

func TestNewRegistersInteriorHandles(t *testing.T) {
	resetHeap(t, testConfig())

	o := New[outer]()
	if o == nil {
		t.Fatal("New returned nil")
	}

	// Every handle field must be live in the owning block's chain: point
	// them at distinct objects, churn, and check they all survive and
	// track relocation.
	targets := make([]*listNode, 4)
	for i := range targets {
		targets[i] = New[listNode]()
		targets[i].val = int64(100 + i)
	}
	o.a.Set(unsafe.Pointer(targets[0]))
	o.in.ref.Set(targets[1])
	o.refs[0].Set(targets[2])
	o.refs[2].Set(targets[3])

	root := NewRef[outer]()
	root.Set(o)

	junk := NewRoot()
	for i := 0; i < 50; i++ {
		junk.Set(Alloc(512))
	}
	junk.Set(nil)
	Collect()

	o = root.Get()
	if o == nil {
		t.Fatal("outer object lost")
	}
	if v := (*listNode)(o.a.Get()).val; v != 100 {
		t.Errorf("a.val = %d, want 100", v)
	}
	if v := o.in.ref.Get().val; v != 101 {
		t.Errorf("in.ref.val = %d, want 101", v)
	}
	if v := o.refs[0].Get().val; v != 102 {
		t.Errorf("refs[0].val = %d, want 102", v)
	}
	if o.refs[1].Get() != nil {
		t.Error("refs[1] should be nil")
	}
	if v := o.refs[2].Get().val; v != 103 {
		t.Errorf("refs[2].val = %d, want 103", v)
	}
	root.Release()
	mustCheckHeap(t)
}

type finalized struct {
	val int64
}

var finalizedCount int

func (f *finalized) Finalize() { finalizedCount++ }

func TestNewRegistersFinalizer(t *testing.T) {
	resetHeap(t, testConfig())
	finalizedCount = 0

	root := NewRef[finalized]()
	root.Set(New[finalized]())
	root.Set(nil)

	Collect()
	if finalizedCount != 1 {
		t.Errorf("finalizer ran %d times, want 1", finalizedCount)
	}
	root.Release()
	mustCheckHeap(t)
}
