package gc

import (
	"reflect"
	"sync"
	"unsafe"
)

// The collector is precise: it only ever follows registered managed
// pointers. New discovers where those live in a Go type with reflection,
// once per type, so that interior handles register automatically the way a
// constructor-run language does it.

var ptrType = reflect.TypeOf(Ptr{})

var layoutCache sync.Map // reflect.Type -> layout

type layout struct {
	size    uintptr
	ptrOffs []uintptr
}

func layoutOf(t reflect.Type) layout {
	if l, ok := layoutCache.Load(t); ok {
		return l.(layout)
	}
	l := layout{size: t.Size()}
	collectPtrOffsets(t, 0, &l.ptrOffs)
	layoutCache.Store(t, l)
	return l
}

func collectPtrOffsets(t reflect.Type, base uintptr, offs *[]uintptr) {
	switch t.Kind() {
	case reflect.Struct:
		if t == ptrType {
			*offs = append(*offs, base)
			return
		}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			collectPtrOffsets(f.Type, base+f.Offset, offs)
		}
	case reflect.Array:
		elem := t.Elem()
		for i := 0; i < t.Len(); i++ {
			collectPtrOffsets(elem, base+uintptr(i)*elem.Size(), offs)
		}
	case reflect.Pointer, reflect.UnsafePointer, reflect.String, reflect.Slice,
		reflect.Map, reflect.Chan, reflect.Interface, reflect.Func:
		// The arena is opaque to Go's own collector; a native reference
		// stored there would not keep its target alive.
		panic("gc: type " + t.String() + " cannot be stored in a managed object; use gc.Ref for references")
	}
}

// Finalizer is implemented by managed object types that need cleanup when
// they are reclaimed. New registers it automatically. The restrictions on
// finalizers from SetFinalizer apply.
type Finalizer interface {
	Finalize()
}

// New allocates a zeroed T in the arena and registers every Ref (or bare
// Ptr) field, however deeply nested, as an interior pointer of the new
// object. If *T implements Finalizer it is registered as the object's
// finalizer. Returns nil when the heap is exhausted.
//
// T must not contain Go-native reference types (pointers, slices, maps,
// strings, ...); New panics on such types.
func New[T any]() *T {
	l := layoutOf(reflect.TypeOf((*T)(nil)).Elem())

	ensureInit()
	lock()
	defer unlock()

	mem := alloc(l.size)
	if mem == nil {
		return nil
	}
	for _, off := range l.ptrOffs {
		register((*Ptr)(unsafe.Add(mem, off)))
	}
	if _, ok := any((*T)(nil)).(Finalizer); ok {
		blockOf(mem).finalize = func(p unsafe.Pointer) {
			any((*T)(p)).(Finalizer).Finalize()
		}
	}
	return (*T)(mem)
}

// Ref is a typed managed pointer. It has the same two-word representation
// as Ptr, so it can be a field of a managed object; declared anywhere else
// it registers as a root. Like Ptr it must be registered with Init exactly
// once (New does this for fields of managed objects).
type Ref[T any] struct {
	Ptr
}

// Get returns the referent, which may be nil.
func (r *Ref[T]) Get() *T {
	return (*T)(r.Ptr.Get())
}

// Set points the handle at v, adopting the object as with Ptr.Set.
func (r *Ref[T]) Set(v *T) {
	r.Ptr.Set(unsafe.Pointer(v))
}

// Assign copies the referent of q into r.
func (r *Ref[T]) Assign(q *Ref[T]) {
	r.Ptr.Assign(&q.Ptr)
}

// NewRef allocates and registers a typed root handle.
func NewRef[T any]() *Ref[T] {
	r := new(Ref[T])
	r.Init()
	return r
}
