// Package refcount provides intrusive reference counting, the simple
// alternative to the tracing collector for object graphs that are known to
// be acyclic. Types embed Counted and are held through Ref handles; when
// the last handle lets go, the object's Destroy hook (if any) runs and the
// memory is left to the ordinary Go collector.
package refcount

import "sync/atomic"

// Counted is the intrusive counter. Embed it as a field of any type that
// should be reference counted. The zero value is a count of zero.
type Counted struct {
	refs atomic.Int32
}

// Grab takes one reference.
func (c *Counted) Grab() {
	c.refs.Add(1)
}

// Release drops one reference and reports whether it was the last.
func (c *Counted) Release() bool {
	n := c.refs.Add(-1)
	if n < 0 {
		panic("refcount: release of an object with no references")
	}
	return n == 0
}

// Refs returns the current reference count.
func (c *Counted) Refs() int32 {
	return c.refs.Load()
}

// Destroyer is implemented by counted types that need cleanup when the last
// reference goes away.
type Destroyer interface {
	Destroy()
}

type counted interface {
	comparable
	Grab()
	Release() bool
}

// Ref is a counting handle for a pointer type that embeds Counted, e.g.
// Ref[*Node]. The zero value holds nothing. Handles may be copied freely;
// each copy made with NewRef or Assign owns one reference.
type Ref[T counted] struct {
	obj T
}

// NewRef returns a handle owning one reference to obj.
func NewRef[T counted](obj T) Ref[T] {
	var r Ref[T]
	r.Set(obj)
	return r
}

// Get returns the held object, which may be the zero value.
func (r *Ref[T]) Get() T {
	return r.obj
}

// Set replaces the held object, grabbing the new one before releasing the
// old so that self-assignment is safe.
func (r *Ref[T]) Set(obj T) {
	var zero T
	if obj != zero {
		obj.Grab()
	}
	if r.obj != zero {
		release(r.obj)
	}
	r.obj = obj
}

// Assign makes r hold the same object as other, with its own reference.
func (r *Ref[T]) Assign(other *Ref[T]) {
	r.Set(other.obj)
}

// Close drops the held reference. The handle is empty afterwards and can be
// reused.
func (r *Ref[T]) Close() {
	var zero T
	r.Set(zero)
}

func release[T counted](obj T) {
	if obj.Release() {
		if d, ok := any(obj).(Destroyer); ok {
			d.Destroy()
		}
	}
}
