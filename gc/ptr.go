package gc

import (
	"unsafe"

	"github.com/pmlopes/gogc/diagnostics"
)

// Ptr is a managed pointer: a two-word handle holding the raw payload
// address plus a packed word with a root/interior flag and either the
// handle's slot in the root pool or the link to the next interior pointer
// of the owning object.
//
// A Ptr must be registered exactly once with Init before use, must not be
// copied by value (use Assign), and, when registered as a root, must be
// unregistered with Release before its storage goes away.
type Ptr struct {
	noCopy noCopy

	object unsafe.Pointer
	meta   uintptr // index<<1 | root
}

// noCopy triggers go vet's copylocks check on by-value copies.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

func (p *Ptr) index() uintptr { return p.meta >> 1 }
func (p *Ptr) isRoot() bool   { return p.meta&1 != 0 }

func (p *Ptr) setMeta(index uintptr, root bool) {
	p.meta = index << 1
	if root {
		p.meta |= 1
	}
}

// Init registers the handle. A handle whose own storage lies inside some
// live arena object becomes an interior pointer of that object; any other
// handle takes a slot in the root pool. The handle starts out nil.
func (p *Ptr) Init() {
	ensureInit()
	lock()
	defer unlock()
	p.object = nil
	register(p)
}

func register(p *Ptr) {
	addr := uintptr(unsafe.Pointer(p))
	if addr >= arenaStart && addr < arenaEnd {
		// Interior pointer. Scan the table newest-first: at registration
		// time the containing object is the most recently allocated locked
		// block.
		for i := numBlocks - 1; i >= 0; i-- {
			b := &blocks[i]
			if addr >= b.object && addr < b.object+b.size {
				p.setMeta(b.ptrs, false)
				b.ptrs = chainLink(b, p)
				return
			}
		}
		fatal(diagnostics.Diagnostic{
			Kind: diagnostics.KindInvalidInterior,
			Msg:  "interior pointer is not contained in any live object",
		})
	}
	addRoot(p)
}

// Get returns the raw payload address, which may be nil. The address stays
// valid across collections as long as the handle keeps the object
// reachable; it is refreshed in place whenever the object moves.
//
// Get does not take the heap lock. When another goroutine may trigger a
// collection, the returned address can go stale before it is used; callers
// in that position must provide their own serialization. Assigning a
// freshly allocated object is always safe: it stays pinned until a handle
// adopts it.
func (p *Ptr) Get() unsafe.Pointer {
	return p.object
}

// Set points the handle at a payload address obtained from Alloc (or nil).
// A non-nil assignment adopts the object: its allocation-time pin is
// released and reachability through handles takes over keeping it alive.
func (p *Ptr) Set(obj unsafe.Pointer) {
	ensureInit()
	lock()
	defer unlock()
	if obj == p.object {
		return
	}
	p.object = obj
	if obj != nil {
		unlockBlock(obj)
	}
}

// Assign copies the referent of q into p. Registration state of both
// handles is untouched.
func (p *Ptr) Assign(q *Ptr) {
	ensureInit()
	lock()
	defer unlock()
	p.object = q.object
}

// Release unregisters the handle. For a root the pool node is recycled; an
// interior handle only drops its referent, since its chain dies with the
// owning object. Releasing twice is harmless.
func (p *Ptr) Release() {
	ensureInit()
	lock()
	defer unlock()
	if p.isRoot() {
		delRoot(p)
		p.meta = 0
	}
	p.object = nil
}

// NewRoot allocates a fresh root handle outside the arena and registers it.
func NewRoot() *Ptr {
	p := new(Ptr)
	p.Init()
	return p
}
