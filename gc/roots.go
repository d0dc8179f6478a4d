package gc

import "github.com/pmlopes/gogc/diagnostics"

// The root pool is one array of nodes threaded into a doubly linked list.
// Node 0 is a sentinel. At initialization the whole pool forms the free
// list; taking a node moves rootFree forward, so the nodes between the
// sentinel and rootFree are exactly the live roots and can be walked
// backwards from roots[rootFree].prev until the sentinel. Released nodes
// go on a separate recycle list (linked through next, terminated by 0)
// that is spliced back in front of the free cursor when the free list
// runs out.
type rootNode struct {
	prev, next uintptr
	ptr        *Ptr
}

func initRoots(max int) {
	roots = make([]rootNode, max)
	roots[0].prev = 0
	roots[0].next = 1
	for i := 1; i < max-1; i++ {
		roots[i].prev = uintptr(i - 1)
		roots[i].next = uintptr(i + 1)
	}
	roots[max-1].prev = uintptr(max - 2)
	roots[max-1].next = 0
	rootFree = 1
	rootDeleted = 0
}

func addRoot(p *Ptr) {
	p.setMeta(rootFree, true)
	roots[rootFree].ptr = p
	rootFree = roots[rootFree].next

	if rootFree == 0 {
		// Free list exhausted. Splice the recycle list right after the
		// node just taken so allocation can keep walking next links.
		if rootDeleted == 0 {
			fatal(diagnostics.Diagnostic{
				Kind: diagnostics.KindOutOfRoots,
				Msg:  "out of root set memory",
			})
		}
		roots[rootDeleted].prev = p.index()
		roots[p.index()].next = rootDeleted
		rootFree = rootDeleted
		rootDeleted = 0
	}
}

func delRoot(p *Ptr) {
	i := p.index()
	roots[roots[i].prev].next = roots[i].next
	roots[roots[i].next].prev = roots[i].prev

	roots[rootDeleted].prev = i
	roots[i].next = rootDeleted
	rootDeleted = i
	roots[i].ptr = nil
}

// eachRoot walks the live roots, most recently registered first.
func eachRoot(fn func(*Ptr)) {
	for i := roots[rootFree].prev; i != 0; i = roots[i].prev {
		fn(roots[i].ptr)
	}
}
