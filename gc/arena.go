package gc

import (
	"unsafe"

	"github.com/pmlopes/gogc/diagnostics"
)

// block describes one live allocation.
type block struct {
	object    uintptr // current payload address
	newObject uintptr // payload address after the in-flight compaction
	ptrs      uintptr // chain head: block-relative offset of the first interior Ptr, 0 = none
	size      uintptr // payload bytes, excluding the prefix word

	markPhase   uintptr
	adjustPhase uintptr
	locked      bool // pinned until some handle adopts the object
	deleted     bool // explicitly freed, storage reclaimed next cycle

	// finalize runs exactly once when the block is reclaimed, standing in
	// for a destructor. May be nil.
	finalize func(unsafe.Pointer)
}

// Interior chain links are offsets from the block's prefix word rather than
// from the payload, so that a handle sitting at payload offset 0 does not
// collide with the 0 chain terminator.
func (b *block) chainPtr(link uintptr) *Ptr {
	return (*Ptr)(unsafe.Pointer(b.object - wordSize + link))
}

func chainLink(b *block, p *Ptr) uintptr {
	return uintptr(unsafe.Pointer(p)) - b.object + wordSize
}

// blockOf resolves a payload address to its descriptor through the prefix
// word.
func blockOf(p unsafe.Pointer) *block {
	idx := *(*uintptr)(unsafe.Add(p, -int(wordSize)))
	if gcAsserts && idx >= uintptr(numBlocks) {
		fatal(diagnostics.Diagnostic{
			Kind: diagnostics.KindCorruption,
			Msg:  "payload prefix does not name a live block",
		})
	}
	return &blocks[idx]
}

// Alloc carves size bytes out of the arena and returns the payload address,
// aligned to 8 bytes and zeroed. The new object is pinned until a handle
// adopts it (see Ptr.Set). Returns nil when neither the block table nor the
// arena can satisfy the request even after a collection.
func Alloc(size uintptr) unsafe.Pointer {
	ensureInit()
	lock()
	defer unlock()
	return alloc(size)
}

func alloc(size uintptr) unsafe.Pointer {
	if numBlocks == len(blocks) {
		collect()
		if numBlocks == len(blocks) {
			return nil
		}
	}

	asize := align8(size + wordSize)

	if freeIndex+asize > uintptr(len(arena)) {
		collect()
		if freeIndex+asize > uintptr(len(arena)) {
			return nil
		}
	}

	base := arenaStart + freeIndex
	freeIndex += asize
	allocSize += asize

	b := &blocks[numBlocks]
	b.object = base + wordSize
	b.newObject = 0
	b.ptrs = 0
	b.size = asize - wordSize
	b.markPhase = phase
	b.adjustPhase = phase
	b.locked = true
	b.deleted = false
	b.finalize = nil

	*(*uintptr)(unsafe.Pointer(base)) = uintptr(numBlocks)
	numBlocks++

	heapMallocs++
	totalAlloc += uint64(size)

	// The arena recycles addresses across collections, so the payload must
	// be cleared before it is handed out as a fresh object.
	off := base + wordSize - arenaStart
	clear(arena[off : off+b.size])

	if gcDebug {
		println("gc: alloc", size, "->", b.object, "block", numBlocks-1)
	}
	return unsafe.Pointer(b.object)
}

// Free marks the object as deleted. Its storage is reclaimed, and its
// finalizer (if any) runs, at the next collection. Freeing the same object
// twice is harmless; passing an address that did not come from Alloc is
// undefined behavior.
func Free(p unsafe.Pointer) {
	ensureInit()
	lock()
	defer unlock()
	blockOf(p).deleted = true
}

// SetFinalizer attaches fin to the object at p. It is invoked with the
// payload address exactly once, when the object is reclaimed or at
// Teardown. An object passed to Free is finalized only by a collection;
// Teardown does not finalize freed objects that no collection has reclaimed
// yet. A finalizer runs with the heap lock held and must not allocate
// managed memory or touch managed pointers other than its own object's;
// by the time it runs, objects it references may already have been
// relocated or reclaimed.
func SetFinalizer(p unsafe.Pointer, fin func(unsafe.Pointer)) {
	ensureInit()
	lock()
	defer unlock()
	blockOf(p).finalize = fin
}

func unlockBlock(p unsafe.Pointer) {
	blockOf(p).locked = false
}
