package gc

import "unsafe"

// Collect runs a full collection cycle and returns the number of bytes
// reclaimed. Unreachable objects are finalized, survivors are compacted to
// the low end of the arena and every live handle is rewritten to the new
// addresses.
func Collect() uintptr {
	ensureInit()
	lock()
	defer unlock()
	return collect()
}

func collect() uintptr {
	// Flip the phase so last cycle's mark and adjust tags go stale without
	// touching every descriptor.
	phase ^= 1

	if gcDebug {
		println("gc: collecting,", numBlocks, "blocks,", allocSize, "bytes live")
	}

	// Mark. Everything reachable from the root set, plus everything
	// reachable through the interior pointers of pinned blocks: a freshly
	// allocated object can already hold the only reference to its children
	// before any handle adopts it.
	eachRoot(markPtr)
	for i := 0; i < numBlocks; i++ {
		if blocks[i].locked && !blocks[i].deleted {
			markBlock(&blocks[i])
		}
	}

	// Plan. Walk the table in address order, computing each survivor's
	// post-compaction address and packing the descriptors down. The cursor
	// never crosses a pinned block: pinned objects keep their addresses,
	// later survivors are planned past them.
	newCount := 0
	var newAllocSize, cursor uintptr
	for i := 0; i < numBlocks; i++ {
		b := &blocks[i]
		switch {
		case b.deleted:
			reclaim(b)

		case b.locked:
			*(*uintptr)(unsafe.Pointer(b.object - wordSize)) = uintptr(newCount)
			blocks[newCount] = *b
			blocks[newCount].newObject = b.object
			newAllocSize += b.size + wordSize
			if end := b.object + b.size - arenaStart; end > cursor {
				cursor = end
			}
			newCount++

		case b.markPhase == phase:
			*(*uintptr)(unsafe.Pointer(b.object - wordSize)) = uintptr(newCount)
			blocks[newCount] = *b
			blocks[newCount].newObject = arenaStart + cursor + wordSize
			newAllocSize += b.size + wordSize
			cursor += b.size + wordSize
			newCount++

		default:
			reclaim(b)
		}
	}

	// Adjust. Rewrite every handle to the planned addresses. Interior
	// chains are walked through the blocks' old payload addresses, which
	// stay valid until the move below.
	eachRoot(adjustPtr)
	for i := 0; i < newCount; i++ {
		if blocks[i].locked {
			adjustBlock(&blocks[i])
		}
	}

	// Move. Copy surviving payloads into place, low addresses first, and
	// stamp the prefix word at the destination. Sources never overlap a
	// lower destination that has not been copied yet because compaction
	// preserves address order.
	for i := 0; i < newCount; i++ {
		b := &blocks[i]
		if b.locked || b.newObject == b.object {
			b.object = b.newObject
			continue
		}
		*(*uintptr)(unsafe.Pointer(b.newObject - wordSize)) = uintptr(i)
		dst := b.newObject - arenaStart
		src := b.object - arenaStart
		copy(arena[dst:dst+b.size], arena[src:src+b.size])
		b.object = b.newObject
	}

	freed := allocSize - newAllocSize
	allocSize = newAllocSize
	numBlocks = newCount
	freeIndex = cursor
	numCycles++

	if gcDebug {
		println("gc: done,", freed, "bytes freed,", numBlocks, "blocks live")
	}
	if gcAsserts {
		if err := checkHeap(); err != nil {
			panic(err)
		}
	}
	return freed
}

// reclaim finalizes and drops a dead block. The finalizer sees the payload
// at its pre-move address; the object graph around it is already being torn
// down, so it must not follow managed pointers. The prefix word is stamped
// with an invalid index so that handles still naming this payload resolve to
// nothing instead of to whatever descriptor ends up at the old index.
func reclaim(b *block) {
	if fin := b.finalize; fin != nil {
		b.finalize = nil
		fin(unsafe.Pointer(b.object))
	}
	*(*uintptr)(unsafe.Pointer(b.object - wordSize)) = ^uintptr(0)
	heapFrees++
}

// resolveBlock maps a payload address to its descriptor during a collection,
// or nil when the handle dangles (its referent was explicitly freed and
// reclaimed). Descriptor object fields hold pre-move addresses throughout
// mark and adjust, so a live handle always matches its block exactly.
func resolveBlock(obj unsafe.Pointer) *block {
	idx := *(*uintptr)(unsafe.Add(obj, -int(wordSize)))
	if idx >= uintptr(len(blocks)) {
		return nil
	}
	b := &blocks[idx]
	if b.object != uintptr(obj) {
		return nil
	}
	return b
}

func markPtr(p *Ptr) {
	if p.object == nil {
		return
	}
	b := resolveBlock(p.object)
	if b == nil {
		return
	}
	markBlock(b)
}

func markBlock(b *block) {
	if b.markPhase == phase || b.deleted {
		return
	}
	b.markPhase = phase
	for link := b.ptrs; link != 0; {
		h := b.chainPtr(link)
		markPtr(h)
		link = h.index()
	}
}

func adjustPtr(p *Ptr) {
	if p.object == nil {
		return
	}
	b := resolveBlock(p.object)
	if b == nil {
		// The referent was explicitly freed this cycle. Defang the handle
		// rather than leave it pointing into recycled storage.
		p.object = nil
		return
	}
	p.object = unsafe.Pointer(b.newObject)
	adjustBlock(b)
}

func adjustBlock(b *block) {
	if b.adjustPhase == phase {
		return
	}
	b.adjustPhase = phase
	for link := b.ptrs; link != 0; {
		h := b.chainPtr(link)
		adjustPtr(h)
		link = h.index()
	}
}
