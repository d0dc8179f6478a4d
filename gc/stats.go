package gc

import "unsafe"

// MemStats is a snapshot of heap statistics.
type MemStats struct {
	// Alloc is the number of live bytes in the arena, prefix words
	// included.
	Alloc uint64

	// TotalAlloc is the cumulative number of bytes requested from Alloc
	// since initialization.
	TotalAlloc uint64

	// Mallocs and Frees count allocations and reclaimed objects. Live
	// objects are Mallocs - Frees.
	Mallocs uint64
	Frees   uint64

	// HeapSys is the arena size. HeapIdle is what the bump cursor can
	// still hand out before the next collection.
	HeapSys  uint64
	HeapIdle uint64

	// LiveBlocks is the number of entries in use in the block table.
	LiveBlocks uint64

	// NumGC is the number of completed collection cycles.
	NumGC uint32
}

// ReadMemStats populates m. It does not trigger a collection.
func ReadMemStats(m *MemStats) {
	ensureInit()
	lock()
	defer unlock()

	m.Alloc = uint64(allocSize)
	m.TotalAlloc = totalAlloc
	m.Mallocs = heapMallocs
	m.Frees = heapFrees
	m.HeapSys = uint64(len(arena))
	m.HeapIdle = uint64(uintptr(len(arena)) - freeIndex)
	m.LiveBlocks = uint64(numBlocks)
	m.NumGC = numCycles
}

// dumpHeap prints the block table, for debugging the collector.
func dumpHeap() {
	println("heap:", numBlocks, "blocks,", allocSize, "bytes live, cursor", freeIndex)
	for i := 0; i < numBlocks; i++ {
		b := &blocks[i]
		state := "live"
		switch {
		case b.deleted:
			state = "deleted"
		case b.locked:
			state = "pinned"
		}
		println(" block", i, "at", b.object-arenaStart, "size", b.size, state)
	}
}

// checkHeap verifies the structural invariants of the arena, the block
// table and the root pool. It is exercised by the tests and, when
// gcAsserts is on, after every collection.
func checkHeap() error {
	if freeIndex > uintptr(len(arena)) {
		return heapFault("bump cursor past the arena end")
	}
	if allocSize > uintptr(len(arena)) {
		return heapFault("live bytes exceed the arena size")
	}
	if numBlocks > len(blocks) {
		return heapFault("block count exceeds the table capacity")
	}

	var sum uintptr
	for i := 0; i < numBlocks; i++ {
		b := &blocks[i]
		if b.object < arenaStart+wordSize || b.object+b.size > arenaEnd {
			return heapFault("block payload outside the arena")
		}
		if idx := *(*uintptr)(unsafe.Pointer(b.object - wordSize)); idx != uintptr(i) {
			return heapFault("payload prefix does not match the block index")
		}
		if (b.size+wordSize)%8 != 0 {
			return heapFault("block size is not aligned")
		}
		sum += b.size + wordSize

		// The interior chain must stay inside the payload and terminate.
		steps := 0
		for link := b.ptrs; link != 0; {
			if link < wordSize || link+unsafe.Sizeof(Ptr{}) > b.size+wordSize {
				return heapFault("interior chain link outside the payload")
			}
			if steps++; steps > int(b.size/unsafe.Sizeof(Ptr{}))+1 {
				return heapFault("interior chain does not terminate")
			}
			link = b.chainPtr(link).index()
		}
	}
	if sum != allocSize {
		return heapFault("live byte count out of sync with the block table")
	}

	// Free list, recycle list and live roots must partition the pool.
	seen := 0
	for i := rootFree; i != 0; i = roots[i].next {
		seen++
		if seen > len(roots) {
			return heapFault("root free list does not terminate")
		}
	}
	for i := rootDeleted; i != 0; i = roots[i].next {
		seen++
		if seen > len(roots) {
			return heapFault("root recycle list does not terminate")
		}
	}
	if rootFree != 0 {
		for i := roots[rootFree].prev; i != 0; i = roots[i].prev {
			if roots[i].ptr == nil {
				return heapFault("live root node without a handle")
			}
			seen++
			if seen > len(roots) {
				return heapFault("live root list does not terminate")
			}
		}
	}
	if seen != len(roots)-1 {
		return heapFault("root pool nodes lost or duplicated")
	}
	return nil
}

type heapFault string

func (f heapFault) Error() string { return "gc: " + string(f) }
