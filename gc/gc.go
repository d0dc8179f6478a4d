// Package gc implements a precise, compacting, tracing garbage collector
// over a fixed-size memory arena.
//
// All managed objects live in a single contiguous arena. Allocation is a bump
// of the free cursor; every allocation is preceded by one word holding the
// index of its descriptor in the block table. Managed pointers (Ptr) are
// two-word handles that register themselves with the collector: a handle
// whose own storage lies inside the arena is an interior pointer of the
// object that contains it, any other handle is a root. Interior pointers of
// one object are threaded into a chain whose head lives in the object's
// block descriptor and whose links are stored in the handles themselves.
//
// A collection cycle has four passes. The mark pass follows every root and
// every interior chain, tagging reachable blocks with the current phase bit.
// The plan pass walks the block table in address order and assigns each
// survivor its post-compaction address; freshly allocated blocks that no
// handle has adopted yet are pinned in place, and the compaction cursor
// steps over them. The adjust pass rewrites every handle (roots first, then
// interior chains) to the planned addresses. The move pass finally copies
// surviving payloads down to their new locations.
//
// The arena, block table and root pool are process-wide. Mutation is
// serialized by one reentrant lock; the collector runs synchronously on the
// goroutine that triggered it.
package gc

import (
	"os"
	"unsafe"

	"github.com/pmlopes/gogc/diagnostics"
)

// Indirection for tests of the fatal path.
var osExit = os.Exit

// Turning this on prints a trace of collector activity. Only useful when
// debugging the collector itself.
const gcDebug = false

// Extra internal consistency checks, at some runtime cost.
const gcAsserts = false

const wordSize = unsafe.Sizeof(uintptr(0))

// Defaults used when the heap is initialized lazily, without an explicit
// Initialize call.
const (
	DefaultArenaBytes = 64 * 1024 * 1024
	DefaultMaxBlocks  = 262144
	DefaultMaxRoots   = 262144
)

// Config carries the heap parameters. The zero value of any field selects
// its default.
type Config struct {
	// ArenaBytes is the total size of the arena all managed objects are
	// carved from. It is rounded up to a multiple of 8.
	ArenaBytes uintptr

	// MaxBlocks bounds the number of simultaneously live allocations.
	MaxBlocks int

	// MaxRoots bounds the number of simultaneously live handles stored
	// outside the arena.
	MaxRoots int

	// Multithreaded selects whether heap operations take the process-wide
	// lock. Leave it off for single-goroutine programs to skip the locking
	// overhead entirely.
	Multithreaded bool
}

func (c *Config) setDefaults() {
	if c.ArenaBytes == 0 {
		c.ArenaBytes = DefaultArenaBytes
	}
	c.ArenaBytes = align8(c.ArenaBytes)
	if c.MaxBlocks == 0 {
		c.MaxBlocks = DefaultMaxBlocks
	}
	if c.MaxRoots == 0 {
		c.MaxRoots = DefaultMaxRoots
	}
}

// The whole heap state. One instance per address space: block prefix words
// and handle registration use absolute addresses, so a second arena could
// not tell its own pointers apart from the first one's.
var (
	heapConfig Config
	arena      []byte
	arenaStart uintptr
	arenaEnd   uintptr

	phase     uintptr // current collection phase bit (0 or 1)
	allocSize uintptr // live bytes, including prefix words
	freeIndex uintptr // bump cursor into the arena

	blocks    []block
	numBlocks int

	roots       []rootNode
	rootFree    uintptr // head of the free node list
	rootDeleted uintptr // head of the recycled node list

	heapMallocs uint64
	heapFrees   uint64
	totalAlloc  uint64
	numCycles   uint32
)

func align8(n uintptr) uintptr {
	return (n + 7) &^ 7
}

// Initialize sets up the heap with the given configuration. It fails if the
// heap is already live, whether from an earlier Initialize or from a lazy
// initialization triggered by any other heap operation.
func Initialize(cfg Config) error {
	initMu.Lock()
	defer initMu.Unlock()
	if initialized {
		return diagnostics.Diagnostic{
			Kind: diagnostics.KindConfig,
			Msg:  "heap is already initialized",
		}
	}
	cfg.setDefaults()
	return initHeap(cfg)
}

// ensureInit performs the lazy, idempotent initialization every public
// operation goes through. The C-family version of this collector hid the
// same thing behind a static constructor.
func ensureInit() {
	initMu.Lock()
	defer initMu.Unlock()
	if initialized {
		return
	}
	var cfg Config
	cfg.setDefaults()
	if err := initHeap(cfg); err != nil {
		fatal(diagnostics.Diagnostic{
			Kind: diagnostics.KindConfig,
			Msg:  err.Error(),
		})
	}
}

func initHeap(cfg Config) error {
	mem, err := reserveArena(cfg.ArenaBytes)
	if err != nil {
		return diagnostics.Diagnostic{
			Kind: diagnostics.KindConfig,
			Msg:  "cannot reserve arena: " + err.Error(),
		}
	}

	heapConfig = cfg
	arena = mem
	arenaStart = uintptr(unsafe.Pointer(&arena[0]))
	arenaEnd = arenaStart + cfg.ArenaBytes

	phase = 0
	allocSize = 0
	freeIndex = 0
	blocks = make([]block, cfg.MaxBlocks)
	numBlocks = 0
	heapMallocs = 0
	heapFrees = 0
	totalAlloc = 0
	numCycles = 0

	initRoots(cfg.MaxRoots)

	if gcDebug {
		println("gc: arena", arenaStart, "..", arenaEnd,
			"blocks", cfg.MaxBlocks, "roots", cfg.MaxRoots)
	}

	initialized = true
	return nil
}

// Teardown finalizes every live object in reverse allocation order, so that
// objects allocated late (typically children) go away before the memory of
// objects allocated early is released, and returns the arena to the system.
// The heap can be initialized again afterwards.
func Teardown() {
	initMu.Lock()
	defer initMu.Unlock()
	if !initialized {
		return
	}

	lock()
	for i := numBlocks - 1; i >= 0; i-- {
		b := &blocks[i]
		if b.deleted || b.finalize == nil {
			continue
		}
		fin := b.finalize
		b.finalize = nil
		fin(unsafe.Pointer(b.object))
	}
	unlock()

	releaseArena(arena)
	arena = nil
	arenaStart = 0
	arenaEnd = 0
	blocks = nil
	numBlocks = 0
	roots = nil
	rootFree = 0
	rootDeleted = 0
	allocSize = 0
	freeIndex = 0
	initialized = false
}

// fatalHook is what the fatal path calls after building the diagnostic. The
// default prints it to standard error and terminates the process. Tests
// replace it to observe the diagnostic instead.
var fatalHook = func(d diagnostics.Diagnostic) {
	d.WriteTo(diagnostics.Stderr())
	osExit(1)
}

func fatal(d diagnostics.Diagnostic) {
	d.LiveBlocks = numBlocks
	d.LiveBytes = uint64(allocSize)
	d.ArenaBytes = uint64(len(arena))
	fatalHook(d)
	// Only reached when a test hook returned.
	panic("gc: " + d.Msg)
}
