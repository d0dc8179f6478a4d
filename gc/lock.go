package gc

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// initMu guards initialization and teardown. It is separate from the heap
// lock because the heap lock's behavior depends on the configuration being
// loaded.
var initMu sync.Mutex

var initialized bool

// The process-wide heap lock. Finalizers run while a collection holds it, so
// it has to be reentrant: the owning goroutine may lock it again without
// deadlocking. Ownership is tracked by goroutine id, which makes reentry
// detection safe to evaluate from any goroutine, unlike a plain "already
// locked" flag.
var heapLock reentrantMutex

type reentrantMutex struct {
	mu    sync.Mutex
	owner atomic.Int64
	depth int
}

func (m *reentrantMutex) lock() {
	id := goroutineID()
	if m.owner.Load() == id {
		m.depth++
		return
	}
	m.mu.Lock()
	m.owner.Store(id)
	m.depth = 1
}

func (m *reentrantMutex) unlock() {
	m.depth--
	if m.depth == 0 {
		m.owner.Store(0)
		m.mu.Unlock()
	}
}

func lock() {
	if heapConfig.Multithreaded {
		heapLock.lock()
	}
}

func unlock() {
	if heapConfig.Multithreaded {
		heapLock.unlock()
	}
}

// goroutineID returns the current goroutine's id by parsing the first line
// of the stack trace ("goroutine N [running]:"). The runtime does not expose
// the id directly.
func goroutineID() int64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	var id int64
	for _, c := range buf[len("goroutine "):n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
