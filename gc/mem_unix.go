//go:build linux || darwin || freebsd || netbsd || openbsd

package gc

import "golang.org/x/sys/unix"

// reserveArena maps an anonymous private region for the arena. Mapped pages
// are page-aligned, which satisfies the collector's 8-byte alignment, and
// stay untouched by the Go allocator, so block addresses are stable for the
// lifetime of the heap.
func reserveArena(size uintptr) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return mem, nil
}

func releaseArena(mem []byte) {
	if mem != nil {
		unix.Munmap(mem)
	}
}
