// Package diagnostics formats collector faults and prints them in a
// consistent way.
package diagnostics

import (
	"fmt"
	"io"
	"os"

	"github.com/inhies/go-bytesize"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Kind classifies a diagnostic.
type Kind int

const (
	// KindConfig reports an unusable heap configuration.
	KindConfig Kind = iota

	// KindOutOfRoots reports an exhausted root pool: more managed
	// pointers live outside the arena than the pool has nodes, with
	// nothing left to recycle.
	KindOutOfRoots

	// KindInvalidInterior reports a managed pointer whose storage lies
	// inside the arena but inside no live object. This means memory
	// corruption or a handle placed into reclaimed storage.
	KindInvalidInterior

	// KindCorruption reports an inconsistency between a payload and the
	// block table.
	KindCorruption
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindOutOfRoots:
		return "out of roots"
	case KindInvalidInterior:
		return "invalid interior pointer"
	case KindCorruption:
		return "heap corruption"
	default:
		return "unknown"
	}
}

// A single collector diagnostic, with a snapshot of the heap at the moment
// it was raised.
type Diagnostic struct {
	Kind Kind
	Msg  string

	LiveBlocks int
	LiveBytes  uint64
	ArenaBytes uint64
}

// Diagnostic doubles as an error so packages can hand it up a call chain.
func (d Diagnostic) Error() string {
	return "gc: " + d.Kind.String() + ": " + d.Msg
}

// WriteTo renders the diagnostic. When w is a Writer returned by Stderr and
// standard error is a terminal, the header is colored.
func (d Diagnostic) WriteTo(w io.Writer) {
	header := fmt.Sprintf("gc: %s", d.Kind)
	if cw, ok := w.(*consoleWriter); ok && cw.color {
		header = "\x1b[1;31m" + header + "\x1b[0m"
	}
	fmt.Fprintf(w, "%s: %s\n", header, d.Msg)
	if d.ArenaBytes != 0 {
		fmt.Fprintf(w, "\theap: %d live blocks, %s live, %s arena\n",
			d.LiveBlocks,
			bytesize.New(float64(d.LiveBytes)),
			bytesize.New(float64(d.ArenaBytes)))
	}
}

type consoleWriter struct {
	io.Writer
	color bool
}

// Stderr returns a writer for standard error that renders ANSI colors
// portably when standard error is attached to a terminal.
func Stderr() io.Writer {
	fd := os.Stderr.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return &consoleWriter{Writer: colorable.NewColorableStderr(), color: true}
	}
	return &consoleWriter{Writer: colorable.NewNonColorable(os.Stderr), color: false}
}
