package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/urfave/cli/v2"

	"github.com/pmlopes/gogc/gc"
)

var errHeapFull = errors.New("heap exhausted; shrink the workload or grow the arena")

// big is a bulky leaf object, for pushing bytes through the allocator.
type big struct {
	data [500]int32
}

// foo and bar form a two-object cycle, the case reference counting cannot
// reclaim.
type foo struct {
	bar gc.Ref[bar]
}

type bar struct {
	foo gc.Ref[foo]
}

// composite ties a big payload and a cyclic pair together behind one
// handle.
type composite struct {
	big gc.Ref[big]
	foo gc.Ref[foo]
	bar gc.Ref[bar]
}

func newComposite() *composite {
	c := gc.New[composite]()
	if c == nil {
		return nil
	}
	b := gc.New[big]()
	f := gc.New[foo]()
	r := gc.New[bar]()
	if b == nil || f == nil || r == nil {
		return nil
	}
	c.big.Set(b)
	c.foo.Set(f)
	c.bar.Set(r)
	f.bar.Set(r)
	r.foo.Set(f)
	return c
}

// runChurn keeps exactly one graph reachable while building new ones as
// fast as possible, so almost every allocation becomes garbage for the next
// collection.
func runChurn(ctx *cli.Context) error {
	if err := setupHeap(ctx, false); err != nil {
		return err
	}
	defer gc.Teardown()

	rounds := ctx.Int(roundsFlag.Name)
	objects := ctx.Int(objectsFlag.Name)

	root := gc.NewRef[composite]()
	defer root.Release()

	start := time.Now()
	for r := 0; r < rounds; r++ {
		for i := 0; i < objects; i++ {
			c := newComposite()
			if c == nil {
				return errHeapFull
			}
			root.Set(c)
		}
	}
	elapsed := time.Since(start)

	freed := gc.Collect()
	reportStats(elapsed, rounds*objects)
	fmt.Printf("final collection reclaimed %s\n", bytesize.New(float64(freed)))
	return nil
}

// runSoak hammers the heap from several goroutines at once with a mix of
// graph building and periodic explicit collections. It makes no explicit
// frees; old graphs become garbage when a worker's root is overwritten.
func runSoak(ctx *cli.Context) error {
	if err := setupHeap(ctx, true); err != nil {
		return err
	}
	defer gc.Teardown()

	workers := ctx.Int(workersFlag.Name)
	deadline := time.Now().Add(ctx.Duration(durationFlag.Name))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var graphs int
	var failed bool

	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			root := gc.NewRef[composite]()
			defer root.Release()
			n := 0
			for time.Now().Before(deadline) {
				c := newComposite()
				if c == nil {
					mu.Lock()
					failed = true
					mu.Unlock()
					return
				}
				root.Set(c)
				n++
				if n%(1000+seed) == 0 {
					gc.Collect()
				}
			}
			mu.Lock()
			graphs += n
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if failed {
		return errHeapFull
	}
	reportStats(elapsed, graphs)
	return nil
}
