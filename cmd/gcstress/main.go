// gcstress exercises the collector with allocation-heavy workloads and
// reports throughput and reclamation numbers.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"

	"github.com/pmlopes/gogc/gc"
	"github.com/pmlopes/gogc/heapopts"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "YAML heap options file",
	}
	arenaSizeFlag = &cli.StringFlag{
		Name:  "arena-size",
		Usage: "arena size, e.g. 64MB",
	}
	roundsFlag = &cli.IntFlag{
		Name:  "rounds",
		Value: 100,
		Usage: "number of measurement rounds",
	}
	objectsFlag = &cli.IntFlag{
		Name:  "objects",
		Value: 65000,
		Usage: "object graphs built per round",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Value: 4,
		Usage: "concurrent allocating goroutines (soak)",
	}
	durationFlag = &cli.DurationFlag{
		Name:  "duration",
		Value: 30 * time.Second,
		Usage: "how long to run (soak)",
	}
)

func main() {
	app := &cli.App{
		Name:  "gcstress",
		Usage: "stress and performance harness for the compacting collector",
		Flags: []cli.Flag{configFlag, arenaSizeFlag},
		Commands: []*cli.Command{
			{
				Name:   "churn",
				Usage:  "overwrite a single root with fresh object graphs as fast as possible",
				Flags:  []cli.Flag{roundsFlag, objectsFlag},
				Action: runChurn,
			},
			{
				Name:   "soak",
				Usage:  "long-running mixed workload across goroutines",
				Flags:  []cli.Flag{workersFlag, durationFlag},
				Action: runSoak,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "gcstress:", err)
		os.Exit(1)
	}
}

// setupHeap resolves the configuration (file, then environment, then
// command line) and initializes the collector with it.
func setupHeap(ctx *cli.Context, multithreaded bool) error {
	opts := heapopts.Default()
	var err error
	if path := ctx.String(configFlag.Name); path != "" {
		if opts, err = heapopts.Load(path); err != nil {
			return err
		}
	}
	if opts, err = heapopts.FromEnv(opts); err != nil {
		return err
	}
	if raw := ctx.String(arenaSizeFlag.Name); raw != "" {
		size, err := bytesize.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid --arena-size: %w", err)
		}
		opts.ArenaSize = heapopts.Size(size)
	}
	if multithreaded {
		opts.Multithreaded = true
	}
	return gc.Initialize(opts.HeapConfig())
}

func reportStats(elapsed time.Duration, graphs int) {
	var m gc.MemStats
	gc.ReadMemStats(&m)
	perGraph := time.Duration(0)
	if graphs > 0 {
		perGraph = elapsed / time.Duration(graphs)
	}
	fmt.Printf("built %d graphs in %v (%v per graph)\n", graphs, elapsed.Round(time.Millisecond), perGraph)
	fmt.Printf("heap: %s live in %d blocks, %s allocated in total, %d collections\n",
		bytesize.New(float64(m.Alloc)), m.LiveBlocks,
		bytesize.New(float64(m.TotalAlloc)), m.NumGC)
}
