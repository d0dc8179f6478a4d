// Package heapopts loads the collector configuration from defaults, YAML
// files and the environment.
package heapopts

import (
	"fmt"
	"os"
	"strconv"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"

	"github.com/pmlopes/gogc/gc"
)

// Size is a byte count that accepts both plain integers and human-readable
// strings ("64MB", "512KB") in YAML and in the environment.
type Size bytesize.ByteSize

func (s Size) String() string {
	return bytesize.ByteSize(s).String()
}

func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n uint64
	if err := unmarshal(&n); err == nil {
		*s = Size(n)
		return nil
	}
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return s.parse(raw)
}

func (s *Size) parse(raw string) error {
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
		*s = Size(n)
		return nil
	}
	v, err := bytesize.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", raw, err)
	}
	*s = Size(v)
	return nil
}

// Options is the full collector configuration.
type Options struct {
	// ArenaSize is the size of the managed arena.
	ArenaSize Size `yaml:"arena-size"`

	// MaxBlocks bounds the number of simultaneously live objects.
	MaxBlocks int `yaml:"max-blocks"`

	// MaxRoots bounds the number of simultaneously live root handles.
	MaxRoots int `yaml:"max-roots"`

	// Multithreaded makes heap operations take the process-wide lock.
	Multithreaded bool `yaml:"multithreaded"`
}

// Default returns the stock configuration: a 64 MiB arena with room for
// 262144 objects and as many roots, locking enabled.
func Default() Options {
	return Options{
		ArenaSize:     Size(gc.DefaultArenaBytes),
		MaxBlocks:     gc.DefaultMaxBlocks,
		MaxRoots:      gc.DefaultMaxRoots,
		Multithreaded: true,
	}
}

// Load reads a YAML options file on top of the defaults. Unknown keys are
// rejected.
func Load(path string) (Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("heapopts: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &opts); err != nil {
		return opts, fmt.Errorf("heapopts: %s: %w", path, err)
	}
	return opts, opts.Validate()
}

// Environment variable names honored by FromEnv.
const (
	envArenaSize     = "GOGC_ARENA_SIZE"
	envMaxBlocks     = "GOGC_MAX_BLOCKS"
	envMaxRoots      = "GOGC_MAX_ROOTS"
	envMultithreaded = "GOGC_MULTITHREADED"
)

// FromEnv applies environment overrides on top of opts and returns the
// result.
func FromEnv(opts Options) (Options, error) {
	if v := os.Getenv(envArenaSize); v != "" {
		if err := opts.ArenaSize.parse(v); err != nil {
			return opts, fmt.Errorf("heapopts: %s: %w", envArenaSize, err)
		}
	}
	if v := os.Getenv(envMaxBlocks); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("heapopts: %s: %w", envMaxBlocks, err)
		}
		opts.MaxBlocks = n
	}
	if v := os.Getenv(envMaxRoots); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("heapopts: %s: %w", envMaxRoots, err)
		}
		opts.MaxRoots = n
	}
	if v := os.Getenv(envMultithreaded); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("heapopts: %s: %w", envMultithreaded, err)
		}
		opts.Multithreaded = b
	}
	return opts, opts.Validate()
}

// Validate rejects configurations the collector cannot run with.
func (o Options) Validate() error {
	if o.ArenaSize < 4096 {
		return fmt.Errorf("heapopts: arena size %s is below the 4096-byte minimum", o.ArenaSize)
	}
	if o.MaxBlocks < 2 {
		return fmt.Errorf("heapopts: max-blocks %d is below the minimum of 2", o.MaxBlocks)
	}
	if o.MaxRoots < 2 {
		return fmt.Errorf("heapopts: max-roots %d is below the minimum of 2", o.MaxRoots)
	}
	return nil
}

// HeapConfig converts the options into the collector's configuration.
func (o Options) HeapConfig() gc.Config {
	return gc.Config{
		ArenaBytes:    uintptr(o.ArenaSize),
		MaxBlocks:     o.MaxBlocks,
		MaxRoots:      o.MaxRoots,
		Multithreaded: o.Multithreaded,
	}
}
