package detector

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kolkov/ktsan/internal/race/shadowmem"
	"github.com/kolkov/ktsan/internal/race/vectorclock"
)

// EnvOptions is the environment variable read by ConfigFromEnv.
const EnvOptions = "KTSAN_OPTIONS"

// Config holds detector settings. Zero fields take the values of
// DefaultConfig.
type Config struct {
	// Debug makes every protocol violation fatal, including the ones that
	// are otherwise only counted (non-owner unlock, bad clock tid).
	Debug bool

	// Verbose adds lifecycle lines to Output.
	Verbose bool

	// Output receives race reports and diagnostics. Default os.Stderr.
	Output io.Writer

	// Threads is the size of the thread ID pool, at most
	// vectorclock.MaxThreads.
	Threads int

	// SyncObjects bounds the number of live sync objects.
	SyncObjects int

	// MemBlocks bounds the number of registered memory blocks.
	MemBlocks int

	// ShadowCells bounds the number of tracked 8-byte granules.
	ShadowCells int

	// TraceSegments and TraceSegmentSize shape each thread's event ring.
	TraceSegments    int
	TraceSegmentSize int

	// PCPrefix restores the high pc bits dropped by trace events.
	PCPrefix uintptr

	// Evict picks the shadow slot overwritten when a granule is full.
	// Default shadowmem.ClockModulo.
	Evict shadowmem.EvictFunc

	// Suppressions lists pc ranges whose races are not reported.
	Suppressions []Suppression

	// Symbolizer resolves report pcs. Default RuntimeSymbolizer.
	Symbolizer Symbolizer

	// OnReport, when set, is called with every printed report.
	OnReport func(*Report)
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		Output:           os.Stderr,
		Threads:          vectorclock.MaxThreads,
		SyncObjects:      1 << 14,
		MemBlocks:        1 << 12,
		ShadowCells:      1 << 18,
		TraceSegments:    8,
		TraceSegmentSize: 2048,
		Evict:            shadowmem.ClockModulo,
		Symbolizer:       RuntimeSymbolizer{},
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Output == nil {
		c.Output = def.Output
	}
	if c.Threads == 0 {
		c.Threads = def.Threads
	}
	if c.SyncObjects == 0 {
		c.SyncObjects = def.SyncObjects
	}
	if c.MemBlocks == 0 {
		c.MemBlocks = def.MemBlocks
	}
	if c.ShadowCells == 0 {
		c.ShadowCells = def.ShadowCells
	}
	if c.TraceSegments == 0 {
		c.TraceSegments = def.TraceSegments
	}
	if c.TraceSegmentSize == 0 {
		c.TraceSegmentSize = def.TraceSegmentSize
	}
	if c.Evict == nil {
		c.Evict = def.Evict
	}
	if c.Symbolizer == nil {
		c.Symbolizer = def.Symbolizer
	}
	return c
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Threads < 0 || c.Threads > vectorclock.MaxThreads:
		return fmt.Errorf("threads: %d out of range [1, %d]", c.Threads, vectorclock.MaxThreads)
	case c.SyncObjects < 0:
		return fmt.Errorf("sync_objects: negative value %d", c.SyncObjects)
	case c.MemBlocks < 0:
		return fmt.Errorf("mem_blocks: negative value %d", c.MemBlocks)
	case c.ShadowCells < 0:
		return fmt.Errorf("shadow_cells: negative value %d", c.ShadowCells)
	case c.TraceSegments < 0 || c.TraceSegmentSize < 0:
		return errors.New("trace_segments and trace_segment_size must not be negative")
	}
	for i, s := range c.Suppressions {
		if s.Hi < s.Lo {
			return fmt.Errorf("suppression %d (%s): empty range [%#x, %#x)", i, s.Name, s.Lo, s.Hi)
		}
	}
	return nil
}

// ConfigFromEnv returns DefaultConfig updated with the options in
// KTSAN_OPTIONS, a space-separated list of name=value pairs:
//
//	KTSAN_OPTIONS="debug=1 verbose=1 sync_objects=4096 pc_prefix=0xffff000000000000"
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := ParseOptions(os.Getenv(EnvOptions), &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", EnvOptions, err)
	}
	return cfg, nil
}

// ParseOptions applies an option string to cfg.
func ParseOptions(opts string, cfg *Config) error {
	for _, field := range strings.Fields(opts) {
		name, value, ok := strings.Cut(field, "=")
		if !ok {
			return fmt.Errorf("option %q: missing value", field)
		}
		if err := setOption(cfg, name, value); err != nil {
			return fmt.Errorf("option %s: %w", name, err)
		}
	}
	return nil
}

func setOption(cfg *Config, name, value string) error {
	switch name {
	case "debug":
		return parseBool(value, &cfg.Debug)
	case "verbose":
		return parseBool(value, &cfg.Verbose)
	case "threads":
		return parseInt(value, &cfg.Threads)
	case "sync_objects":
		return parseInt(value, &cfg.SyncObjects)
	case "mem_blocks":
		return parseInt(value, &cfg.MemBlocks)
	case "shadow_cells":
		return parseInt(value, &cfg.ShadowCells)
	case "trace_segments":
		return parseInt(value, &cfg.TraceSegments)
	case "trace_segment_size":
		return parseInt(value, &cfg.TraceSegmentSize)
	case "pc_prefix":
		v, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return err
		}
		cfg.PCPrefix = uintptr(v)
		return nil
	default:
		return errors.New("unknown option")
	}
}

func parseBool(s string, dst *bool) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func parseInt(s string, dst *int) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("negative value %d", v)
	}
	*dst = v
	return nil
}
