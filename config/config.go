// Package config handles cinder.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/cindervm/cinder/rt"
)

// Config represents a cinder.toml runtime configuration.
type Config struct {
	Heap HeapConfig `toml:"heap"`
	GC   GCConfig   `toml:"gc"`
	Log  LogConfig  `toml:"log"`
}

// HeapConfig tunes the object store.
type HeapConfig struct {
	// Capacity bounds the number of live records. 0 selects the default.
	Capacity int `toml:"capacity"`
}

// GCConfig tunes the generational collector.
type GCConfig struct {
	// Interval is how often the background collector checks the
	// allocation threshold, e.g. "5s".
	Interval duration `toml:"interval"`

	// Threshold is the allocation count since the last cycle that makes
	// the background collector run one.
	Threshold uint64 `toml:"threshold"`

	// MinorRatio collects generation 1 every N cycles; MajorRatio
	// collects generation 2 every MinorRatio*MajorRatio cycles.
	MinorRatio uint64 `toml:"minor_ratio"`
	MajorRatio uint64 `toml:"major_ratio"`
}

// LogConfig tunes runtime logging.
type LogConfig struct {
	// Verbosity maps to commonlog verbosity: 0 = errors and warnings,
	// 1 adds notices, 2 adds info, 3 adds debug.
	Verbosity int `toml:"verbosity"`
}

// duration wraps time.Duration for TOML string parsing ("5s", "250ms").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Heap: HeapConfig{Capacity: rt.DefaultHeapCapacity},
		GC: GCConfig{
			Interval:   duration{rt.DefaultGCInterval},
			Threshold:  rt.DefaultGCThreshold,
			MinorRatio: rt.DefaultMinorRatio,
			MajorRatio: rt.DefaultMajorRatio,
		},
	}
}

// Load reads and validates a cinder.toml file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Heap.Capacity < 0 {
		return fmt.Errorf("heap.capacity must be >= 0, got %d", c.Heap.Capacity)
	}
	if c.GC.Interval.Duration < 0 {
		return fmt.Errorf("gc.interval must be >= 0, got %s", c.GC.Interval.Duration)
	}
	if c.Log.Verbosity < 0 {
		return fmt.Errorf("log.verbosity must be >= 0, got %d", c.Log.Verbosity)
	}
	return nil
}

// Options converts the configuration into runtime options.
func (c *Config) Options() rt.Options {
	return rt.Options{
		HeapCapacity: c.Heap.Capacity,
		GCInterval:   c.GC.Interval.Duration,
		GCThreshold:  c.GC.Threshold,
		MinorRatio:   c.GC.MinorRatio,
		MajorRatio:   c.GC.MajorRatio,
	}
}

// ApplyLogging configures the commonlog backend from the log section.
func (c *Config) ApplyLogging() {
	commonlog.Configure(c.Log.Verbosity, nil)
}
